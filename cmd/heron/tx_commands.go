package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/heronlabs/heron/client"
)

func txCommands() *cli.Command {
	return &cli.Command{
		Name:  "tx",
		Usage: "Transaction commands",
		Subcommands: []*cli.Command{
			txSendCommand(),
			txGetCommand(),
			txListCommand(),
			txAwaitCommand(),
		},
	}
}

func txSendCommand() *cli.Command {
	return &cli.Command{
		Name:  "send",
		Usage: "Queue a transaction for processing",
		Description: `Queue a payment, with optional mints and metadata.

Examples:
  heron tx send --wallet WALLET_ID --to addr_test1... --lovelace 2000000
  heron tx send --wallet WALLET_ID --to addr_test1... --lovelace 1500000 \
    --mint "POLICY_ID:746f6b656e:1" \
    --asset "POLICY_ID746f6b656e:1" \
    --metadata '{"674": {"msg": ["minted by heron"]}}'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wallet",
				Aliases:  []string{"w"},
				Usage:    "Sending wallet id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Destination address",
			},
			&cli.Uint64Flag{
				Name:  "lovelace",
				Usage: "Lovelace to send to the destination",
			},
			&cli.StringSliceFlag{
				Name:  "asset",
				Usage: "Asset to send, as UNIT:QUANTITY (can be repeated)",
			},
			&cli.StringSliceFlag{
				Name:  "mint",
				Usage: "Mint declaration, as POLICY_ID:ASSET_NAME_HEX:QUANTITY (can be repeated; negative quantity burns)",
			},
			&cli.StringFlag{
				Name:  "metadata",
				Usage: "Transaction metadata as a JSON object keyed by label",
			},
			&cli.StringFlag{
				Name:  "datum",
				Usage: "Inline datum JSON attached to the destination output",
			},
		},
		Action: func(c *cli.Context) error {
			req, err := buildTransactionRequest(c)
			if err != nil {
				return err
			}

			txn, err := apiClient(c).CreateTransaction(context.Background(), req)
			if err != nil {
				return fmt.Errorf("failed to send transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			fmt.Printf("✓ Transaction queued\n")
			fmt.Printf("  ID:     %s\n", txn.ID)
			fmt.Printf("  Wallet: %s\n", txn.WalletID)
			fmt.Printf("\nFollow it with: heron tx await %s\n", txn.ID)
			return nil
		},
	}
}

// buildTransactionRequest assembles the intake payload from CLI flags.
func buildTransactionRequest(c *cli.Context) (*client.TransactionRequest, error) {
	req := &client.TransactionRequest{WalletID: c.String("wallet")}

	if to := c.String("to"); to != "" {
		out := client.Output{Address: to}
		if lovelace := c.Uint64("lovelace"); lovelace > 0 {
			out.Assets = append(out.Assets, client.Asset{
				Unit:     "lovelace",
				Quantity: fmt.Sprintf("%d", lovelace),
			})
		}
		for _, spec := range c.StringSlice("asset") {
			unit, qty, ok := strings.Cut(spec, ":")
			if !ok {
				return nil, fmt.Errorf("invalid --asset %q, expected UNIT:QUANTITY", spec)
			}
			out.Assets = append(out.Assets, client.Asset{Unit: unit, Quantity: qty})
		}
		if datum := c.String("datum"); datum != "" {
			if !json.Valid([]byte(datum)) {
				return nil, fmt.Errorf("--datum must be valid JSON")
			}
			out.Datum = json.RawMessage(datum)
		}
		if len(out.Assets) == 0 {
			return nil, fmt.Errorf("--to requires --lovelace and/or --asset")
		}
		req.Outputs = append(req.Outputs, out)
	}

	for _, spec := range c.StringSlice("mint") {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid --mint %q, expected POLICY_ID:ASSET_NAME_HEX:QUANTITY", spec)
		}
		req.Mints = append(req.Mints, client.Mint{
			PolicyID:  parts[0],
			AssetName: parts[1],
			Quantity:  parts[2],
		})
	}

	if raw := c.String("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			return nil, fmt.Errorf("invalid --metadata: %w", err)
		}
	}

	if len(req.Outputs) == 0 && len(req.Mints) == 0 {
		return nil, fmt.Errorf("nothing to send: specify --to with assets and/or --mint")
	}

	return req, nil
}

func txGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get transaction details",
		ArgsUsage: "TRANSACTION_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction id is required")
			}

			txn, err := apiClient(c).GetTransaction(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			printTransaction(txn)
			return nil
		},
	}
}

func txListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List a wallet's transactions, newest first",
		ArgsUsage: "WALLET_ID",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Result offset for paging",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet id is required")
			}

			txns, err := apiClient(c).ListTransactions(context.Background(),
				c.Args().Get(0), c.Int("limit"), c.Int("offset"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txns)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTX HASH\tFEE\tRETRIES\tCREATED")
			for _, txn := range txns {
				hash := ""
				if txn.TxHash != nil {
					hash = *txn.TxHash
				}
				fee := ""
				if txn.Fee != nil {
					fee = fmt.Sprintf("%d", *txn.Fee)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					txn.ID, txn.Status, hash, fee, txn.RetryCount,
					txn.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txns))
			return nil
		},
	}
}

func txAwaitCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Block until a transaction matches the given criteria",
		ArgsUsage: "TRANSACTION_ID",
		Description: `Poll a transaction until every --must-jq filter evaluates to true
against its JSON representation, or (with no filters) until it reaches a
terminal status.

Example:
  heron tx await TX_ID --must-jq '.status == "confirmed"' --timeout 10m`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "jq filter expression that must evaluate to true (can be specified multiple times, all must match)",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "Poll interval",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("transaction id is required")
			}

			id := c.Args().Get(0)
			filters, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
			defer cancel()

			cl := apiClient(c)
			ticker := time.NewTicker(c.Duration("interval"))
			defer ticker.Stop()

			for {
				txn, err := cl.GetTransaction(ctx, id)
				if err != nil {
					return fmt.Errorf("failed to get transaction: %w", err)
				}

				done, err := transactionMatches(txn, filters)
				if err != nil {
					return err
				}
				if done {
					if c.Bool("json") {
						return outputJSON(txn)
					}
					printTransaction(txn)
					return nil
				}

				select {
				case <-ctx.Done():
					return fmt.Errorf("timed out waiting for transaction %s (last status: %s)", id, txn.Status)
				case <-ticker.C:
				}
			}
		},
	}
}

// compileJQFilters parses and compiles each jq expression up front so bad
// filters fail before the first poll.
func compileJQFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// transactionMatches reports whether the transaction satisfies every jq
// filter. With no filters it matches on a terminal status.
func transactionMatches(txn *client.Transaction, filters []*gojq.Code) (bool, error) {
	if len(filters) == 0 {
		return txn.Status == "confirmed" || txn.Status == "failed", nil
	}

	// Round-trip through JSON so filters see the wire representation.
	raw, err := json.Marshal(txn)
	if err != nil {
		return false, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}

	for _, code := range filters {
		iter := code.Run(doc)
		v, ok := iter.Next()
		if !ok {
			return false, nil
		}
		if _, isErr := v.(error); isErr {
			return false, nil
		}
		if !isTruthy(v) {
			return false, nil
		}
	}
	return true, nil
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

func printTransaction(txn *client.Transaction) {
	fmt.Printf("ID:          %s\n", txn.ID)
	fmt.Printf("Wallet:      %s\n", txn.WalletID)
	fmt.Printf("Status:      %s\n", txn.Status)
	if txn.TxHash != nil {
		fmt.Printf("Tx Hash:     %s\n", *txn.TxHash)
	}
	if txn.Fee != nil {
		fmt.Printf("Fee:         %d lovelace\n", *txn.Fee)
	}
	if txn.Size != nil {
		fmt.Printf("Size:        %d bytes\n", *txn.Size)
	}
	if txn.Error != nil {
		fmt.Printf("Error:       %s\n", *txn.Error)
	}
	fmt.Printf("Retries:     %d\n", txn.RetryCount)
	for _, out := range txn.Outputs {
		fmt.Printf("Output:      %s\n", out.Address)
		for _, a := range out.Assets {
			fmt.Printf("  %s: %s\n", a.Unit, a.Quantity)
		}
	}
	for _, m := range txn.Mints {
		fmt.Printf("Mint:        %s.%s x %s\n", m.PolicyID, m.AssetName, m.Quantity)
	}
	fmt.Printf("Created:     %s\n", txn.CreatedAt.Format(time.RFC3339))
	if txn.ConfirmedAt != nil {
		fmt.Printf("Confirmed:   %s\n", txn.ConfirmedAt.Format(time.RFC3339))
	}
}
