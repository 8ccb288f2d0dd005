package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/heronlabs/heron/client"
)

func walletCommands() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Custodial wallet commands",
		Subcommands: []*cli.Command{
			walletCreateCommand(),
			walletGetCommand(),
			walletListCommand(),
			walletBalanceCommand(),
			walletRemoveCommand(),
		},
	}
}

// apiClient builds an HTTP client from the global server-url flag.
func apiClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func walletCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Aliases:   []string{"add"},
		Usage:     "Onboard a new custodial wallet",
		ArgsUsage: "NAME",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet name is required")
			}

			created, err := apiClient(c).CreateWallet(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(created)
			}

			fmt.Printf("✓ Wallet created\n")
			fmt.Printf("  ID:      %s\n", created.ID)
			fmt.Printf("  Name:    %s\n", created.Name)
			fmt.Printf("  Address: %s\n", created.Address)
			fmt.Printf("\nRecovery mnemonic (shown once, store it safely):\n\n  %s\n", created.Mnemonic)
			return nil
		},
	}
}

func walletGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get wallet details",
		ArgsUsage: "WALLET_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet id is required")
			}

			wallet, err := apiClient(c).GetWallet(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallet)
			}

			fmt.Printf("ID:      %s\n", wallet.ID)
			fmt.Printf("Name:    %s\n", wallet.Name)
			fmt.Printf("Address: %s\n", wallet.Address)
			fmt.Printf("Created: %s\n", wallet.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func walletListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all custodial wallets",
		Action: func(c *cli.Context) error {
			wallets, err := apiClient(c).ListWallets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(wallets)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tADDRESS\tCREATED")
			for _, wallet := range wallets {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					wallet.ID,
					wallet.Name,
					wallet.Address,
					wallet.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d wallets\n", len(wallets))
			return nil
		},
	}
}

func walletBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a wallet's aggregated unspent value",
		ArgsUsage: "WALLET_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet id is required")
			}

			balance, err := apiClient(c).GetBalance(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(balance)
			}

			fmt.Printf("Address: %s\n", balance.Address)
			fmt.Printf("UTxOs:   %d\n\n", balance.UtxoCount)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "UNIT\tQUANTITY")
			for unit, qty := range balance.Balance {
				fmt.Fprintf(w, "%s\t%s\n", unit, qty)
			}
			w.Flush()
			return nil
		},
	}
}

func walletRemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Aliases:   []string{"rm", "delete"},
		Usage:     "Remove a custodial wallet (its transaction history is kept)",
		ArgsUsage: "WALLET_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet id is required")
			}

			id := c.Args().Get(0)
			if err := apiClient(c).DeleteWallet(context.Background(), id); err != nil {
				return fmt.Errorf("failed to remove wallet: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"id": id, "status": "deleted"})
			}

			fmt.Printf("✓ Wallet %s removed\n", id)
			return nil
		},
	}
}
