package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/heronlabs/heron/service/ledger"
)

func policyCommands() *cli.Command {
	return &cli.Command{
		Name:  "policy",
		Usage: "Minting policy commands",
		Subcommands: []*cli.Command{
			policyCreateCommand(),
			policyListCommand(),
		},
	}
}

func policyCreateCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Register a new minting policy",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "locking-slot",
				Usage: "Slot after which the policy locks (no more mints or burns)",
			},
			&cli.TimestampFlag{
				Name:   "locks-at",
				Usage:  "Wall-clock lock time (RFC3339), converted to a slot",
				Layout: time.RFC3339,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("policy name is required")
			}

			var lockingSlot *uint64
			if c.IsSet("locking-slot") {
				slot := c.Uint64("locking-slot")
				lockingSlot = &slot
			} else if t := c.Timestamp("locks-at"); t != nil {
				slot := ledger.SlotForTime(*t)
				lockingSlot = &slot
			}

			policy, err := apiClient(c).CreatePolicy(context.Background(), c.Args().Get(0), lockingSlot)
			if err != nil {
				return fmt.Errorf("failed to create policy: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(policy)
			}

			fmt.Printf("✓ Policy created\n")
			fmt.Printf("  Name:      %s\n", policy.Name)
			fmt.Printf("  Policy ID: %s\n", policy.PolicyID)
			if policy.LockingSlot != nil {
				fmt.Printf("  Locks at slot: %d\n", *policy.LockingSlot)
			} else {
				fmt.Printf("  Locks at slot: never\n")
			}
			return nil
		},
	}
}

func policyListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List all minting policies",
		Action: func(c *cli.Context) error {
			policies, err := apiClient(c).ListPolicies(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list policies: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(policies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPOLICY ID\tLOCKING SLOT\tCREATED")
			for _, policy := range policies {
				lock := "never"
				if policy.LockingSlot != nil {
					lock = fmt.Sprintf("%d", *policy.LockingSlot)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					policy.Name,
					policy.PolicyID,
					lock,
					policy.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d policies\n", len(policies))
			return nil
		},
	}
}
