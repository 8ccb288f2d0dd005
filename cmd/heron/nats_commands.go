package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/heronlabs/heron/service/nats"
)

// subscribeCommand subscribes to lifecycle events for a wallet.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to lifecycle events for a wallet",
		ArgsUsage: "WALLET_ID",
		Description: `Subscribe to real-time lifecycle events published to NATS JetStream.

Events are published to the subject: txns.{wallet_id} as a transaction
moves through queued, submitted, confirmed and failed.

Example:
  heron nats subscribe 6a1f86a3-27a7-4816-9c2b-91b4a21d6fd3 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "heron-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet id is required")
			}

			return streamLifecycleEvents(
				c.Args().Get(0),
				c.String("nats-url"),
				c.Bool("durable"),
				c.String("consumer-name"),
				c.Bool("json"),
			)
		},
	}
}

// streamLifecycleEvents connects to NATS and streams lifecycle events.
func streamLifecycleEvents(walletID, natsURL string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := fmt.Sprintf("txns.%s", walletID)

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", natsURL)
		if durable {
			fmt.Printf("   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Printf("\nWaiting for lifecycle events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	cons, err := js.CreateOrUpdateConsumer(context.Background(), natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	msgChan := make(chan jetstream.Msg, 10)
	go func() {
		_, _ = cons.Consume(func(msg jetstream.Msg) {
			msgChan <- msg
		})
	}()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.LifecycleEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}

			count++

			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Println(string(data))
			} else {
				fmt.Printf("Transaction:  %s\n", event.TransactionID)
				fmt.Printf("Status:       %s\n", event.Status)
				if event.TxHash != nil {
					fmt.Printf("Tx Hash:      %s\n", *event.TxHash)
				}
				if event.Fee != nil {
					fmt.Printf("Fee:          %d lovelace\n", *event.Fee)
				}
				if event.RetryCount > 0 {
					fmt.Printf("Retries:      %d\n", event.RetryCount)
				}
				if event.ErrorMessage != nil {
					fmt.Printf("Error:        %s\n", *event.ErrorMessage)
				}
				fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
				fmt.Printf("\n")
			}

			msg.Ack()

		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
				fmt.Println("Shutting down...")
			}
			return nil
		}
	}
}

// publishChainEventCommand injects a chain event, as the block follower
// would, to drive the confirmation flow by hand.
func publishChainEventCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish-chain-event",
		Usage:     "Publish a chain event for a transaction hash (testing aid)",
		ArgsUsage: "TX_HASH",
		Description: `Publish a synthetic chain event to the chain.events subject. The
confirmation worker will mark the matching submitted transaction as
confirmed, exactly as if the hash had been observed in a block.

Example:
  heron nats publish-chain-event 3fa85f64... --slot 12345678`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "block-hash",
				Usage: "Block hash to attach to the event",
			},
			&cli.Uint64Flag{
				Name:  "slot",
				Usage: "Slot the transaction was observed in",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("transaction hash is required")
			}

			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			event := natspkg.ChainEvent{
				TxHash:    c.Args().Get(0),
				BlockHash: c.String("block-hash"),
				Slot:      c.Uint64("slot"),
				BlockTime: time.Now().UTC(),
			}
			data, err := json.Marshal(event)
			if err != nil {
				return fmt.Errorf("failed to marshal chain event: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if _, err := js.Publish(ctx, natspkg.ChainSubject, data); err != nil {
				return fmt.Errorf("failed to publish chain event: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(event)
			}
			fmt.Printf("✓ Chain event published for %s\n", event.TxHash)
			return nil
		},
	}
}

// inspectStreamCommand shows information about a JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect a JetStream stream",
		Description: `Show information about a JetStream stream including message count,
consumers, storage usage and configuration.

Example:
  heron nats inspect-stream --stream CHAIN_EVENTS`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stream",
				Usage: "Stream name",
				Value: natspkg.StreamName,
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(context.Background(), c.String("stream"))
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			fmt.Printf("\n")
			return nil
		},
	}
}
