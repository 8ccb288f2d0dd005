package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/metrics"
)

// ConfirmationStore is the slice of the database the listener needs.
type ConfirmationStore interface {
	MarkConfirmedByHash(ctx context.Context, txHash string) (*db.Transaction, error)
}

// ConfirmationListener consumes chain events from the follower stream and
// flips submitted transactions to confirmed when their hash appears in a
// block. It uses a durable consumer so restarts resume where they left off.
type ConfirmationListener struct {
	nc        *natsgo.Conn
	js        jetstream.JetStream
	store     ConfirmationStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

const confirmationConsumerName = "heron-confirmations"

// NewConfirmationListener connects to NATS and ensures the chain-events
// stream exists.
func NewConfirmationListener(natsURL string, store ConfirmationStore, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) (*ConfirmationListener, error) {
	nc, err := natsgo.Connect(natsURL,
		natsgo.Name("heron-confirmation-listener"),
		natsgo.Timeout(10*time.Second),
		natsgo.ReconnectWait(1*time.Second),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	l := &ConfirmationListener{
		nc:        nc,
		js:        js,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}

	if err := l.ensureChainStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return l, nil
}

func (l *ConfirmationListener) ensureChainStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := l.js.Stream(ctx, ChainStreamName); err == nil {
		return nil
	}

	l.logger.Info("creating JetStream stream", "stream", ChainStreamName)
	_, err := l.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        ChainStreamName,
		Description: "Transactions observed on chain by the block follower",
		Subjects:    []string{ChainSubject},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create chain stream: %w", err)
	}
	return nil
}

// Run consumes chain events until the context is cancelled.
func (l *ConfirmationListener) Run(ctx context.Context) error {
	cons, err := l.js.CreateOrUpdateConsumer(ctx, ChainStreamName, jetstream.ConsumerConfig{
		Durable:       confirmationConsumerName,
		FilterSubject: ChainSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create confirmation consumer: %w", err)
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		l.handleMessage(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming chain events: %w", err)
	}

	l.logger.Info("confirmation listener started",
		"stream", ChainStreamName,
		"consumer", confirmationConsumerName,
	)

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (l *ConfirmationListener) handleMessage(ctx context.Context, msg jetstream.Msg) {
	var event ChainEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		l.logger.Error("failed to unmarshal chain event", "error", err)
		// Malformed message will never parse; drop it.
		msg.Ack()
		return
	}

	txn, err := l.store.MarkConfirmedByHash(ctx, event.TxHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Not one of ours, or already confirmed.
			msg.Ack()
			return
		}
		l.logger.Error("failed to confirm transaction",
			"tx_hash", event.TxHash,
			"error", err,
		)
		// Transient store failure: leave unacked for redelivery.
		msg.Nak()
		return
	}

	lag := time.Since(txn.UpdatedAt)
	if txn.ConfirmedAt != nil {
		lag = txn.ConfirmedAt.Sub(txn.UpdatedAt)
	}
	l.metrics.RecordConfirmation(txn.WalletID.String(), lag.Seconds())

	l.logger.Info("transaction confirmed",
		"transaction_id", txn.ID,
		"tx_hash", event.TxHash,
		"slot", event.Slot,
	)

	if l.publisher != nil {
		if err := l.publisher.PublishLifecycle(ctx, FromDBTransaction(txn)); err != nil {
			l.logger.Error("failed to publish confirmation event",
				"transaction_id", txn.ID,
				"error", err,
			)
		}
	}

	msg.Ack()
}

// Close closes the NATS connection.
func (l *ConfirmationListener) Close() error {
	if l.nc != nil {
		l.nc.Close()
	}
	return nil
}
