package nats

import (
	"time"

	"github.com/heronlabs/heron/service/db"
)

// LifecycleEvent represents a transaction lifecycle change published to NATS.
// This is published to the subject "txns.{wallet_id}" in JetStream.
type LifecycleEvent struct {
	// Transaction identifiers
	TransactionID string  `json:"transaction_id"`
	TxHash        *string `json:"tx_hash,omitempty"`

	// Wallet information
	WalletID string `json:"wallet_id"`

	// Lifecycle details
	Status       string  `json:"status"`
	RetryCount   int     `json:"retry_count"`
	ErrorMessage *string `json:"error_message,omitempty"`
	Fee          *int64  `json:"fee,omitempty"`

	// Metadata
	OccurredAt  time.Time `json:"occurred_at"`
	PublishedAt time.Time `json:"published_at"`
}

// FromDBTransaction converts a database transaction to a LifecycleEvent for publishing.
func FromDBTransaction(txn *db.Transaction) *LifecycleEvent {
	return &LifecycleEvent{
		TransactionID: txn.ID.String(),
		TxHash:        txn.TxHash,
		WalletID:      txn.WalletID.String(),
		Status:        string(txn.Status),
		RetryCount:    txn.RetryCount,
		ErrorMessage:  txn.ErrorMessage,
		Fee:           txn.Fee,
		OccurredAt:    txn.UpdatedAt,
		PublishedAt:   time.Now().UTC(),
	}
}

// ChainEvent is a confirmation notice consumed from the chain-follower
// stream. Each message carries one transaction observed in a block.
type ChainEvent struct {
	TxHash    string    `json:"tx_hash"`
	BlockHash string    `json:"block_hash"`
	Slot      uint64    `json:"slot"`
	BlockTime time.Time `json:"block_time"`
}
