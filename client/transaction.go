package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Asset is a (unit, quantity) pair on a transaction output. Quantities are
// decimal strings to survive JSON number precision.
type Asset struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// Output is one requested destination of a transaction.
type Output struct {
	Address string          `json:"address"`
	Assets  []Asset         `json:"assets"`
	Datum   json.RawMessage `json:"datum,omitempty"`
}

// Mint declares an asset quantity to mint (positive) or burn (negative)
// under a registered policy. The asset name is hex encoded.
type Mint struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  string `json:"quantity"`
}

// TransactionRequest is the intake payload for a new transaction.
type TransactionRequest struct {
	WalletID string                     `json:"wallet_id"`
	Outputs  []Output                   `json:"outputs"`
	Mints    []Mint                     `json:"mint,omitempty"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// Transaction is a transaction as reported by the service.
type Transaction struct {
	ID          string         `json:"id"`
	WalletID    string         `json:"wallet_id"`
	Status      string         `json:"status"`
	TxHash      *string        `json:"tx_hash,omitempty"`
	Fee         *int64         `json:"fee,omitempty"`
	Size        *int64         `json:"size,omitempty"`
	Error       *string        `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Outputs     []Output       `json:"outputs"`
	Mints       []Mint         `json:"mint,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
}

// CreateTransaction submits a transaction for processing. The response is
// the queued record; progress is observable via GetTransaction or the
// lifecycle event stream.
func (c *Client) CreateTransaction(ctx context.Context, req *TransactionRequest) (*Transaction, error) {
	var txn Transaction
	if err := c.post(ctx, "/api/v1/transactions", req, &txn); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction created", "id", txn.ID, "wallet_id", txn.WalletID)
	return &txn, nil
}

// GetTransaction retrieves a transaction by id.
func (c *Client) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	var txn Transaction
	if err := c.get(ctx, "/api/v1/transactions/"+url.PathEscape(id), &txn); err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions retrieves a wallet's transactions, newest first. A
// non-positive limit uses the server default.
func (c *Client) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, error) {
	q := url.Values{"wallet_id": {walletID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	var response struct {
		Transactions []*Transaction `json:"transactions"`
	}
	if err := c.get(ctx, "/api/v1/transactions?"+q.Encode(), &response); err != nil {
		return nil, err
	}
	return response.Transactions, nil
}

// WaitForStatus polls a transaction until it reaches a terminal status
// (confirmed or failed) or the context is cancelled.
func (c *Client) WaitForStatus(ctx context.Context, id string, interval time.Duration) (*Transaction, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		txn, err := c.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		switch txn.Status {
		case "confirmed", "failed":
			return txn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for transaction %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
