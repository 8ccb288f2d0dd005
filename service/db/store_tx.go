package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TxStatus is a transaction's lifecycle state. Allowed transitions:
// queued → submitted → confirmed, queued → failed, and queued re-entered
// from a retryable rejection.
type TxStatus string

const (
	TxQueued    TxStatus = "queued"
	TxSubmitted TxStatus = "submitted"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// Transaction is the unit of work for the engine. The numeric id anchors
// child rows (outputs, mints); the uuid is the external identifier.
type Transaction struct {
	ID           uuid.UUID
	NumericID    int64
	WalletID     uuid.UUID
	Metadata     map[uint64]any
	Status       TxStatus
	TxHash       *string
	Fee          *int64
	Size         *int64
	ErrorMessage *string
	RetryCount   int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ConfirmedAt  *time.Time

	Outputs []TransactionOutput
	Mints   []TransactionMint
}

// TransactionOutput is one requested destination with its asset bundle and
// an optional inline datum payload.
type TransactionOutput struct {
	ID      int64
	Address string
	Datum   json.RawMessage
	Assets  []TransactionOutputAsset
}

// TransactionOutputAsset is a (unit, quantity) pair on an output. The
// quantity is carried as a decimal string to avoid numeric overflow.
type TransactionOutputAsset struct {
	Unit     string
	Quantity string
}

// TransactionMint declares an asset quantity to mint (positive) or burn
// (negative) under a registered policy.
type TransactionMint struct {
	PolicyID  string
	AssetName string
	Quantity  string
}

// CreateTransactionParams contains everything needed to persist a new
// queued transaction with its child rows.
type CreateTransactionParams struct {
	WalletID uuid.UUID
	Metadata map[uint64]any
	Outputs  []TransactionOutput
	Mints    []TransactionMint
}

// CreateTransaction inserts the transaction and all child rows atomically
// and returns the aggregated record.
func (s *Store) CreateTransaction(ctx context.Context, params CreateTransactionParams) (*Transaction, error) {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback(ctx)

	var metadataJSON []byte
	if len(params.Metadata) > 0 {
		metadataJSON, err = json.Marshal(params.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	t := &Transaction{ID: uuid.New(), Metadata: params.Metadata}
	err = dbTx.QueryRow(ctx, `
		INSERT INTO transactions (id, wallet_id, metadata_json, status)
		VALUES ($1, $2, $3, 'queued')
		RETURNING numeric_id, wallet_id, status, retry_count, created_at, updated_at`,
		t.ID, params.WalletID, metadataJSON,
	).Scan(&t.NumericID, &t.WalletID, &t.Status, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	for _, out := range params.Outputs {
		var datum []byte
		if len(out.Datum) > 0 {
			datum = out.Datum
		}
		var outputID int64
		err = dbTx.QueryRow(ctx, `
			INSERT INTO transaction_outputs (transaction_id, address, datum_json)
			VALUES ($1, $2, $3)
			RETURNING id`,
			t.NumericID, out.Address, datum,
		).Scan(&outputID)
		if err != nil {
			return nil, fmt.Errorf("insert transaction output: %w", err)
		}
		for _, asset := range out.Assets {
			_, err = dbTx.Exec(ctx, `
				INSERT INTO transaction_output_assets (output_id, unit, quantity)
				VALUES ($1, $2, $3)`,
				outputID, asset.Unit, asset.Quantity,
			)
			if err != nil {
				return nil, fmt.Errorf("insert output asset: %w", err)
			}
		}
		out.ID = outputID
		t.Outputs = append(t.Outputs, out)
	}

	for _, mint := range params.Mints {
		_, err = dbTx.Exec(ctx, `
			INSERT INTO transaction_mints (transaction_id, policy_id, asset_name, quantity)
			VALUES ($1, $2, $3, $4)`,
			t.NumericID, mint.PolicyID, mint.AssetName, mint.Quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("insert transaction mint: %w", err)
		}
		t.Mints = append(t.Mints, mint)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves a transaction with its outputs and mints.
func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	t := &Transaction{}
	var metadataJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, numeric_id, wallet_id, metadata_json, status, tx_hash,
		       tx_fee, tx_size, error_message, retry_count, created_at,
		       updated_at, confirmed_at
		FROM transactions WHERE id = $1`, id,
	).Scan(&t.ID, &t.NumericID, &t.WalletID, &metadataJSON, &t.Status, &t.TxHash,
		&t.Fee, &t.Size, &t.ErrorMessage, &t.RetryCount, &t.CreatedAt,
		&t.UpdatedAt, &t.ConfirmedAt)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", id, err)
		}
	}

	if err := s.loadOutputs(ctx, t); err != nil {
		return nil, err
	}
	if err := s.loadMints(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) loadOutputs(ctx context.Context, t *Transaction) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, datum_json
		FROM transaction_outputs WHERE transaction_id = $1 ORDER BY id`,
		t.NumericID)
	if err != nil {
		return fmt.Errorf("load outputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		out := TransactionOutput{}
		var datum []byte
		if err := rows.Scan(&out.ID, &out.Address, &datum); err != nil {
			return fmt.Errorf("scan output: %w", err)
		}
		if len(datum) > 0 {
			out.Datum = json.RawMessage(datum)
		}
		t.Outputs = append(t.Outputs, out)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range t.Outputs {
		assetRows, err := s.pool.Query(ctx, `
			SELECT unit, quantity
			FROM transaction_output_assets WHERE output_id = $1 ORDER BY id`,
			t.Outputs[i].ID)
		if err != nil {
			return fmt.Errorf("load output assets: %w", err)
		}
		for assetRows.Next() {
			var a TransactionOutputAsset
			if err := assetRows.Scan(&a.Unit, &a.Quantity); err != nil {
				assetRows.Close()
				return fmt.Errorf("scan output asset: %w", err)
			}
			t.Outputs[i].Assets = append(t.Outputs[i].Assets, a)
		}
		assetRows.Close()
		if err := assetRows.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadMints(ctx context.Context, t *Transaction) error {
	rows, err := s.pool.Query(ctx, `
		SELECT policy_id, asset_name, quantity
		FROM transaction_mints WHERE transaction_id = $1 ORDER BY id`,
		t.NumericID)
	if err != nil {
		return fmt.Errorf("load mints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m TransactionMint
		if err := rows.Scan(&m.PolicyID, &m.AssetName, &m.Quantity); err != nil {
			return fmt.Errorf("scan mint: %w", err)
		}
		t.Mints = append(t.Mints, m)
	}
	return rows.Err()
}

// ListTransactionsByWallet retrieves a wallet's transactions, newest first,
// without child rows.
func (s *Store) ListTransactionsByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int32) ([]*Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, numeric_id, wallet_id, status, tx_hash, tx_fee, tx_size,
		       error_message, retry_count, created_at, updated_at, confirmed_at
		FROM transactions WHERE wallet_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		walletID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions for wallet %s: %w", walletID, err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t := &Transaction{}
		if err := rows.Scan(&t.ID, &t.NumericID, &t.WalletID, &t.Status, &t.TxHash,
			&t.Fee, &t.Size, &t.ErrorMessage, &t.RetryCount, &t.CreatedAt,
			&t.UpdatedAt, &t.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListQueuedTransactions returns the ids of all queued transactions in
// enqueue order, used to re-enqueue pending work at process start.
func (s *Store) ListQueuedTransactions(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM transactions WHERE status = 'queued' ORDER BY numeric_id`)
	if err != nil {
		return nil, fmt.Errorf("list queued transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSubmitted records a successful submission: status, hash, fee and
// size in one atomic update, clearing any prior error.
func (s *Store) MarkSubmitted(ctx context.Context, id uuid.UUID, txHash string, fee, size int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'submitted', tx_hash = $2, tx_fee = $3, tx_size = $4,
		    error_message = NULL, updated_at = now()
		WHERE id = $1`,
		id, txHash, fee, size)
	if err != nil {
		return fmt.Errorf("mark transaction %s submitted: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MarkFailed records a terminal failure with its error message.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("mark transaction %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Requeue moves a transaction back to queued after a retryable rejection,
// incrementing the retry counter and recording the rejection message.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID, errMsg string) (retryCount int, err error) {
	err = s.pool.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'queued', error_message = $2, retry_count = retry_count + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING retry_count`,
		id, errMsg).Scan(&retryCount)
	if err != nil {
		return 0, fmt.Errorf("requeue transaction %s: %w", id, err)
	}
	return retryCount, nil
}

// MarkConfirmedByHash flips a submitted transaction to confirmed when its
// hash is observed on chain. Returns pgx.ErrNoRows when no submitted
// transaction carries the hash (unknown or already confirmed).
// updated_at is deliberately left at the submission time so the gap to
// confirmed_at measures confirmation lag.
func (s *Store) MarkConfirmedByHash(ctx context.Context, txHash string) (*Transaction, error) {
	t := &Transaction{}
	err := s.pool.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'confirmed', confirmed_at = now()
		WHERE tx_hash = $1 AND status = 'submitted'
		RETURNING id, numeric_id, wallet_id, status, tx_hash, tx_fee, tx_size,
		          error_message, retry_count, created_at, updated_at, confirmed_at`,
		txHash,
	).Scan(&t.ID, &t.NumericID, &t.WalletID, &t.Status, &t.TxHash, &t.Fee, &t.Size,
		&t.ErrorMessage, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt, &t.ConfirmedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}
