package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/ledger"
	"github.com/heronlabs/heron/service/metrics"
	natspkg "github.com/heronlabs/heron/service/nats"
)

// Store is the slice of the persistence layer the engine mutates. The
// engine only ever touches a Transaction's status, hash, fee, size, error
// and retry fields.
type Store interface {
	GetTransaction(ctx context.Context, id uuid.UUID) (*db.Transaction, error)
	GetWallet(ctx context.Context, id uuid.UUID) (*db.Wallet, error)
	ListWallets(ctx context.Context) ([]*db.Wallet, error)
	GetPolicy(ctx context.Context, policyID string) (*db.MintingPolicy, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID, txHash string, fee, size int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	Requeue(ctx context.Context, id uuid.UUID, errMsg string) (int, error)
	ListQueuedTransactions(ctx context.Context) ([]uuid.UUID, error)
}

// Keyring resolves encrypted signing material into signing capabilities.
// Cleartext keys never cross this interface.
type Keyring interface {
	WalletSigner(encryptedRootKey string) (ledger.Signer, error)
	PolicySigner(encryptedKey string) (ledger.Signer, error)
}

// Processor runs one transaction job end to end: load, build, submit,
// persist the outcome. All failures are absorbed here; a worker never
// crashes on a bad job.
type Processor struct {
	store        Store
	cache        *BalanceCache
	assembler    *Assembler
	client       ledger.ChainClient
	keyring      Keyring
	publisher    natspkg.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	maxRetries   int
	refreshDelay time.Duration
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(store Store, cache *BalanceCache, assembler *Assembler, client ledger.ChainClient, keyring Keyring, publisher natspkg.Publisher, m *metrics.Metrics, logger *slog.Logger, maxRetries int, refreshDelay time.Duration) *Processor {
	return &Processor{
		store:        store,
		cache:        cache,
		assembler:    assembler,
		client:       client,
		keyring:      keyring,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With("component", "processor"),
		maxRetries:   maxRetries,
		refreshDelay: refreshDelay,
	}
}

// Process handles one queued transaction to a terminal local outcome.
// It returns true when the job must be re-enqueued at the tail of its
// wallet's queue; retries are never run in the same call frame.
func (p *Processor) Process(ctx context.Context, txID uuid.UUID) bool {
	txn, err := p.store.GetTransaction(ctx, txID)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to load transaction", "transaction_id", txID, "error", err)
		return false
	}
	if txn.Status != db.TxQueued {
		p.logger.WarnContext(ctx, "skipping transaction not in queued state",
			"transaction_id", txID,
			"status", txn.Status,
		)
		return false
	}

	wallet, err := p.store.GetWallet(ctx, txn.WalletID)
	if err != nil {
		p.fail(ctx, txn, fmt.Sprintf("load wallet: %v", err))
		return false
	}

	job, err := p.prepare(ctx, txn, wallet)
	if err != nil {
		// Malformed rows, unknown policies and key failures are not
		// retryable; no ledger call has been made yet.
		p.fail(ctx, txn, err.Error())
		return false
	}

	result, err := p.assembler.Build(ctx, job)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			p.fail(ctx, txn, err.Error())
			return false
		}
		// Provider or codec trouble during the build is retryable.
		return p.retry(ctx, txn, wallet.Address, ledger.KindGeneric, err.Error())
	}

	txHash, err := p.client.Submit(ctx, result.Tx.Bytes)
	if err != nil {
		kind := ledger.KindGeneric
		reason := err.Error()
		if submitErr, ok := ledger.AsSubmitError(err); ok {
			kind = submitErr.Kind
			reason = submitErr.Reason
		}
		p.metrics.RecordSubmission(job.walletID, "rejected")
		return p.retry(ctx, txn, wallet.Address, kind, reason)
	}

	if err := p.store.MarkSubmitted(ctx, txn.ID, txHash, int64(result.Fee), int64(len(result.Tx.Bytes))); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist submission",
			"transaction_id", txn.ID,
			"tx_hash", txHash,
			"error", err,
		)
		return false
	}

	p.commitCache(wallet.Address, txHash, result)

	p.metrics.RecordSubmission(job.walletID, "submitted")
	p.metrics.RecordFee(job.walletID, float64(result.Fee))
	p.logger.InfoContext(ctx, "transaction submitted",
		"transaction_id", txn.ID,
		"tx_hash", txHash,
		"fee", result.Fee,
		"inputs", len(result.Inputs),
		"outputs", len(result.Outputs),
	)

	txn.Status = db.TxSubmitted
	txn.TxHash = &txHash
	fee := int64(result.Fee)
	txn.Fee = &fee
	txn.ErrorMessage = nil
	p.publish(ctx, txn)
	return false
}

// retry applies the rejection taxonomy: refresh-forcing kinds invalidate
// the balance cache after a settle delay; every kind re-enqueues until the
// retry ceiling, beyond which the job fails terminally.
func (p *Processor) retry(ctx context.Context, txn *db.Transaction, address string, kind ledger.SubmitErrorKind, reason string) bool {
	if txn.RetryCount >= p.maxRetries {
		p.fail(ctx, txn, fmt.Sprintf("retry limit reached: %s", reason))
		return false
	}

	retryCount, err := p.store.Requeue(ctx, txn.ID, reason)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to requeue transaction",
			"transaction_id", txn.ID,
			"error", err,
		)
		return false
	}
	p.metrics.RecordRetry(txn.WalletID.String(), kind.String())

	p.logger.WarnContext(ctx, "transaction submission rejected, requeued",
		"transaction_id", txn.ID,
		"kind", kind.String(),
		"reason", reason,
		"retry_count", retryCount,
	)

	if kind.ForcesRefresh() {
		// Give the ledger a moment to settle before trusting it again.
		select {
		case <-time.After(p.refreshDelay):
		case <-ctx.Done():
			return false
		}
		p.cache.Invalidate(address)
		if _, err := p.cache.Refresh(ctx, address, "retry"); err != nil {
			p.logger.ErrorContext(ctx, "forced cache refresh failed",
				"address", address,
				"error", err,
			)
		}
	}

	txn.Status = db.TxQueued
	txn.RetryCount = retryCount
	txn.ErrorMessage = &reason
	p.publish(ctx, txn)
	return true
}

func (p *Processor) fail(ctx context.Context, txn *db.Transaction, errMsg string) {
	if err := p.store.MarkFailed(ctx, txn.ID, errMsg); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist failure",
			"transaction_id", txn.ID,
			"error", err,
		)
		return
	}
	p.metrics.RecordSubmission(txn.WalletID.String(), "failed")
	p.logger.ErrorContext(ctx, "transaction failed",
		"transaction_id", txn.ID,
		"error", errMsg,
	)

	txn.Status = db.TxFailed
	txn.ErrorMessage = &errMsg
	p.publish(ctx, txn)
}

func (p *Processor) publish(ctx context.Context, txn *db.Transaction) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishLifecycle(ctx, natspkg.FromDBTransaction(txn)); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish lifecycle event",
			"transaction_id", txn.ID,
			"error", err,
		)
	}
}

// prepare translates the persisted rows into a build job: parsed values,
// resolved policies and signing capabilities.
func (p *Processor) prepare(ctx context.Context, txn *db.Transaction, wallet *db.Wallet) (*buildJob, error) {
	outputs := make([]ledger.Output, 0, len(txn.Outputs))
	for _, row := range txn.Outputs {
		value := ledger.NewValue(0)
		for _, asset := range row.Assets {
			qty, err := strconv.ParseUint(asset.Quantity, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse quantity %q for unit %s: %w", asset.Quantity, asset.Unit, err)
			}
			value.Add(ledger.Unit(asset.Unit), qty)
		}
		outputs = append(outputs, ledger.Output{
			Address: row.Address,
			Value:   value,
			Datum:   row.Datum,
		})
	}

	mints := make([]ledger.Mint, 0, len(txn.Mints))
	policies := make(map[string]ledger.Policy)
	signers := []ledger.Signer{}

	walletSigner, err := p.keyring.WalletSigner(wallet.EncryptedRootKey)
	if err != nil {
		return nil, fmt.Errorf("wallet signing key: %w", err)
	}
	signers = append(signers, walletSigner)

	for _, row := range txn.Mints {
		qty, err := strconv.ParseInt(row.Quantity, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse mint quantity %q: %w", row.Quantity, err)
		}
		name, err := hex.DecodeString(row.AssetName)
		if err != nil {
			return nil, fmt.Errorf("decode asset name %q: %w", row.AssetName, err)
		}
		mints = append(mints, ledger.Mint{
			PolicyID:  row.PolicyID,
			AssetName: string(name),
			Quantity:  qty,
		})

		if _, ok := policies[row.PolicyID]; ok {
			continue
		}
		policy, err := p.store.GetPolicy(ctx, row.PolicyID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ledger.ErrPolicyNotFound) {
				return nil, fmt.Errorf("%w: %s", ledger.ErrPolicyNotFound, row.PolicyID)
			}
			return nil, fmt.Errorf("load policy %s: %w", row.PolicyID, err)
		}
		signer, err := p.keyring.PolicySigner(policy.EncryptedKey)
		if err != nil {
			return nil, fmt.Errorf("policy signing key %s: %w", row.PolicyID, err)
		}
		signers = append(signers, signer)

		var lockingSlot *uint64
		if policy.LockingSlot != nil {
			slot := uint64(*policy.LockingSlot)
			lockingSlot = &slot
		}
		policies[row.PolicyID] = ledger.Policy{
			ID:          policy.PolicyID,
			KeyHash:     signer.VerificationKeyHash(),
			LockingSlot: lockingSlot,
		}
	}

	return &buildJob{
		walletID: txn.WalletID.String(),
		address:  wallet.Address,
		outputs:  outputs,
		mints:    mints,
		policies: policies,
		metadata: txn.Metadata,
		signers:  signers,
	}, nil
}

// commitCache durably applies a successful submission to the balance
// cache: consumed inputs are gone, and outputs paying back to the wallet's
// own address become spendable at their index in the new transaction.
func (p *Processor) commitCache(address, txHash string, result *BuildResult) {
	outputs := make([]ledger.UnspentOutput, 0, len(result.Remaining)+1)
	outputs = append(outputs, result.Remaining...)
	for i, out := range result.Outputs {
		if out.Address != address {
			continue
		}
		outputs = append(outputs, ledger.UnspentOutput{
			TxHash: txHash,
			Index:  uint32(i),
			Value:  out.Value.Clone(),
		})
	}
	p.cache.Put(address, outputs)
}
