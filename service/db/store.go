package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service. All queries go through
// a pgx connection pool; multi-row writes that must be atomic run inside a
// single database transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Wallet is a custodial wallet: one ledger address plus its encrypted
// signing material. Immutable after onboarding except deletion.
type Wallet struct {
	ID               uuid.UUID
	Name             string
	Address          string
	EncryptedRootKey string
	CreatedAt        time.Time
}

// CreateWalletParams contains the parameters for onboarding a wallet.
type CreateWalletParams struct {
	Name             string
	Address          string
	EncryptedRootKey string
}

// CreateWallet persists a newly onboarded wallet.
func (s *Store) CreateWallet(ctx context.Context, params CreateWalletParams) (*Wallet, error) {
	w := &Wallet{ID: uuid.New()}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, name, address, encrypted_root_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, address, encrypted_root_key, created_at`,
		w.ID, params.Name, params.Address, params.EncryptedRootKey,
	).Scan(&w.ID, &w.Name, &w.Address, &w.EncryptedRootKey, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return w, nil
}

// GetWallet retrieves a wallet by id.
func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (*Wallet, error) {
	w := &Wallet{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, address, encrypted_root_key, created_at
		FROM wallets WHERE id = $1`, id,
	).Scan(&w.ID, &w.Name, &w.Address, &w.EncryptedRootKey, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", id, err)
	}
	return w, nil
}

// ListWallets retrieves all wallets ordered by creation time.
func (s *Store) ListWallets(ctx context.Context) ([]*Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, address, encrypted_root_key, created_at
		FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w := &Wallet{}
		if err := rows.Scan(&w.ID, &w.Name, &w.Address, &w.EncryptedRootKey, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// DeleteWallet removes a wallet. Transactions it owns are retained.
func (s *Store) DeleteWallet(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete wallet %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// MintingPolicy is a named native-script identity authorizing mints/burns
// under its policy id. Immutable once created.
type MintingPolicy struct {
	ID           uuid.UUID
	Name         string
	PolicyID     string
	EncryptedKey string
	LockingSlot  *int64
	CreatedAt    time.Time
}

// CreatePolicyParams contains the parameters for registering a policy.
type CreatePolicyParams struct {
	Name         string
	PolicyID     string
	EncryptedKey string
	LockingSlot  *int64
}

// CreatePolicy persists a newly generated minting policy.
func (s *Store) CreatePolicy(ctx context.Context, params CreatePolicyParams) (*MintingPolicy, error) {
	p := &MintingPolicy{ID: uuid.New()}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO minting_policies (id, name, policy_id, encrypted_policy_skey, locking_slot)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, policy_id, encrypted_policy_skey, locking_slot, created_at`,
		p.ID, params.Name, params.PolicyID, params.EncryptedKey, params.LockingSlot,
	).Scan(&p.ID, &p.Name, &p.PolicyID, &p.EncryptedKey, &p.LockingSlot, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	return p, nil
}

// GetPolicy retrieves a minting policy by its policy id (the script hash).
func (s *Store) GetPolicy(ctx context.Context, policyID string) (*MintingPolicy, error) {
	p := &MintingPolicy{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, policy_id, encrypted_policy_skey, locking_slot, created_at
		FROM minting_policies WHERE policy_id = $1`, policyID,
	).Scan(&p.ID, &p.Name, &p.PolicyID, &p.EncryptedKey, &p.LockingSlot, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get policy %s: %w", policyID, err)
	}
	return p, nil
}

// PolicyNameExists reports whether a policy with the given name is
// registered.
func (s *Store) PolicyNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM minting_policies WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check policy name %q: %w", name, err)
	}
	return exists, nil
}

// ListPolicies retrieves all minting policies ordered by creation time.
func (s *Store) ListPolicies(ctx context.Context) ([]*MintingPolicy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, policy_id, encrypted_policy_skey, locking_slot, created_at
		FROM minting_policies ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var policies []*MintingPolicy
	for rows.Next() {
		p := &MintingPolicy{}
		if err := rows.Scan(&p.ID, &p.Name, &p.PolicyID, &p.EncryptedKey, &p.LockingSlot, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}
