package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is the full DDL for the service. Statements are idempotent so
// `heron db migrate` can be re-run safely.
const schema = `
CREATE SEQUENCE IF NOT EXISTS transaction_numeric_id_seq;

CREATE TABLE IF NOT EXISTS wallets (
    id                 UUID PRIMARY KEY,
    name               TEXT NOT NULL,
    address            TEXT NOT NULL UNIQUE,
    encrypted_root_key TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS minting_policies (
    id                    UUID PRIMARY KEY,
    name                  TEXT NOT NULL UNIQUE,
    policy_id             TEXT NOT NULL UNIQUE,
    encrypted_policy_skey TEXT NOT NULL,
    locking_slot          BIGINT,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id            UUID PRIMARY KEY,
    numeric_id    BIGINT NOT NULL UNIQUE DEFAULT nextval('transaction_numeric_id_seq'),
    wallet_id     UUID NOT NULL REFERENCES wallets(id),
    metadata_json JSONB,
    status        TEXT NOT NULL DEFAULT 'queued',
    tx_hash       TEXT,
    tx_fee        BIGINT,
    tx_size       BIGINT,
    error_message TEXT,
    retry_count   INT NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    confirmed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS ix_transactions_wallet_id ON transactions (wallet_id);
CREATE INDEX IF NOT EXISTS ix_transactions_tx_hash ON transactions (tx_hash);
CREATE INDEX IF NOT EXISTS ix_transactions_status ON transactions (status);

CREATE TABLE IF NOT EXISTS transaction_outputs (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    transaction_id BIGINT NOT NULL REFERENCES transactions(numeric_id) ON DELETE CASCADE,
    address        TEXT NOT NULL,
    datum_json     JSONB,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transaction_output_assets (
    id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    output_id  BIGINT NOT NULL REFERENCES transaction_outputs(id) ON DELETE CASCADE,
    unit       TEXT NOT NULL,
    quantity   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transaction_mints (
    id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    transaction_id BIGINT NOT NULL REFERENCES transactions(numeric_id) ON DELETE CASCADE,
    policy_id      TEXT NOT NULL REFERENCES minting_policies(policy_id),
    asset_name     TEXT NOT NULL,
    quantity       TEXT NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
