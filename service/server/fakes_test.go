package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/heronlabs/heron/service/keys"
	"github.com/heronlabs/heron/service/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeKeyMaker hands out canned signing material so handler tests never
// touch real key derivation.
type fakeKeyMaker struct {
	walletErr error
	policyErr error
	serial    int
}

func (f *fakeKeyMaker) NewWallet() (*keys.WalletMaterial, error) {
	if f.walletErr != nil {
		return nil, f.walletErr
	}
	f.serial++
	return &keys.WalletMaterial{
		Mnemonic:         "abandon ability able about above absent absorb abstract absurd abuse access accident",
		Address:          fmt.Sprintf("addr_test1fake%04d", f.serial),
		EncryptedRootKey: fmt.Sprintf("c2VhbGVkLXJvb3Qta2V5LW1hdGVyaWFs%04d", f.serial),
	}, nil
}

func (f *fakeKeyMaker) NewPolicy(lockingSlot *uint64) (*keys.PolicyMaterial, error) {
	if f.policyErr != nil {
		return nil, f.policyErr
	}
	f.serial++
	return &keys.PolicyMaterial{
		PolicyID:     fmt.Sprintf("%056d", f.serial),
		KeyHash:      make([]byte, 28),
		EncryptedKey: fmt.Sprintf("c2VhbGVkLXBvbGljeS1rZXk%04d", f.serial),
		LockingSlot:  lockingSlot,
	}, nil
}

// fakeEnqueuer records every transaction handed to the engine.
type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	err      error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, txID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, txID)
	return nil
}

func (f *fakeEnqueuer) ids() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.enqueued...)
}

// fakeRegistry accepts a fixed label set, or everything when allowAll.
type fakeRegistry struct {
	known    map[uint64]bool
	allowAll bool
}

func (f *fakeRegistry) IsKnownLabel(label uint64) bool {
	if f.allowAll {
		return true
	}
	return f.known[label]
}

// fakeChainClient serves a fixed unspent-output set per address for the
// balance endpoint.
type fakeChainClient struct {
	utxos map[string][]ledger.UnspentOutput
	err   error
}

func (f *fakeChainClient) ListUnspentOutputs(_ context.Context, address string) ([]ledger.UnspentOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.utxos[address], nil
}

func (f *fakeChainClient) EstimateFee(context.Context, []byte) (uint64, error) {
	return 170_000, nil
}

func (f *fakeChainClient) MinCoinForOutput(context.Context, ledger.Output) (uint64, error) {
	return 1_000_000, nil
}

func (f *fakeChainClient) Submit(context.Context, []byte) (string, error) {
	return "", fmt.Errorf("not implemented")
}

func (f *fakeChainClient) Tip(context.Context) (uint64, error) {
	return 5_000_000, nil
}
