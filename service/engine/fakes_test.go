package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChainClient is an in-memory ledger data provider with call counting.
type fakeChainClient struct {
	mu sync.Mutex

	utxos     map[string][]ledger.UnspentOutput
	fee       uint64
	minCoin   uint64
	tip       uint64
	submitErr error
	submitSeq []error

	listCalls   map[string]int
	submitCalls int
	submitted   [][]byte
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{
		utxos:     make(map[string][]ledger.UnspentOutput),
		fee:       170_000,
		minCoin:   1_000_000,
		tip:       5_000_000,
		listCalls: make(map[string]int),
	}
}

func (c *fakeChainClient) ListUnspentOutputs(ctx context.Context, address string) ([]ledger.UnspentOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls[address]++
	outs := make([]ledger.UnspentOutput, len(c.utxos[address]))
	copy(outs, c.utxos[address])
	return outs, nil
}

func (c *fakeChainClient) EstimateFee(ctx context.Context, txBytes []byte) (uint64, error) {
	return c.fee, nil
}

func (c *fakeChainClient) MinCoinForOutput(ctx context.Context, out ledger.Output) (uint64, error) {
	return c.minCoin, nil
}

func (c *fakeChainClient) Submit(ctx context.Context, txBytes []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitCalls++
	c.submitted = append(c.submitted, txBytes)
	if len(c.submitSeq) > 0 {
		err := c.submitSeq[0]
		c.submitSeq = c.submitSeq[1:]
		if err != nil {
			return "", err
		}
	} else if c.submitErr != nil {
		return "", c.submitErr
	}
	sum := sha256.Sum256(txBytes)
	return hex.EncodeToString(sum[:]), nil
}

func (c *fakeChainClient) Tip(ctx context.Context) (uint64, error) {
	return c.tip, nil
}

func (c *fakeChainClient) totalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.submitCalls
	for _, v := range c.listCalls {
		n += v
	}
	return n
}

// fakeCodec produces byte blobs whose length tracks the structural size of
// the request, and remembers the last request for inspection.
type fakeCodec struct {
	mu       sync.Mutex
	requests []ledger.BuildRequest
}

func (c *fakeCodec) Assemble(ctx context.Context, req ledger.BuildRequest) (*ledger.BuiltTx, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	var buf bytes.Buffer
	for _, in := range req.Inputs {
		buf.WriteString(in.Ref())
	}
	for _, out := range req.Outputs {
		fmt.Fprintf(&buf, "%s:%v", out.Address, out.Value)
	}
	fmt.Fprintf(&buf, "fee=%d ttl=%d placeholder=%v", req.Fee, req.TTL, req.Placeholder)
	sum := sha256.Sum256(buf.Bytes())
	return &ledger.BuiltTx{Bytes: buf.Bytes(), Hash: hex.EncodeToString(sum[:])}, nil
}

func (c *fakeCodec) lastFinal() ledger.BuildRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.requests) - 1; i >= 0; i-- {
		if !c.requests[i].Placeholder {
			return c.requests[i]
		}
	}
	return ledger.BuildRequest{}
}

// fakeSigner is a signing capability with fixed-size fake output.
type fakeSigner struct{ seed byte }

func (s fakeSigner) Sign(message []byte) ([]byte, error) {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = s.seed
	}
	return sig, nil
}

func (s fakeSigner) PublicKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = s.seed
	}
	return key
}

func (s fakeSigner) VerificationKeyHash() []byte {
	h := make([]byte, 28)
	for i := range h {
		h[i] = s.seed
	}
	return h
}

type fakeKeyring struct{}

func (fakeKeyring) WalletSigner(encryptedRootKey string) (ledger.Signer, error) {
	return fakeSigner{seed: 1}, nil
}

func (fakeKeyring) PolicySigner(encryptedKey string) (ledger.Signer, error) {
	return fakeSigner{seed: 2}, nil
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu           sync.Mutex
	wallets      map[uuid.UUID]*db.Wallet
	transactions map[uuid.UUID]*db.Transaction
	policies     map[string]*db.MintingPolicy
	nextNumeric  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:      make(map[uuid.UUID]*db.Wallet),
		transactions: make(map[uuid.UUID]*db.Transaction),
		policies:     make(map[string]*db.MintingPolicy),
	}
}

func (s *fakeStore) addWallet(address string) *db.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &db.Wallet{ID: uuid.New(), Name: address, Address: address, EncryptedRootKey: "sealed"}
	s.wallets[w.ID] = w
	return w
}

func (s *fakeStore) addPolicy(policyID string) *db.MintingPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &db.MintingPolicy{ID: uuid.New(), Name: policyID, PolicyID: policyID, EncryptedKey: "sealed"}
	s.policies[policyID] = p
	return p
}

func (s *fakeStore) addTransaction(walletID uuid.UUID, outputs []db.TransactionOutput, mints []db.TransactionMint) *db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextNumeric++
	t := &db.Transaction{
		ID:        uuid.New(),
		NumericID: s.nextNumeric,
		WalletID:  walletID,
		Status:    db.TxQueued,
		Outputs:   outputs,
		Mints:     mints,
	}
	s.transactions[t.ID] = t
	return t
}

func (s *fakeStore) GetTransaction(ctx context.Context, id uuid.UUID) (*db.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) GetWallet(ctx context.Context, id uuid.UUID) (*db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return w, nil
}

func (s *fakeStore) ListWallets(ctx context.Context) ([]*db.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*db.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	return out, nil
}

func (s *fakeStore) GetPolicy(ctx context.Context, policyID string) (*db.MintingPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[policyID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return p, nil
}

func (s *fakeStore) MarkSubmitted(ctx context.Context, id uuid.UUID, txHash string, fee, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Status = db.TxSubmitted
	t.TxHash = &txHash
	t.Fee = &fee
	t.Size = &size
	t.ErrorMessage = nil
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.Status = db.TxFailed
	t.ErrorMessage = &errMsg
	return nil
}

func (s *fakeStore) Requeue(ctx context.Context, id uuid.UUID, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	t.Status = db.TxQueued
	t.ErrorMessage = &errMsg
	t.RetryCount++
	return t.RetryCount, nil
}

func (s *fakeStore) ListQueuedTransactions(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNumeric := make([]*db.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		if t.Status == db.TxQueued {
			byNumeric = append(byNumeric, t)
		}
	}
	for i := range byNumeric {
		for j := i + 1; j < len(byNumeric); j++ {
			if byNumeric[j].NumericID < byNumeric[i].NumericID {
				byNumeric[i], byNumeric[j] = byNumeric[j], byNumeric[i]
			}
		}
	}
	ids := make([]uuid.UUID, len(byNumeric))
	for i, t := range byNumeric {
		ids[i] = t.ID
	}
	return ids, nil
}

func (s *fakeStore) get(id uuid.UUID) *db.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions[id]
}

// utxo builds a cache entry for tests.
func utxo(txHash string, index uint32, coin uint64, assets map[ledger.Unit]uint64) ledger.UnspentOutput {
	v := ledger.NewValue(coin)
	for unit, qty := range assets {
		v.Add(unit, qty)
	}
	return ledger.UnspentOutput{TxHash: txHash, Index: index, Value: v}
}

func coinOutput(address string, coin uint64) db.TransactionOutput {
	return db.TransactionOutput{
		Address: address,
		Assets:  []db.TransactionOutputAsset{{Unit: "lovelace", Quantity: fmt.Sprintf("%d", coin)}},
	}
}
