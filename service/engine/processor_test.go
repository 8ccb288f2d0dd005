package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/ledger"
	natspkg "github.com/heronlabs/heron/service/nats"
)

type processorFixture struct {
	store     *fakeStore
	client    *fakeChainClient
	codec     *fakeCodec
	cache     *BalanceCache
	publisher *natspkg.MockPublisher
	processor *Processor
}

func newProcessorFixture() *processorFixture {
	store := newFakeStore()
	client := newFakeChainClient()
	codec := &fakeCodec{}
	cache := NewBalanceCache(client, time.Minute, nil, testLogger())
	assembler := NewAssembler(cache, client, codec, nil, testLogger())
	publisher := natspkg.NewMockPublisher()
	processor := NewProcessor(store, cache, assembler, client, fakeKeyring{}, publisher, nil, testLogger(), 5, time.Millisecond)
	return &processorFixture{
		store:     store,
		client:    client,
		codec:     codec,
		cache:     cache,
		publisher: publisher,
		processor: processor,
	}
}

func TestProcessSubmitsSimplePayment(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	requeue := f.processor.Process(context.Background(), txn.ID)
	assert.False(t, requeue)

	stored := f.store.get(txn.ID)
	assert.Equal(t, db.TxSubmitted, stored.Status)
	require.NotNil(t, stored.TxHash)
	require.NotNil(t, stored.Fee)
	assert.Equal(t, int64(170_000), *stored.Fee)
	require.NotNil(t, stored.Size)
	assert.Positive(t, *stored.Size)
	assert.Nil(t, stored.ErrorMessage)

	events := f.publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "submitted", events[0].Status)
	assert.Equal(t, wallet.ID.String(), events[0].WalletID)
}

func TestProcessCommitsChangeToCache(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	f.processor.Process(context.Background(), txn.ID)

	// The cache now holds only the change output of the submitted tx; no
	// provider round trip needed.
	cached, err := f.cache.Get(context.Background(), testWalletAddr)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, uint64(7_830_000), cached[0].Value.Coin())
	assert.Equal(t, *f.store.get(txn.ID).TxHash, cached[0].TxHash)
	assert.Equal(t, 1, f.client.listCalls[testWalletAddr])
}

func TestProcessGenericRejectionRetriesToCeiling(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	f.client.submitErr = &ledger.SubmitError{Kind: ledger.KindGeneric, Reason: "mempool full"}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	ctx := context.Background()
	attempts := 0
	for f.processor.Process(ctx, txn.ID) {
		attempts++
		require.Less(t, attempts, 20, "retry loop must terminate")
	}

	stored := f.store.get(txn.ID)
	assert.Equal(t, db.TxFailed, stored.Status)
	assert.Equal(t, 5, stored.RetryCount)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "retry limit reached")
	assert.Contains(t, *stored.ErrorMessage, "mempool full")
}

func TestProcessBadInputsForcesSingleRefresh(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	f.client.submitSeq = []error{
		&ledger.SubmitError{Kind: ledger.KindBadInputs, Reason: "BadInputsUTxO"},
	}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	ctx := context.Background()
	requeue := f.processor.Process(ctx, txn.ID)
	require.True(t, requeue)

	// One read for the first build plus exactly one forced refresh.
	assert.Equal(t, 2, f.client.listCalls[testWalletAddr])
	assert.Equal(t, db.TxQueued, f.store.get(txn.ID).Status)
	assert.Equal(t, 1, f.store.get(txn.ID).RetryCount)

	// Second attempt finds the refreshed cache warm and succeeds.
	requeue = f.processor.Process(ctx, txn.ID)
	assert.False(t, requeue)
	assert.Equal(t, db.TxSubmitted, f.store.get(txn.ID).Status)
	assert.Equal(t, 2, f.client.listCalls[testWalletAddr])
}

func TestProcessValueNotConservedForcesRefresh(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	f.client.submitSeq = []error{
		&ledger.SubmitError{Kind: ledger.KindValueNotConserved, Reason: "ValueNotConservedUTxO"},
	}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	requeue := f.processor.Process(context.Background(), txn.ID)
	require.True(t, requeue)
	assert.Equal(t, 2, f.client.listCalls[testWalletAddr])
}

func TestProcessInsufficientBalanceFailsWithoutRetry(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 1_000_000, nil),
	}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 5_000_000)}, nil)

	requeue := f.processor.Process(context.Background(), txn.ID)
	assert.False(t, requeue)

	stored := f.store.get(txn.ID)
	assert.Equal(t, db.TxFailed, stored.Status)
	assert.Equal(t, 0, stored.RetryCount, "insufficient balance is not a retryable class")
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "insufficient balance")
	assert.Zero(t, f.client.submitCalls)
}

func TestProcessUnknownPolicyFailsBeforeAnyLedgerCall(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	txn := f.store.addTransaction(wallet.ID,
		[]db.TransactionOutput{coinOutput(testRecipient, 2_000_000)},
		[]db.TransactionMint{{PolicyID: testPolicyID, AssetName: "746f6b656e", Quantity: "2"}},
	)

	requeue := f.processor.Process(context.Background(), txn.ID)
	assert.False(t, requeue)

	stored := f.store.get(txn.ID)
	assert.Equal(t, db.TxFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "policy not found")
	assert.Zero(t, f.client.totalCalls(), "no ledger call before the policy check")
}

func TestProcessMintWithRegisteredPolicy(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.store.addPolicy(testPolicyID)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	txn := f.store.addTransaction(wallet.ID,
		[]db.TransactionOutput{{
			Address: testRecipient,
			Assets: []db.TransactionOutputAsset{
				{Unit: "lovelace", Quantity: "2000000"},
				{Unit: string(testAsset), Quantity: "2"},
			},
		}},
		[]db.TransactionMint{{PolicyID: testPolicyID, AssetName: "746f6b656e", Quantity: "2"}},
	)

	requeue := f.processor.Process(context.Background(), txn.ID)
	assert.False(t, requeue)
	assert.Equal(t, db.TxSubmitted, f.store.get(txn.ID).Status)

	final := f.codec.lastFinal()
	require.Len(t, final.Mints, 1)
	assert.Equal(t, int64(2), final.Mints[0].Quantity)
	require.Contains(t, final.Policies, testPolicyID)
	assertConservation(t, final)
}

func TestProcessSkipsNonQueuedTransaction(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)
	require.NoError(t, f.store.MarkFailed(context.Background(), txn.ID, "operator intervention"))

	requeue := f.processor.Process(context.Background(), txn.ID)
	assert.False(t, requeue)
	assert.Zero(t, f.client.totalCalls())
}

func TestProcessSequentialJobsNeverShareInputs(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
		utxo("bb", 0, 10_000_000, nil),
	}

	first := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)
	second := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	ctx := context.Background()
	f.processor.Process(ctx, first.ID)
	f.processor.Process(ctx, second.ID)

	assert.Equal(t, db.TxSubmitted, f.store.get(first.ID).Status)
	assert.Equal(t, db.TxSubmitted, f.store.get(second.ID).Status)

	seen := map[string]bool{}
	for _, req := range f.codec.requests {
		if req.Placeholder {
			continue
		}
		for _, in := range req.Inputs {
			require.False(t, seen[in.Ref()], "input %s consumed by two jobs", in.Ref())
			seen[in.Ref()] = true
		}
	}
	// Both builds ran off the cache; the provider was consulted once.
	assert.Equal(t, 1, f.client.listCalls[testWalletAddr])
}

func TestProcessUnclassifiedSubmitErrorTreatedAsGeneric(t *testing.T) {
	f := newProcessorFixture()
	wallet := f.store.addWallet(testWalletAddr)
	f.client.utxos[testWalletAddr] = []ledger.UnspentOutput{
		utxo("aa", 0, 10_000_000, nil),
	}
	f.client.submitSeq = []error{errors.New("connection reset")}
	txn := f.store.addTransaction(wallet.ID, []db.TransactionOutput{coinOutput(testRecipient, 2_000_000)}, nil)

	requeue := f.processor.Process(context.Background(), txn.ID)
	require.True(t, requeue)

	stored := f.store.get(txn.ID)
	assert.Equal(t, db.TxQueued, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	// Unclassified errors do not force a cache refresh.
	assert.Equal(t, 1, f.client.listCalls[testWalletAddr])
}
