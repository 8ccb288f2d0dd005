package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/engine"
)

func TestCreateWallet(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	handler := handleCreateWallet(store.Store, &fakeKeyMaker{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets",
		strings.NewReader(`{"name":"treasury"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "treasury", resp["name"])
	assert.Contains(t, resp["address"], "addr_test1")
	assert.NotEmpty(t, resp["mnemonic"], "mnemonic must be returned once for backup")

	// Only the encrypted material lands in the store.
	id, err := uuid.Parse(resp["id"].(string))
	require.NoError(t, err)
	stored, err := store.GetWallet(context.Background(), id)
	require.NoError(t, err)
	assert.NotContains(t, stored.EncryptedRootKey, "abandon")
}

func TestCreateWalletValidation(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	handler := handleCreateWallet(store.Store, &fakeKeyMaker{}, testLogger())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing name", `{}`, http.StatusBadRequest},
		{"empty name", `{"name":""}`, http.StatusBadRequest},
		{"name too long", `{"name":"` + strings.Repeat("x", 101) + `"}`, http.StatusBadRequest},
		{"malformed json", `{"name":`, http.StatusBadRequest},
		{"oversized body", `{"name":"` + strings.Repeat("x", 2<<20) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestGetWallet(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	wallet, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
		Name:             "ops",
		Address:          "addr_test1ops",
		EncryptedRootKey: "sealed",
	})
	require.NoError(t, err)

	handler := handleGetWallet(store.Store, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+wallet.ID.String(), nil)
	req.SetPathValue("id", wallet.ID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp walletResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, wallet.ID.String(), resp.ID)
	assert.Equal(t, "addr_test1ops", resp.Address)
	// The encrypted root key must never serialize.
	assert.NotContains(t, rec.Body.String(), "sealed")
}

func TestGetWalletNotFound(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	handler := handleGetWallet(store.Store, testLogger())

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/wallets/not-a-uuid", nil)
	req.SetPathValue("id", "not-a-uuid")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListWallets(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	for _, name := range []string{"first", "second"} {
		_, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
			Name:             name,
			Address:          "addr_test1" + name,
			EncryptedRootKey: "sealed-" + name,
		})
		require.NoError(t, err)
	}

	handler := handleListWallets(store.Store, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Wallets []walletResponse `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Wallets, 2)
	assert.Equal(t, "first", resp.Wallets[0].Name)
}

func TestDeleteWallet(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	wallet, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
		Name:             "doomed",
		Address:          "addr_test1doomed",
		EncryptedRootKey: "sealed",
	})
	require.NoError(t, err)

	handler := handleDeleteWallet(store.Store, testLogger())
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/wallets/"+wallet.ID.String(), nil)
	req.SetPathValue("id", wallet.ID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Second delete finds nothing.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetWalletBalance(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	wallet, err := store.CreateWallet(context.Background(), db.CreateWalletParams{
		Name:             "rich",
		Address:          "addr_test1rich",
		EncryptedRootKey: "sealed",
	})
	require.NoError(t, err)

	unit := strings.Repeat("ab", 28) + "746f6b656e"
	client := &fakeChainClient{utxos: map[string][]ledger.UnspentOutput{
		"addr_test1rich": {
			{TxHash: "aa", Index: 0, Value: ledger.Value{ledger.Lovelace: 5_000_000}},
			{TxHash: "bb", Index: 1, Value: ledger.Value{
				ledger.Lovelace:   2_000_000,
				ledger.Unit(unit): 42,
			}},
		},
	}}
	cache := engine.NewBalanceCache(client, time.Minute, nil, testLogger())

	handler := handleGetWalletBalance(store.Store, cache, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/wallets/"+wallet.ID.String()+"/balance", nil)
	req.SetPathValue("id", wallet.ID.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		WalletID  string            `json:"wallet_id"`
		Address   string            `json:"address"`
		UtxoCount int               `json:"utxo_count"`
		Balance   map[string]string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "addr_test1rich", resp.Address)
	assert.Equal(t, 2, resp.UtxoCount)
	assert.Equal(t, "7000000", resp.Balance["lovelace"])
	assert.Equal(t, "42", resp.Balance[unit])
}

func TestCreatePolicy(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	handler := handleCreatePolicy(store.Store, &fakeKeyMaker{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies",
		strings.NewReader(`{"name":"season-one","locking_slot":123456}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp policyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "season-one", resp.Name)
	assert.Len(t, resp.PolicyID, 56)
	require.NotNil(t, resp.LockingSlot)
	assert.Equal(t, int64(123456), *resp.LockingSlot)

	// Duplicate names are rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/policies",
		strings.NewReader(`{"name":"season-one"}`))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListPolicies(t *testing.T) {
	db.SkipIfNoTestDB(t)
	store := db.NewTestStore(t)
	defer store.Close()
	defer store.Cleanup(t)

	_, err := store.CreatePolicy(context.Background(), db.CreatePolicyParams{
		Name:         "open-edition",
		PolicyID:     strings.Repeat("cd", 28),
		EncryptedKey: "sealed-policy",
	})
	require.NoError(t, err)

	handler := handleListPolicies(store.Store, testLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Policies []policyResponse `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Policies, 1)
	assert.Equal(t, "open-edition", resp.Policies[0].Name)
	assert.Nil(t, resp.Policies[0].LockingSlot)
	assert.NotContains(t, rec.Body.String(), "sealed-policy")
}
