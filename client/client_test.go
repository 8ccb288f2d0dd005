package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateWallet_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/wallets", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "treasury", body["name"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "11111111-2222-3333-4444-555555555555",
			"name":       "treasury",
			"address":    "addr_test1abc",
			"mnemonic":   "word1 word2 word3",
			"created_at": time.Now().UTC(),
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	created, err := c.CreateWallet(context.Background(), "treasury")
	require.NoError(t, err)
	assert.Equal(t, "treasury", created.Name)
	assert.Equal(t, "addr_test1abc", created.Address)
	assert.Equal(t, "word1 word2 word3", created.Mnemonic)
}

func TestCreateWallet_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "name is required"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	_, err := c.CreateWallet(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestGetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/wallets/abc/balance", r.URL.Path)

		json.NewEncoder(w).Encode(map[string]any{
			"wallet_id":  "abc",
			"address":    "addr_test1abc",
			"utxo_count": 2,
			"balance":    map[string]string{"lovelace": "7000000"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	balance, err := c.GetBalance(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, balance.UtxoCount)
	assert.Equal(t, "7000000", balance.Balance["lovelace"])
}

func TestDeleteWallet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "wallet not found"})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	err := c.DeleteWallet(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet not found")
}

func TestCreatePolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "season-one", body["name"])
		assert.Equal(t, float64(123456), body["locking_slot"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":           "99999999-8888-7777-6666-555555555555",
			"name":         "season-one",
			"policy_id":    "deadbeef",
			"locking_slot": 123456,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	slot := uint64(123456)
	policy, err := c.CreatePolicy(context.Background(), "season-one", &slot)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", policy.PolicyID)
	require.NotNil(t, policy.LockingSlot)
	assert.Equal(t, int64(123456), *policy.LockingSlot)
}

func TestListWallets_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	_, err := c.ListWallets(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}
