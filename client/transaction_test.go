package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)

		var req TransactionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wallet-1", req.WalletID)
		require.Len(t, req.Outputs, 1)
		assert.Equal(t, "2000000", req.Outputs[0].Assets[0].Quantity)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":        "tx-1",
			"wallet_id": req.WalletID,
			"status":    "queued",
			"outputs":   req.Outputs,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	txn, err := c.CreateTransaction(context.Background(), &TransactionRequest{
		WalletID: "wallet-1",
		Outputs: []Output{{
			Address: "addr_test1dest",
			Assets:  []Asset{{Unit: "lovelace", Quantity: "2000000"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "queued", txn.Status)
	assert.Equal(t, "tx-1", txn.ID)
}

func TestListTransactions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wallet-1", r.URL.Query().Get("wallet_id"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "20", r.URL.Query().Get("offset"))

		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{
				{"id": "tx-2", "wallet_id": "wallet-1", "status": "confirmed"},
				{"id": "tx-1", "wallet_id": "wallet-1", "status": "failed"},
			},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	txns, err := c.ListTransactions(context.Background(), "wallet-1", 10, 20)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "tx-2", txns[0].ID)
}

func TestWaitForStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := "submitted"
		if calls.Add(1) >= 3 {
			status = "confirmed"
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "tx-1", "wallet_id": "wallet-1", "status": status,
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, nil, nil)
	txn, err := c.WaitForStatus(context.Background(), "tx-1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "confirmed", txn.Status)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForStatus_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": "tx-1", "wallet_id": "wallet-1", "status": "queued",
		})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient(server.URL, nil, nil)
	_, err := c.WaitForStatus(ctx, "tx-1", 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
