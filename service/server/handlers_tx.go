package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/ledger"
)

const (
	maxOutputsPerTransaction = 100
	maxAssetNameHexLength    = 64 // 32 bytes
	defaultListLimit         = 50
	maxListLimit             = 500
)

type outputRequest struct {
	Address string `json:"address"`
	Assets  []struct {
		Unit     string `json:"unit"`
		Quantity string `json:"quantity"`
	} `json:"assets"`
	Datum json.RawMessage `json:"datum,omitempty"`
}

type mintRequest struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  string `json:"quantity"`
}

type createTransactionRequest struct {
	WalletID string                     `json:"wallet_id"`
	Outputs  []outputRequest            `json:"outputs"`
	Mints    []mintRequest              `json:"mint,omitempty"`
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`
}

// transactionResponse is the API representation of a transaction.
type transactionResponse struct {
	ID          string             `json:"id"`
	WalletID    string             `json:"wallet_id"`
	Status      string             `json:"status"`
	TxHash      *string            `json:"tx_hash,omitempty"`
	Fee         *int64             `json:"fee,omitempty"`
	Size        *int64             `json:"size,omitempty"`
	Error       *string            `json:"error,omitempty"`
	RetryCount  int                `json:"retry_count"`
	Metadata    map[uint64]any     `json:"metadata,omitempty"`
	Outputs     []outputResponse   `json:"outputs"`
	Mints       []mintRequest      `json:"mint,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	ConfirmedAt *time.Time         `json:"confirmed_at,omitempty"`
}

type outputResponse struct {
	Address string          `json:"address"`
	Assets  []assetResponse `json:"assets"`
	Datum   json.RawMessage `json:"datum,omitempty"`
}

type assetResponse struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

func txToResponse(t *db.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:          t.ID.String(),
		WalletID:    t.WalletID.String(),
		Status:      string(t.Status),
		TxHash:      t.TxHash,
		Fee:         t.Fee,
		Size:        t.Size,
		Error:       t.ErrorMessage,
		RetryCount:  t.RetryCount,
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		ConfirmedAt: t.ConfirmedAt,
	}
	resp.Outputs = make([]outputResponse, len(t.Outputs))
	for i, out := range t.Outputs {
		assets := make([]assetResponse, len(out.Assets))
		for j, a := range out.Assets {
			assets[j] = assetResponse{Unit: a.Unit, Quantity: a.Quantity}
		}
		resp.Outputs[i] = outputResponse{Address: out.Address, Assets: assets, Datum: out.Datum}
	}
	for _, m := range t.Mints {
		resp.Mints = append(resp.Mints, mintRequest{
			PolicyID:  m.PolicyID,
			AssetName: m.AssetName,
			Quantity:  m.Quantity,
		})
	}
	return resp
}

// handleCreateTransaction returns a handler that accepts a transaction into
// the owning wallet's queue.
// POST /api/v1/transactions
//
// Intake only validates shape and references: output addresses and asset
// units, mint policies against the store, metadata labels against the
// CIP-10 registry. Balance sufficiency is the engine's concern and surfaces
// later through the transaction's status.
func handleCreateTransaction(store *db.Store, supervisor enqueuer, registry labelChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req createTransactionRequest
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		walletID, err := uuid.Parse(req.WalletID)
		if err != nil {
			writeError(w, "invalid wallet_id", http.StatusBadRequest)
			return
		}

		if err := validateTransactionShape(&req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		metadata, err := validateMetadata(req.Metadata, registry)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if _, err := store.GetWallet(r.Context(), walletID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get wallet", "wallet_id", walletID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Every referenced policy must already be registered; the engine
		// needs its encrypted key at build time.
		for _, m := range req.Mints {
			if _, err := store.GetPolicy(r.Context(), m.PolicyID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					writeError(w, fmt.Sprintf("unknown minting policy %s", m.PolicyID), http.StatusBadRequest)
					return
				}
				logger.Error("failed to get policy", "policy_id", m.PolicyID, "error", err)
				writeError(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}

		params := db.CreateTransactionParams{
			WalletID: walletID,
			Metadata: metadata,
		}
		for _, out := range req.Outputs {
			dbOut := db.TransactionOutput{Address: out.Address, Datum: out.Datum}
			for _, a := range out.Assets {
				dbOut.Assets = append(dbOut.Assets, db.TransactionOutputAsset{
					Unit:     a.Unit,
					Quantity: a.Quantity,
				})
			}
			params.Outputs = append(params.Outputs, dbOut)
		}
		for _, m := range req.Mints {
			params.Mints = append(params.Mints, db.TransactionMint{
				PolicyID:  m.PolicyID,
				AssetName: m.AssetName,
				Quantity:  m.Quantity,
			})
		}

		txn, err := store.CreateTransaction(r.Context(), params)
		if err != nil {
			logger.Error("failed to persist transaction", "wallet_id", walletID, "error", err)
			writeError(w, "failed to create transaction", http.StatusInternalServerError)
			return
		}

		// The row is durable at this point. If the enqueue is refused the
		// startup re-enqueue scan picks it up on the next boot.
		if err := supervisor.Enqueue(r.Context(), txn.ID); err != nil {
			logger.Warn("failed to enqueue transaction", "id", txn.ID, "error", err)
		}

		logger.Info("transaction accepted", "id", txn.ID, "wallet_id", walletID,
			"outputs", len(txn.Outputs), "mints", len(txn.Mints))
		writeJSON(w, txToResponse(txn), http.StatusCreated)
	})
}

// handleGetTransaction returns a handler that retrieves a transaction by id.
// GET /api/v1/transactions/{id}
func handleGetTransaction(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid transaction id", http.StatusBadRequest)
			return
		}

		txn, err := store.GetTransaction(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "transaction not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get transaction", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, txToResponse(txn), http.StatusOK)
	})
}

// handleListTransactions returns a handler that lists a wallet's
// transactions, newest first.
// GET /api/v1/transactions?wallet_id={id}&limit={n}&offset={n}
func handleListTransactions(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		walletID, err := uuid.Parse(r.URL.Query().Get("wallet_id"))
		if err != nil {
			writeError(w, "wallet_id query parameter is required", http.StatusBadRequest)
			return
		}

		limit, offset, err := parsePagination(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		txns, err := store.ListTransactionsByWallet(r.Context(), walletID, limit, offset)
		if err != nil {
			logger.Error("failed to list transactions", "wallet_id", walletID, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]transactionResponse, len(txns))
		for i, txn := range txns {
			resp[i] = txToResponse(txn)
		}

		writeJSON(w, map[string]any{
			"wallet_id":    walletID.String(),
			"transactions": resp,
			"limit":        limit,
			"offset":       offset,
		}, http.StatusOK)
	})
}

// validateTransactionShape checks the structural rules intake enforces:
// something to do, resolvable asset units, sane quantities.
func validateTransactionShape(req *createTransactionRequest) error {
	if len(req.Outputs) == 0 && len(req.Mints) == 0 {
		return fmt.Errorf("transaction requires at least one output or mint")
	}
	if len(req.Outputs) > maxOutputsPerTransaction {
		return fmt.Errorf("too many outputs (max %d)", maxOutputsPerTransaction)
	}

	for i, out := range req.Outputs {
		if out.Address == "" {
			return fmt.Errorf("output %d: address is required", i)
		}
		if len(out.Assets) == 0 {
			return fmt.Errorf("output %d: at least one asset is required", i)
		}
		for _, a := range out.Assets {
			unit := ledger.Unit(a.Unit)
			if !unit.IsCoin() {
				if _, _, err := unit.Split(); err != nil {
					return fmt.Errorf("output %d: %v", i, err)
				}
			}
			qty, err := strconv.ParseUint(a.Quantity, 10, 64)
			if err != nil || qty == 0 {
				return fmt.Errorf("output %d: quantity for %s must be a positive integer", i, a.Unit)
			}
		}
	}

	for i, m := range req.Mints {
		if _, _, err := ledger.AssetUnit(m.PolicyID, "").Split(); err != nil {
			return fmt.Errorf("mint %d: invalid policy_id", i)
		}
		if len(m.AssetName) > maxAssetNameHexLength {
			return fmt.Errorf("mint %d: asset name too long (max %d bytes)", i, maxAssetNameHexLength/2)
		}
		if _, err := hex.DecodeString(m.AssetName); err != nil {
			return fmt.Errorf("mint %d: asset_name must be hex encoded", i)
		}
		qty, err := strconv.ParseInt(m.Quantity, 10, 64)
		if err != nil || qty == 0 {
			return fmt.Errorf("mint %d: quantity must be a non-zero integer", i)
		}
	}

	return nil
}

// validateMetadata checks every metadata label against the registry and
// converts the JSON object into the store's representation.
func validateMetadata(raw map[string]json.RawMessage, registry labelChecker) (map[uint64]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	metadata := make(map[uint64]any, len(raw))
	for key, value := range raw {
		label, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("metadata label %q is not a valid integer", key)
		}
		if !registry.IsKnownLabel(label) {
			return nil, fmt.Errorf("metadata label %d is not a registered CIP-10 label", label)
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return nil, fmt.Errorf("metadata label %d: invalid value", label)
		}
		metadata[label] = decoded
	}
	return metadata, nil
}

// parsePagination reads limit/offset query parameters with defaults.
func parsePagination(r *http.Request) (limit, offset int32, err error) {
	limit = defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil || parsed < 1 || parsed > maxListLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxListLimit)
		}
		limit = int32(parsed)
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
		offset = int32(parsed)
	}
	return limit, offset, nil
}
