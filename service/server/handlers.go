package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/heronlabs/heron/service/db"
	"github.com/heronlabs/heron/service/engine"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for transaction intake
	maxNameLength      = 100
)

// walletResponse is the API representation of a wallet. Encrypted signing
// material never appears in responses.
type walletResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func walletToResponse(w *db.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID.String(),
		Name:      w.Name,
		Address:   w.Address,
		CreatedAt: w.CreatedAt,
	}
}

// handleCreateWallet returns a handler that onboards a new custodial wallet.
// POST /api/v1/wallets
//
// The mnemonic is returned exactly once in the response for operator backup;
// only the encrypted root key is persisted.
func handleCreateWallet(store *db.Store, keyring keyMaker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Name string `json:"name"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateName(req.Name); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		material, err := keyring.NewWallet()
		if err != nil {
			logger.Error("failed to generate wallet keys", "error", err)
			writeError(w, "failed to create wallet", http.StatusInternalServerError)
			return
		}

		wallet, err := store.CreateWallet(r.Context(), db.CreateWalletParams{
			Name:             req.Name,
			Address:          material.Address,
			EncryptedRootKey: material.EncryptedRootKey,
		})
		if err != nil {
			logger.Error("failed to persist wallet", "name", req.Name, "error", err)
			writeError(w, "failed to create wallet", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet created", "id", wallet.ID, "name", wallet.Name, "address", wallet.Address)

		writeJSON(w, map[string]any{
			"id":         wallet.ID.String(),
			"name":       wallet.Name,
			"address":    wallet.Address,
			"mnemonic":   material.Mnemonic,
			"created_at": wallet.CreatedAt,
		}, http.StatusCreated)
	})
}

// handleListWallets returns a handler that lists all custodial wallets.
// GET /api/v1/wallets
func handleListWallets(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallets, err := store.ListWallets(r.Context())
		if err != nil {
			logger.Error("failed to list wallets", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]walletResponse, len(wallets))
		for i, wallet := range wallets {
			resp[i] = walletToResponse(wallet)
		}

		writeJSON(w, map[string]any{"wallets": resp}, http.StatusOK)
	})
}

// handleGetWallet returns a handler that retrieves a wallet by id.
// GET /api/v1/wallets/{id}
func handleGetWallet(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid wallet id", http.StatusBadRequest)
			return
		}

		wallet, err := store.GetWallet(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get wallet", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, walletToResponse(wallet), http.StatusOK)
	})
}

// handleGetWalletBalance returns a handler that aggregates a wallet's
// unspent outputs into per-unit totals.
// GET /api/v1/wallets/{id}/balance
func handleGetWalletBalance(store *db.Store, cache *engine.BalanceCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid wallet id", http.StatusBadRequest)
			return
		}

		wallet, err := store.GetWallet(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get wallet", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		outputs, err := cache.Get(r.Context(), wallet.Address)
		if err != nil {
			logger.Error("failed to fetch balance", "id", id, "address", wallet.Address, "error", err)
			writeError(w, "failed to fetch balance", http.StatusBadGateway)
			return
		}

		// Quantities go out as decimal strings so clients never lose
		// precision to float parsing.
		balance := make(map[string]string)
		for _, out := range outputs {
			for unit, qty := range out.Value {
				prev, _ := strconv.ParseUint(balance[string(unit)], 10, 64)
				balance[string(unit)] = strconv.FormatUint(prev+qty, 10)
			}
		}

		writeJSON(w, map[string]any{
			"wallet_id":  wallet.ID.String(),
			"address":    wallet.Address,
			"utxo_count": len(outputs),
			"balance":    balance,
		}, http.StatusOK)
	})
}

// handleDeleteWallet returns a handler that removes a wallet. The wallet's
// transaction history is retained.
// DELETE /api/v1/wallets/{id}
func handleDeleteWallet(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, "invalid wallet id", http.StatusBadRequest)
			return
		}

		if err := store.DeleteWallet(r.Context(), id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "wallet not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to delete wallet", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.Info("wallet deleted", "id", id)
		w.WriteHeader(http.StatusNoContent)
	})
}

// policyResponse is the API representation of a minting policy. The
// encrypted policy key never appears in responses.
type policyResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PolicyID    string    `json:"policy_id"`
	LockingSlot *int64    `json:"locking_slot,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func policyToResponse(p *db.MintingPolicy) policyResponse {
	return policyResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		PolicyID:    p.PolicyID,
		LockingSlot: p.LockingSlot,
		CreatedAt:   p.CreatedAt,
	}
}

// handleCreatePolicy returns a handler that registers a new minting policy.
// POST /api/v1/policies
//
// The policy id is the hash of the native script and is fixed at creation.
// An optional locking slot adds an invalid-hereafter clause to the script,
// after which nothing can be minted or burned under the policy.
func handleCreatePolicy(store *db.Store, keyring keyMaker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Name        string  `json:"name"`
			LockingSlot *uint64 `json:"locking_slot,omitempty"`
		}
		if err := decodeRequest(w, r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := validateName(req.Name); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		exists, err := store.PolicyNameExists(r.Context(), req.Name)
		if err != nil {
			logger.Error("failed to check policy name", "name", req.Name, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if exists {
			writeError(w, fmt.Sprintf("policy %q already exists", req.Name), http.StatusConflict)
			return
		}

		material, err := keyring.NewPolicy(req.LockingSlot)
		if err != nil {
			logger.Error("failed to generate policy keys", "name", req.Name, "error", err)
			writeError(w, "failed to create policy", http.StatusInternalServerError)
			return
		}

		var lockingSlot *int64
		if material.LockingSlot != nil {
			slot := int64(*material.LockingSlot)
			lockingSlot = &slot
		}

		policy, err := store.CreatePolicy(r.Context(), db.CreatePolicyParams{
			Name:         req.Name,
			PolicyID:     material.PolicyID,
			EncryptedKey: material.EncryptedKey,
			LockingSlot:  lockingSlot,
		})
		if err != nil {
			logger.Error("failed to persist policy", "name", req.Name, "error", err)
			writeError(w, "failed to create policy", http.StatusInternalServerError)
			return
		}

		logger.Info("policy created", "id", policy.ID, "name", policy.Name, "policy_id", policy.PolicyID)
		writeJSON(w, policyToResponse(policy), http.StatusCreated)
	})
}

// handleListPolicies returns a handler that lists all minting policies.
// GET /api/v1/policies
func handleListPolicies(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policies, err := store.ListPolicies(r.Context())
		if err != nil {
			logger.Error("failed to list policies", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]policyResponse, len(policies))
		for i, policy := range policies {
			resp[i] = policyToResponse(policy)
		}

		writeJSON(w, map[string]any{"policies": resp}, http.StatusOK)
	})
}

// decodeRequest decodes a JSON request body, normalizing the two failure
// modes (oversized body, malformed JSON) into client-facing errors.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid request body")
	}
	return nil
}

// validateName validates a wallet or policy name.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("name too long (max %d characters)", maxNameLength)
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("name contains non-printable characters")
		}
	}
	return nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
