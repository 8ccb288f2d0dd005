// Package client is the HTTP client for the heron wallet service. It is
// used by the CLI and is importable by anyone integrating with the API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client is the HTTP client for the heron wallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Wallet is a custodial wallet as reported by the service.
type Wallet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatedWallet is the one-time creation response. The mnemonic is only
// ever present here; the service does not store it.
type CreatedWallet struct {
	Wallet
	Mnemonic string `json:"mnemonic"`
}

// Balance is a wallet's aggregated unspent value, quantities as decimal
// strings keyed by unit.
type Balance struct {
	WalletID  string            `json:"wallet_id"`
	Address   string            `json:"address"`
	UtxoCount int               `json:"utxo_count"`
	Balance   map[string]string `json:"balance"`
}

// CreateWallet onboards a new custodial wallet.
func (c *Client) CreateWallet(ctx context.Context, name string) (*CreatedWallet, error) {
	var created CreatedWallet
	err := c.post(ctx, "/api/v1/wallets", map[string]any{"name": name}, &created)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("wallet created", "id", created.ID, "address", created.Address)
	return &created, nil
}

// GetWallet retrieves a wallet by id.
func (c *Client) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	var wallet Wallet
	if err := c.get(ctx, "/api/v1/wallets/"+url.PathEscape(id), &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}

// ListWallets retrieves all custodial wallets.
func (c *Client) ListWallets(ctx context.Context) ([]*Wallet, error) {
	var response struct {
		Wallets []*Wallet `json:"wallets"`
	}
	if err := c.get(ctx, "/api/v1/wallets", &response); err != nil {
		return nil, err
	}
	return response.Wallets, nil
}

// GetBalance retrieves a wallet's aggregated unspent value.
func (c *Client) GetBalance(ctx context.Context, id string) (*Balance, error) {
	var balance Balance
	if err := c.get(ctx, "/api/v1/wallets/"+url.PathEscape(id)+"/balance", &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// DeleteWallet removes a wallet. Its transaction history is retained
// server-side.
func (c *Client) DeleteWallet(ctx context.Context, id string) error {
	u := c.baseURL + "/api/v1/wallets/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}

	c.logger.Debug("wallet deleted", "id", id)
	return nil
}

// Policy is a minting policy as reported by the service.
type Policy struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PolicyID    string    `json:"policy_id"`
	LockingSlot *int64    `json:"locking_slot,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CreatePolicy registers a new minting policy. A non-nil locking slot adds
// an invalid-hereafter clause to the policy script.
func (c *Client) CreatePolicy(ctx context.Context, name string, lockingSlot *uint64) (*Policy, error) {
	reqBody := map[string]any{"name": name}
	if lockingSlot != nil {
		reqBody["locking_slot"] = *lockingSlot
	}
	var policy Policy
	if err := c.post(ctx, "/api/v1/policies", reqBody, &policy); err != nil {
		return nil, err
	}
	c.logger.Debug("policy created", "name", name, "policy_id", policy.PolicyID)
	return &policy, nil
}

// ListPolicies retrieves all minting policies.
func (c *Client) ListPolicies(ctx context.Context) ([]*Policy, error) {
	var response struct {
		Policies []*Policy `json:"policies"`
	}
	if err := c.get(ctx, "/api/v1/policies", &response); err != nil {
		return nil, err
	}
	return response.Policies, nil
}

// get issues a GET request and decodes a 200 response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// post issues a POST request and decodes a 201 response into out.
func (c *Client) post(ctx context.Context, path string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
