// Package registry loads the CIP-10 transaction metadata label registry
// and answers whether a metadata label is reserved by a known standard.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// DefaultURL is the canonical CIP-10 registry location.
const DefaultURL = "https://raw.githubusercontent.com/cardano-foundation/CIPs/master/CIP-0010/registry.json"

// entry mirrors one record of the upstream registry.json. The label is a
// string in some historical entries, so it is decoded leniently.
type entry struct {
	Label       json.Number `json:"transaction_metadatum_label"`
	Description string      `json:"description"`
}

// Registry is a refreshing snapshot of the CIP-10 label registry.
type Registry struct {
	url    string
	client *http.Client
	logger *slog.Logger

	mu        sync.RWMutex
	labels    map[uint64]string
	fetchedAt time.Time
}

// New creates a registry reader for the given URL. An empty url selects
// the canonical upstream registry.
func New(url string, logger *slog.Logger) *Registry {
	if url == "" {
		url = DefaultURL
	}
	return &Registry{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Load fetches and parses the registry, replacing the current snapshot.
func (r *Registry) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return fmt.Errorf("build registry request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch label registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch label registry: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read label registry: %w", err)
	}

	var entries []entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("parse label registry: %w", err)
	}

	labels := make(map[uint64]string, len(entries))
	for _, e := range entries {
		label, err := strconv.ParseUint(e.Label.String(), 10, 64)
		if err != nil {
			continue
		}
		labels[label] = e.Description
	}

	r.mu.Lock()
	r.labels = labels
	r.fetchedAt = time.Now()
	r.mu.Unlock()

	r.logger.Info("label registry loaded", "labels", len(labels), "url", r.url)
	return nil
}

// Run refreshes the registry at the given interval until the context is
// cancelled. A failed refresh keeps the previous snapshot.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Load(ctx); err != nil {
				r.logger.Warn("label registry refresh failed", "error", err)
			}
		}
	}
}

// IsKnownLabel reports whether the label is registered. When the registry
// has never loaded, every label is treated as known so a registry outage
// cannot block transaction intake.
func (r *Registry) IsKnownLabel(label uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.labels == nil {
		return true
	}
	_, ok := r.labels[label]
	return ok
}

// Describe returns the registered description for a label, if any.
func (r *Registry) Describe(label uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc, ok := r.labels[label]
	return desc, ok
}

// Loaded reports whether a snapshot has been fetched.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.labels != nil
}
