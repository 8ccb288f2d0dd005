package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/heronlabs/heron/service/metrics"
)

// jobProcessor runs one transaction job; the return value asks for a
// re-enqueue at the tail of the wallet's queue.
type jobProcessor interface {
	Process(ctx context.Context, txID uuid.UUID) bool
}

// Supervisor owns one worker goroutine per wallet and guarantees that at
// most one build runs for a wallet at any time. Jobs for different wallets
// proceed fully in parallel; jobs for one wallet run in enqueue order, with
// retries re-enqueued at the tail.
type Supervisor struct {
	store      Store
	processor  jobProcessor
	metrics    *metrics.Metrics
	logger     *slog.Logger
	queueDepth int

	mu      sync.Mutex
	workers map[uuid.UUID]*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type worker struct {
	walletID uuid.UUID
	jobs     chan uuid.UUID
	done     chan struct{}
}

// NewSupervisor creates a supervisor. queueDepth bounds each wallet's
// pending-job buffer.
func NewSupervisor(store Store, processor jobProcessor, m *metrics.Metrics, logger *slog.Logger, queueDepth int) *Supervisor {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Supervisor{
		store:      store,
		processor:  processor,
		metrics:    m,
		logger:     logger.With("component", "supervisor"),
		queueDepth: queueDepth,
		workers:    make(map[uuid.UUID]*worker),
	}
}

// Start launches a worker for every known wallet and re-enqueues all
// transactions left queued by a previous run, in creation order.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("supervisor already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return fmt.Errorf("list wallets at startup: %w", err)
	}
	for _, w := range wallets {
		s.StartWorker(w.ID)
	}

	queued, err := s.store.ListQueuedTransactions(ctx)
	if err != nil {
		return fmt.Errorf("recover queued transactions: %w", err)
	}
	for _, txID := range queued {
		if err := s.Enqueue(ctx, txID); err != nil {
			s.logger.ErrorContext(ctx, "failed to re-enqueue queued transaction",
				"transaction_id", txID,
				"error", err,
			)
		}
	}

	s.logger.InfoContext(ctx, "supervisor started",
		"workers", len(wallets),
		"recovered_jobs", len(queued),
	)
	return nil
}

// Enqueue places a job on its owning wallet's queue, starting that
// wallet's worker if it is not yet alive. This is the engine's sole entry
// point for new work.
func (s *Supervisor) Enqueue(ctx context.Context, txID uuid.UUID) error {
	txn, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return fmt.Errorf("resolve transaction %s: %w", txID, err)
	}

	w := s.StartWorker(txn.WalletID)

	select {
	case w.jobs <- txID:
		s.metrics.SetQueueDepth(txn.WalletID.String(), float64(len(w.jobs)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return fmt.Errorf("worker for wallet %s is stopped", txn.WalletID)
	}
}

// StartWorker idempotently ensures a live worker for the wallet and
// returns its handle. The registry is consulted under the lock, so two
// concurrent calls can never start duplicate workers.
func (s *Supervisor) StartWorker(walletID uuid.UUID) *worker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[walletID]; ok && isAlive(w) {
		return w
	}

	w := &worker{
		walletID: walletID,
		jobs:     make(chan uuid.UUID, s.queueDepth),
		done:     make(chan struct{}),
	}
	s.workers[walletID] = w

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go s.run(ctx, w)

	s.logger.Info("worker started", "wallet_id", walletID)
	return w
}

// IsWorkerAlive reports whether the wallet currently has a live worker.
func (s *Supervisor) IsWorkerAlive(walletID uuid.UUID) bool {
	s.mu.Lock()
	w, ok := s.workers[walletID]
	s.mu.Unlock()
	return ok && isAlive(w)
}

func isAlive(w *worker) bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Stop cancels all workers and waits for in-flight jobs to finish their
// current step.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Supervisor) run(ctx context.Context, w *worker) {
	defer s.wg.Done()
	defer close(w.done)

	walletLabel := w.walletID.String()
	for {
		select {
		case <-ctx.Done():
			return
		case txID := <-w.jobs:
			s.metrics.SetQueueDepth(walletLabel, float64(len(w.jobs)))
			requeue := s.processor.Process(ctx, txID)
			if requeue {
				s.requeueTail(ctx, w, txID)
			}
		}
	}
}

// requeueTail puts a retrying job back at the end of the queue. When the
// buffer is momentarily full the send is completed from a goroutine so the
// worker can keep draining; ordering among retries is already best-effort.
func (s *Supervisor) requeueTail(ctx context.Context, w *worker, txID uuid.UUID) {
	select {
	case w.jobs <- txID:
		s.metrics.SetQueueDepth(w.walletID.String(), float64(len(w.jobs)))
	default:
		go func() {
			select {
			case w.jobs <- txID:
			case <-ctx.Done():
			}
		}()
	}
}
