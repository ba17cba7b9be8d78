// Package worker persists completed calculations published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Worker stores every completed computation after the pipeline has returned.
// The engine itself never touches the repository.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	cache domain.Cache

	cacheTTL time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// CacheTTL is how long a saved calculation stays in the cache.
	// Zero disables cache warming.
	CacheTTL time.Duration
}

// NewWorker creates a new persistence worker. cache may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to completed computations.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicComputationCompleted, w.handleMessage)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicComputationCompleted,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	if err := w.persist(ctx, msg); err != nil {
		w.failed.Add(1)
		return err
	}
	w.processed.Add(1)
	return nil
}

// persist decodes a calculation and writes it to the repository, then the cache.
func (w *Worker) persist(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	if msg.Identity == "" {
		return errors.New("message has no identity")
	}

	var calc domain.Calculation
	if err := json.Unmarshal(msg.Payload, &calc); err != nil {
		slog.Error("failed to parse calculation message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveCalculation(ctx, msg.Identity, &calc); err != nil {
			slog.Error("failed to save calculation",
				"calculation_id", calc.ID,
				"error", err,
			)
			return err
		}
	}

	if w.cache != nil && w.cacheTTL > 0 {
		if err := w.cache.SetCalculation(ctx, msg.Identity, &calc, w.cacheTTL); err != nil {
			slog.Warn("failed to cache calculation",
				"calculation_id", calc.ID,
				"error", err,
			)
		}
	}

	slog.Info("calculation saved",
		"calculation_id", calc.ID,
		"kind", calc.Kind,
		"financial_year", calc.FinancialYear,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
