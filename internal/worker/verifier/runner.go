// Package verifier runs the background workers that watch conversation
// snapshots: the document verifier and the sanction trigger.
package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// DefaultInterval is the polling period used when none is configured.
const DefaultInterval = 5 * time.Second

// Task is one background check applied to a single snapshot per cycle.
type Task interface {
	Name() string
	// Cycle inspects the store and commits at most one mutation. It
	// reports whether anything was written.
	Cycle(ctx context.Context, store statestore.Store) (bool, error)
}

// Runner polls every store from a Source and hands each to its Task.
type Runner struct {
	source   statestore.Source
	task     Task
	logger   *logging.Logger
	interval time.Duration
	wake     <-chan struct{}
	metrics  *metrics.WorkerMetrics

	stopOnce sync.Once
	stop     chan struct{}
}

func NewRunner(source statestore.Source, task Task, logger *logging.Logger) *Runner {
	if source == nil {
		panic("verifier: source cannot be nil")
	}
	if task == nil {
		panic("verifier: task cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		source:   source,
		task:     task,
		logger:   logger.With("worker", task.Name()),
		interval: DefaultInterval,
		stop:     make(chan struct{}),
	}
}

func (r *Runner) WithInterval(d time.Duration) *Runner {
	if d > 0 {
		r.interval = d
	}
	return r
}

// WithWake adds an early-wake channel, typically fed by FileStore.Watch.
func (r *Runner) WithWake(ch <-chan struct{}) *Runner {
	r.wake = ch
	return r
}

func (r *Runner) WithMetrics(m *metrics.WorkerMetrics) *Runner {
	r.metrics = m
	return r
}

// Stop asks Run to return after the current cycle.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run cycles once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("worker started", "interval", r.interval.String())
	defer r.logger.Info("worker stopped")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
		case _, ok := <-r.wake:
			if !ok {
				r.wake = nil
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		r.RunOnce(ctx)
	}
}

// RunOnce performs a single cycle over every store and returns how many
// were changed. Errors are logged, never returned.
func (r *Runner) RunOnce(ctx context.Context) int {
	stores, err := r.source.Stores(ctx)
	if err != nil {
		r.logger.Error("listing state stores failed", "error", err)
		return 0
	}
	changed := 0
	for _, store := range stores {
		if ctx.Err() != nil {
			break
		}
		if r.cycle(ctx, store) {
			changed++
		}
	}
	return changed
}

func (r *Runner) cycle(ctx context.Context, store statestore.Store) (changed bool) {
	start := time.Now()
	outcome := "idle"
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("worker cycle panicked", "panic", fmt.Sprint(rec), "store", store.Location())
			outcome = "panic"
			changed = false
		}
		r.metrics.ObserveCycle(r.task.Name(), outcome, time.Since(start).Seconds())
	}()

	changed, err := r.task.Cycle(ctx, store)
	switch {
	case err != nil:
		outcome = "error"
		r.logger.Error("worker cycle failed", "error", err, "store", store.Location())
	case changed:
		outcome = "changed"
		r.logger.Debug("worker cycle committed", "store", store.Location())
	}
	return changed
}
