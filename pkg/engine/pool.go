package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/promptshield/promptshield/pkg/config"
)

// Pool manages the queue workers that claim pending executions and the
// cancel registry used to deliver cancellation to running executions.
type Pool struct {
	engine  *Engine
	stores  Store
	cfg     *config.Config
	workers []*Worker

	// Cancel registry: execution_id → cancel function.
	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
	started    bool
}

// NewPool creates a worker pool.
func NewPool(engine *Engine, stores Store, cfg *config.Config) *Pool {
	return &Pool{
		engine:     engine,
		stores:     stores,
		cfg:        cfg,
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start spawns the queue workers. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	slog.Info("Starting worker pool", "queue_workers", p.cfg.QueueWorkers)
	for i := 0; i < p.cfg.QueueWorkers; i++ {
		w := NewWorker(i, p.engine, p.stores, p.cfg, p)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
}

// Stop signals all workers to stop and waits for active executions to drain.
func (p *Pool) Stop() {
	slog.Info("Stopping worker pool gracefully")
	active := p.activeExecutionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active executions to complete",
			"count", len(active),
			"execution_ids", active)
	}
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("Worker pool stopped")
}

// RegisterRun stores a cancel function for manual cancellation.
func (p *Pool) RegisterRun(executionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[executionID] = cancel
}

// UnregisterRun removes the cancel function when processing ends.
func (p *Pool) UnregisterRun(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, executionID)
}

// CancelRun triggers graceful cancellation of a running execution on this
// process. Returns true if the execution was found.
func (p *Pool) CancelRun(executionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[executionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health summarizes pool state for the health endpoint.
func (p *Pool) Health() PoolHealth {
	p.mu.RLock()
	active := len(p.activeRuns)
	p.mu.RUnlock()
	return PoolHealth{
		Workers:          len(p.workers),
		ActiveExecutions: active,
	}
}

// PoolHealth contains health information for the worker pool.
type PoolHealth struct {
	Workers          int `json:"workers"`
	ActiveExecutions int `json:"active_executions"`
}

func (p *Pool) activeExecutionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.activeRuns))
	for id := range p.activeRuns {
		ids = append(ids, id)
	}
	return ids
}
