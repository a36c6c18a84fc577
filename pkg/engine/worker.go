package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/promptshield/promptshield/pkg/config"
	"github.com/promptshield/promptshield/pkg/store"
)

// Worker is a single queue worker that polls for pending executions, claims
// one via compare-and-set, and runs it to a terminal state.
type Worker struct {
	id       int
	engine   *Engine
	stores   Store
	cfg      *config.Config
	registry RunRegistry
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// RunRegistry is the subset of Pool used by Worker for cancel registration.
type RunRegistry interface {
	RegisterRun(executionID string, cancel context.CancelFunc)
	UnregisterRun(executionID string)
}

// NewWorker creates a new queue worker.
func NewWorker(id int, engine *Engine, stores Store, cfg *config.Config, registry RunRegistry) *Worker {
	return &Worker{
		id:       id,
		engine:   engine,
		stores:   stores,
		cfg:      cfg,
		registry: registry,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// execution. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// run is the main polling loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id)
	log.Info("Queue worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Queue worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, queue worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing execution", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// pollAndProcess claims the oldest pending execution and runs it. The claim
// is a compare-and-set transition Pending → Running, so concurrent workers
// (and replicas sharing the database) never double-claim.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	exec, err := w.stores.ClaimPending(ctx)
	if err != nil {
		return err
	}

	// Detached context: the run outlives the poll call and is cancelled only
	// through the cancel registry or process shutdown.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	w.registry.RegisterRun(exec.ID, cancel)
	defer w.registry.UnregisterRun(exec.ID)

	w.engine.RunExecution(runCtx, exec)
	return nil
}

// pollInterval returns the base interval with jitter so workers don't poll
// in lockstep.
func (w *Worker) pollInterval() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(w.cfg.QueuePollJitter)))
	return w.cfg.QueuePollInterval + jitter
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}
