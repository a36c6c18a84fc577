// Package engine runs executions: it fans (adapter, category) jobs onto a
// bounded worker pool, normalizes and persists findings, drives the execution
// state machine, and triggers post-execution hooks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/promptshield/promptshield/pkg/adapters"
	"github.com/promptshield/promptshield/pkg/config"
	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/normalize"
	"github.com/promptshield/promptshield/pkg/store"
	"github.com/promptshield/promptshield/pkg/traces"
)

// Store is the persistence surface the engine depends on. Satisfied by
// *store.Stores; narrow enough to fake in tests.
type Store interface {
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	GetPipeline(ctx context.Context, id string) (*models.Pipeline, error)
	GetLLMConfig(ctx context.Context, id string) (*models.LLMConfig, error)
	ClaimPending(ctx context.Context) (*models.Execution, error)
	Transition(ctx context.Context, id string, from, to models.ExecutionStatus, errorMessage *string) error
	InsertFinding(ctx context.Context, f *models.Finding) error
	ListFindings(ctx context.Context, executionID string, filter models.FindingFilter) ([]*models.Finding, error)
	InsertEmbedding(ctx context.Context, e *models.Embedding) error
	InsertAgentTrace(ctx context.Context, t *models.AgentTrace) error
}

// Embedder is the post-execution embedding surface.
type Embedder interface {
	Enabled() bool
	ModelName() string
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// job is one (adapter, category) unit of work.
type job struct {
	adapter  adapters.Adapter
	category string
}

// Engine executes pipelines. Safe for concurrent RunExecution calls; each
// execution gets its own job pool.
type Engine struct {
	stores   Store
	registry *adapters.Registry
	embedder Embedder
	cfg      *config.Config
	logger   *slog.Logger
}

// NewEngine creates an execution engine.
func NewEngine(stores Store, registry *adapters.Registry, embedder Embedder, cfg *config.Config) *Engine {
	return &Engine{
		stores:   stores,
		registry: registry,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// RunExecution processes one claimed execution to a terminal state. The
// execution must already be Running (the queue worker claims Pending rows via
// compare-and-set). ctx cancellation triggers the graceful-drain path:
// in-flight probes finish and persist, remaining jobs are skipped, and the
// execution lands in Cancelled.
func (e *Engine) RunExecution(ctx context.Context, exec *models.Execution) {
	logger := e.logger.With("execution_id", exec.ID, "pipeline_id", exec.PipelineID)
	logger.Info("Starting execution")

	pipeline, llmConfig, err := e.loadInputs(ctx, exec)
	if err != nil {
		logger.Error("Failed to load execution inputs", "error", err)
		e.fail(exec.ID, err, logger)
		return
	}

	workSet := e.buildWorkSet(pipeline)
	if len(workSet) == 0 {
		logger.Warn("Execution has an empty work set",
			"libraries", pipeline.Libraries,
			"categories", pipeline.TestCategories)
	}

	// Per-execution deadline scales with the work set size.
	deadline := e.cfg.JobTimeout * time.Duration(max(1, len(workSet)))
	execCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	persistErr := e.runJobs(execCtx, exec, llmConfig, workSet, logger)

	// Terminal transition. Cancellation wins over timeout bookkeeping:
	// a user cancel drains into Cancelled, a deadline expiry into Failed.
	// A persistence failure is the one engine-level fault that fails the
	// execution outright.
	switch {
	case ctx.Err() != nil:
		if err := e.stores.Transition(context.WithoutCancel(ctx), exec.ID, models.StatusRunning, models.StatusCancelled, nil); err != nil {
			logger.Error("Failed to mark execution cancelled", "error", err)
		}
		logger.Info("Execution cancelled after drain")
	case execCtx.Err() != nil:
		msg := fmt.Sprintf("execution timed out after %s", deadline)
		e.failWithMessage(exec.ID, msg, logger)
	case persistErr != nil:
		e.failWithMessage(exec.ID, fmt.Sprintf("persistence failure: %v", persistErr), logger)
	default:
		// Post-execution hooks are best-effort: a failure here logs and the
		// execution still completes.
		e.runHooks(execCtx, exec, logger)
		if err := e.stores.Transition(execCtx, exec.ID, models.StatusRunning, models.StatusCompleted, nil); err != nil {
			logger.Error("Failed to mark execution completed", "error", err)
			return
		}
		logger.Info("Execution completed")
	}
}

// loadInputs fetches the pipeline and LLM config rows.
func (e *Engine) loadInputs(ctx context.Context, exec *models.Execution) (*models.Pipeline, *models.LLMConfig, error) {
	pipeline, err := e.stores.GetPipeline(ctx, exec.PipelineID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pipeline %s: %w", exec.PipelineID, err)
	}
	llmConfig, err := e.stores.GetLLMConfig(ctx, exec.LLMConfigID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load llm config %s: %w", exec.LLMConfigID, err)
	}
	return pipeline, llmConfig, nil
}

// buildWorkSet computes the (adapter, category) pairs the pipeline selects,
// keeping only pairs the registered adapter actually supports.
func (e *Engine) buildWorkSet(pipeline *models.Pipeline) []job {
	var workSet []job
	for _, library := range pipeline.Libraries {
		adapter, ok := e.registry.Get(library)
		if !ok {
			e.logger.Warn("Pipeline references unknown adapter", "library", library)
			continue
		}
		for _, category := range pipeline.TestCategories {
			if adapter.Supports(category) {
				workSet = append(workSet, job{adapter: adapter, category: category})
			}
		}
	}
	return workSet
}

// runJobs drains the work set through a bounded pool of workers and reports
// the first persistence failure. Workers observe cancellation between jobs,
// not mid-probe, so in-flight HTTP calls complete and persist before the
// drain finishes.
func (e *Engine) runJobs(ctx context.Context, exec *models.Execution, llmConfig *models.LLMConfig, workSet []job, logger *slog.Logger) error {
	jobs := make(chan job)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var persistErr error

	workers := min(e.cfg.WorkerParallelism, max(1, len(workSet)))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue // drain the channel without starting new work
				}
				if err := e.runJob(ctx, exec, llmConfig, j, logger); err != nil {
					mu.Lock()
					if persistErr == nil {
						persistErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, j := range workSet {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	return persistErr
}

// runJob executes one (adapter, category) pair and persists its findings.
// Adapter panics and errors are isolated: they become a single adapter_error
// finding and other jobs continue. Only a store write failure propagates.
func (e *Engine) runJob(ctx context.Context, exec *models.Execution, llmConfig *models.LLMConfig, j job, logger *slog.Logger) error {
	// A started job is not interrupted by cancellation: its probes and
	// inserts run on a context that keeps only the execution deadline.
	jobCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithDeadline(jobCtx, deadline)
		defer cancel()
	}

	raws, err := e.executeAdapter(jobCtx, llmConfig, j)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Adapter job failed",
			"adapter", j.adapter.Name(),
			"category", j.category,
			"error", err)
		raws = append(raws, models.RawFinding{
			Library:  j.adapter.Name(),
			Category: j.category,
			Severity: string(models.SeverityInfo),
			RiskType: models.RiskTypeAdapterError,
			Metadata: map[string]any{"error": err.Error()},
		})
	}

	for _, raw := range raws {
		var finding *models.Finding
		if raw.Library == "" || raw.Category == "" {
			// Ingest never discards data silently: unusable records become
			// info findings describing the validation failure.
			finding = normalize.ValidationFailure(exec.ID, j.adapter.Name(),
				fmt.Errorf("raw finding missing library or category (library=%q, category=%q)", raw.Library, raw.Category))
		} else {
			finding = normalize.Normalize(exec.ID, raw)
		}
		if err := e.stores.InsertFinding(jobCtx, finding); err != nil {
			if ctx.Err() != nil {
				return nil // the drain path owns the terminal status
			}
			logger.Error("Failed to persist finding",
				"adapter", j.adapter.Name(),
				"category", j.category,
				"error", err)
			return fmt.Errorf("failed to persist finding for (%s, %s): %w", j.adapter.Name(), j.category, err)
		}
	}
	return nil
}

// executeAdapter invokes the adapter with panic isolation. The stack trace
// lands in the returned error so it surfaces in the finding metadata.
func (e *Engine) executeAdapter(ctx context.Context, llmConfig *models.LLMConfig, j job) (raws []models.RawFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return j.adapter.Execute(ctx, llmConfig, []string{j.category})
}

// fail transitions the execution to Failed with the error's message.
func (e *Engine) fail(executionID string, cause error, logger *slog.Logger) {
	e.failWithMessage(executionID, cause.Error(), logger)
}

func (e *Engine) failWithMessage(executionID, msg string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.stores.Transition(ctx, executionID, models.StatusRunning, models.StatusFailed, &msg); err != nil {
		logger.Error("Failed to mark execution failed", "error", err)
		return
	}
	logger.Warn("Execution failed", "error_message", msg)
}

// runHooks triggers the post-execution hooks: embedding generation and
// agent-trace extraction. Both are best-effort.
func (e *Engine) runHooks(ctx context.Context, exec *models.Execution, logger *slog.Logger) {
	findings, err := e.stores.ListFindings(ctx, exec.ID, models.FindingFilter{})
	if err != nil {
		logger.Error("Post-execution hooks skipped: failed to list findings", "error", err)
		return
	}

	e.embedFindings(ctx, findings, logger)

	if e.cfg.EnableAgentTraces {
		e.extractTraces(ctx, findings, logger)
	}
}

// embedFindings vectorizes every finding response and persists the vectors.
// An unreachable embedding service degrades gracefully: embedding drift for
// this execution is later skipped, not failed.
func (e *Engine) embedFindings(ctx context.Context, findings []*models.Finding, logger *slog.Logger) {
	if e.embedder == nil || !e.embedder.Enabled() || len(findings) == 0 {
		return
	}

	texts := make([]string, len(findings))
	for i, f := range findings {
		texts[i] = f.EvidenceResponse
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		logger.Warn("Embedding hook failed, continuing without embeddings", "error", err)
		return
	}

	stored := 0
	for i, f := range findings {
		emb := &models.Embedding{
			FindingID: f.ID,
			ModelName: e.embedder.ModelName(),
			Vector:    vectors[i],
		}
		if err := e.stores.InsertEmbedding(ctx, emb); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				continue
			}
			logger.Warn("Failed to persist embedding", "finding_id", f.ID, "error", err)
			continue
		}
		stored++
	}
	logger.Info("Embedding hook finished", "findings", len(findings), "embeddings", stored)
}

// extractTraces persists agent traces found in finding metadata.
func (e *Engine) extractTraces(ctx context.Context, findings []*models.Finding, logger *slog.Logger) {
	extracted := traces.ExtractAll(findings)
	for _, t := range extracted {
		if err := e.stores.InsertAgentTrace(ctx, t); err != nil {
			logger.Warn("Failed to persist agent trace", "finding_id", t.FindingID, "error", err)
		}
	}
	if len(extracted) > 0 {
		logger.Info("Agent trace extraction finished", "traces", len(extracted))
	}
}
