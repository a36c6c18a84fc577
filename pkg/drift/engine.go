// Package drift compares two executions' persisted artifacts across five
// channels and aggregates the observations into a unified drift score.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/promptshield/promptshield/pkg/baseline"
	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/scoring"
)

// ArtifactReader is the read surface the engine needs for both sides of a
// comparison. The database is the source of truth — no in-process caches.
type ArtifactReader interface {
	ListFindings(ctx context.Context, executionID string, filter models.FindingFilter) ([]*models.Finding, error)
	ListEmbeddings(ctx context.Context, executionID string) ([]*models.Embedding, error)
	ListAgentTraces(ctx context.Context, executionID string) ([]*models.AgentTrace, error)
}

// ComparisonWriter persists comparison state and drift findings.
type ComparisonWriter interface {
	UpsertComparison(ctx context.Context, currentID, baselineID string) (*models.DriftComparison, error)
	SetComparisonStatus(ctx context.Context, id string, status models.DriftComparisonStatus) error
	Aggregate(ctx context.Context, id string, score float64, grade string) error
	ReplaceFindings(ctx context.Context, currentID, baselineID string, findings []*models.DriftFinding) error
}

// ExecutionReader loads the current execution for baseline resolution.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
}

// Result is the outcome of one comparison.
type Result struct {
	Comparison *models.DriftComparison `json:"comparison"`
	Findings   []*models.DriftFinding  `json:"findings"`
	DriftScore float64                 `json:"drift_score"`
	DriftGrade string                  `json:"drift_grade"`
}

// Engine runs drift comparisons. Safe for concurrent use.
type Engine struct {
	executions ExecutionReader
	artifacts  ArtifactReader
	writer     ComparisonWriter
	selector   *baseline.Selector
	thresholds map[models.DriftChannel]float64
	timeout    time.Duration
	logger     *slog.Logger
}

// NewEngine creates a drift engine.
func NewEngine(
	executions ExecutionReader,
	artifacts ArtifactReader,
	writer ComparisonWriter,
	selector *baseline.Selector,
	thresholds map[models.DriftChannel]float64,
	timeout time.Duration,
) *Engine {
	return &Engine{
		executions: executions,
		artifacts:  artifacts,
		writer:     writer,
		selector:   selector,
		thresholds: thresholds,
		timeout:    timeout,
		logger:     slog.Default(),
	}
}

// channelFunc computes one channel's findings from collected artifacts.
type channelFunc func(*artifacts) ([]*models.DriftFinding, error)

// Compare resolves the baseline, runs the five channels, persists the
// replacement set of drift findings for the pair, and aggregates the unified
// drift score. Idempotent per (current, baseline) pair: re-running replaces
// prior findings. Baseline resolution errors surface to the caller and
// persist nothing.
func (e *Engine) Compare(ctx context.Context, currentID string, ref baseline.Ref) (*Result, error) {
	current, err := e.executions.GetExecution(ctx, currentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load current execution: %w", err)
	}

	base, err := e.selector.Resolve(ctx, current, ref)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("current_execution_id", current.ID, "baseline_execution_id", base.ID)
	logger.Info("Starting drift comparison")

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	comparison, err := e.writer.UpsertComparison(ctx, current.ID, base.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create drift comparison: %w", err)
	}

	findings, err := e.run(ctx, comparison, current.ID, base.ID, logger)
	if err != nil {
		if statusErr := e.writer.SetComparisonStatus(context.WithoutCancel(ctx), comparison.ID, models.ComparisonFailed); statusErr != nil {
			logger.Error("Failed to mark comparison failed", "error", statusErr)
		}
		return nil, err
	}

	score := scoring.DriftScore(findings)
	grade := scoring.DriftGrade(score)
	if err := e.writer.Aggregate(ctx, comparison.ID, score, grade); err != nil {
		return nil, fmt.Errorf("failed to aggregate drift comparison: %w", err)
	}

	logger.Info("Drift comparison aggregated",
		"findings", len(findings),
		"drift_score", score,
		"drift_grade", grade)

	comparison.Status = models.ComparisonAggregated
	comparison.DriftScore = &score
	comparison.DriftGrade = &grade
	return &Result{
		Comparison: comparison,
		Findings:   findings,
		DriftScore: score,
		DriftGrade: grade,
	}, nil
}

// run walks the comparison state machine: Collecting → Computing → Emitting.
func (e *Engine) run(ctx context.Context, comparison *models.DriftComparison, currentID, baselineID string, logger *slog.Logger) ([]*models.DriftFinding, error) {
	if err := e.writer.SetComparisonStatus(ctx, comparison.ID, models.ComparisonCollecting); err != nil {
		return nil, err
	}
	collected, err := e.collect(ctx, currentID, baselineID)
	if err != nil {
		return nil, fmt.Errorf("failed to collect comparison artifacts: %w", err)
	}

	if err := e.writer.SetComparisonStatus(ctx, comparison.ID, models.ComparisonComputing); err != nil {
		return nil, err
	}

	channels := []struct {
		name models.DriftChannel
		fn   channelFunc
	}{
		{models.ChannelOutput, e.outputChannel},
		{models.ChannelSafety, e.safetyChannel},
		{models.ChannelDistribution, e.distributionChannel},
		{models.ChannelEmbedding, e.embeddingChannel},
		{models.ChannelAgentTool, e.agentToolChannel},
	}

	// The channels are independent: run them concurrently but keep the
	// per-channel result slots ordered so output is deterministic. A failing
	// channel degrades to a channel_error finding instead of aborting the
	// comparison.
	results := make([][]*models.DriftFinding, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			findings, err := ch.fn(collected)
			if err != nil {
				logger.Warn("Drift channel failed", "channel", ch.name, "error", err)
				findings = []*models.DriftFinding{
					collected.finding(ch.name, MetricChannelError, 0, e.thresholds[ch.name], models.SeverityLow, map[string]any{
						"error": err.Error(),
					}),
				}
			}
			results[i] = findings
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var findings []*models.DriftFinding
	for _, r := range results {
		findings = append(findings, r...)
	}

	if err := e.writer.SetComparisonStatus(ctx, comparison.ID, models.ComparisonEmitting); err != nil {
		return nil, err
	}
	if err := e.writer.ReplaceFindings(ctx, currentID, baselineID, findings); err != nil {
		return nil, fmt.Errorf("failed to persist drift findings: %w", err)
	}

	return findings, nil
}

// collect loads both sides' artifacts from the store.
func (e *Engine) collect(ctx context.Context, currentID, baselineID string) (*artifacts, error) {
	a := &artifacts{currentID: currentID, baselineID: baselineID}

	var err error
	if a.currentFindings, err = e.artifacts.ListFindings(ctx, currentID, models.FindingFilter{}); err != nil {
		return nil, err
	}
	if a.baselineFindings, err = e.artifacts.ListFindings(ctx, baselineID, models.FindingFilter{}); err != nil {
		return nil, err
	}
	if a.currentEmbeddings, err = e.artifacts.ListEmbeddings(ctx, currentID); err != nil {
		return nil, err
	}
	if a.baselineEmbeddings, err = e.artifacts.ListEmbeddings(ctx, baselineID); err != nil {
		return nil, err
	}
	if a.currentTraces, err = e.artifacts.ListAgentTraces(ctx, currentID); err != nil {
		return nil, err
	}
	if a.baselineTraces, err = e.artifacts.ListAgentTraces(ctx, baselineID); err != nil {
		return nil, err
	}
	return a, nil
}
