package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/store"
	testdb "github.com/promptshield/promptshield/test/database"
)

// fixture creates stores plus one llm config and pipeline to hang
// executions off.
func fixture(t *testing.T) (*store.Stores, *models.Pipeline) {
	t.Helper()
	stores := store.New(testdb.NewTestDB(t))
	ctx := context.Background()

	cfg, err := stores.CreateLLMConfig(ctx, models.CreateLLMConfigRequest{
		Name:            "staging-llm",
		EndpointURL:     "http://llm.test/v1/chat",
		PayloadTemplate: `{"prompt":"{prompt}"}`,
	})
	require.NoError(t, err)

	pipeline, err := stores.CreatePipeline(ctx, models.CreatePipelineRequest{
		Name:           "red-team",
		LLMConfigID:    cfg.ID,
		Libraries:      []string{"garak", "pyrit"},
		TestCategories: []string{"jailbreak"},
	})
	require.NoError(t, err)

	return stores, pipeline
}

func completedExecution(t *testing.T, stores *store.Stores, pipeline *models.Pipeline) *models.Execution {
	t.Helper()
	ctx := context.Background()
	exec, err := stores.CreateExecution(ctx, pipeline.ID, pipeline.LLMConfigID)
	require.NoError(t, err)
	require.NoError(t, stores.Transition(ctx, exec.ID, models.StatusPending, models.StatusRunning, nil))
	require.NoError(t, stores.Transition(ctx, exec.ID, models.StatusRunning, models.StatusCompleted, nil))
	exec.Status = models.StatusCompleted
	return exec
}

func TestCatalogStore(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	t.Run("get pipeline round-trips", func(t *testing.T) {
		got, err := stores.GetPipeline(ctx, pipeline.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"garak", "pyrit"}, got.Libraries)
		assert.Equal(t, []string{"jailbreak"}, got.TestCategories)
	})

	t.Run("unknown id returns ErrNotFound", func(t *testing.T) {
		_, err := stores.GetPipeline(ctx, "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("pipeline requires existing llm config", func(t *testing.T) {
		_, err := stores.CreatePipeline(ctx, models.CreatePipelineRequest{
			Name:           "bad",
			LLMConfigID:    "missing",
			Libraries:      []string{"garak"},
			TestCategories: []string{"jailbreak"},
		})
		assert.True(t, store.IsValidationError(err))
	})

	t.Run("llm config defaults applied", func(t *testing.T) {
		cfg, err := stores.CreateLLMConfig(ctx, models.CreateLLMConfigRequest{
			Name:            "minimal",
			EndpointURL:     "http://llm.test",
			PayloadTemplate: `{}`,
		})
		require.NoError(t, err)
		assert.Equal(t, "POST", cfg.Method)
		assert.Equal(t, 30, cfg.TimeoutSeconds)
	})
}

func TestExecutionStore_Lifecycle(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	exec, err := stores.CreateExecution(ctx, pipeline.ID, pipeline.LLMConfigID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, exec.Status)

	t.Run("claim transitions pending to running", func(t *testing.T) {
		claimed, err := stores.ClaimPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, exec.ID, claimed.ID)
		assert.Equal(t, models.StatusRunning, claimed.Status)
		assert.NotNil(t, claimed.StartedAt)
	})

	t.Run("empty queue returns ErrNotFound", func(t *testing.T) {
		_, err := stores.ClaimPending(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("stale CAS is rejected", func(t *testing.T) {
		err := stores.Transition(ctx, exec.ID, models.StatusPending, models.StatusRunning, nil)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})

	t.Run("running completes with timestamp", func(t *testing.T) {
		require.NoError(t, stores.Transition(ctx, exec.ID, models.StatusRunning, models.StatusCompleted, nil))
		got, err := stores.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("terminal state refuses further transitions", func(t *testing.T) {
		err := stores.Transition(ctx, exec.ID, models.StatusCompleted, models.StatusRunning, nil)
		assert.ErrorIs(t, err, store.ErrInvalidTransition)
	})
}

func TestFindingStore_Guards(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	exec, err := stores.CreateExecution(ctx, pipeline.ID, pipeline.LLMConfigID)
	require.NoError(t, err)

	finding := &models.Finding{
		ExecutionID:      exec.ID,
		Library:          "garak",
		TestCategory:     "jailbreak",
		Severity:         models.SeverityHigh,
		RiskType:         "persona_jailbreak",
		EvidencePrompt:   "p",
		EvidenceResponse: "r",
		Metadata:         map[string]any{"marker": "pwned"},
	}

	t.Run("insert rejected while pending", func(t *testing.T) {
		err := stores.InsertFinding(ctx, finding)
		assert.ErrorIs(t, err, store.ErrExecutionNotRunning)
	})

	require.NoError(t, stores.Transition(ctx, exec.ID, models.StatusPending, models.StatusRunning, nil))

	t.Run("insert succeeds while running", func(t *testing.T) {
		require.NoError(t, stores.InsertFinding(ctx, finding))
		assert.Positive(t, finding.ID)
	})

	t.Run("embedding unique per finding", func(t *testing.T) {
		emb := &models.Embedding{FindingID: finding.ID, ModelName: "m", Vector: []float64{1, 2}}
		require.NoError(t, stores.InsertEmbedding(ctx, emb))

		dup := &models.Embedding{FindingID: finding.ID, ModelName: "m", Vector: []float64{3, 4}}
		assert.ErrorIs(t, stores.InsertEmbedding(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("filters apply", func(t *testing.T) {
		second := &models.Finding{
			ExecutionID: exec.ID, Library: "pyrit", TestCategory: "jailbreak",
			Severity: models.SeverityLow, RiskType: "x",
		}
		require.NoError(t, stores.InsertFinding(ctx, second))

		highOnly, err := stores.ListFindings(ctx, exec.ID, models.FindingFilter{Severity: models.SeverityHigh})
		require.NoError(t, err)
		require.Len(t, highOnly, 1)
		assert.Equal(t, "garak", highOnly[0].Library)
		assert.Equal(t, "pwned", highOnly[0].Metadata["marker"])

		counts, err := stores.SeverityCounts(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, map[models.Severity]int{models.SeverityHigh: 1, models.SeverityLow: 1}, counts)
	})

	t.Run("insert rejected after completion", func(t *testing.T) {
		require.NoError(t, stores.Transition(ctx, exec.ID, models.StatusRunning, models.StatusCompleted, nil))
		late := &models.Finding{ExecutionID: exec.ID, Library: "garak", TestCategory: "jailbreak", Severity: models.SeverityLow, RiskType: "x"}
		assert.ErrorIs(t, stores.InsertFinding(ctx, late), store.ErrExecutionNotRunning)
	})
}

func TestBaselineStore(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	completed := completedExecution(t, stores, pipeline)
	pending, err := stores.CreateExecution(ctx, pipeline.ID, pipeline.LLMConfigID)
	require.NoError(t, err)

	t.Run("requires completed execution", func(t *testing.T) {
		_, err := stores.CreateBaseline(ctx, models.CreateBaselineRequest{ExecutionID: pending.ID, Name: "nope"})
		assert.True(t, store.IsValidationError(err))
	})

	tag := "golden"
	b, err := stores.CreateBaseline(ctx, models.CreateBaselineRequest{ExecutionID: completed.ID, Name: "golden baseline", Tag: &tag})
	require.NoError(t, err)

	t.Run("tag lookup", func(t *testing.T) {
		got, err := stores.GetBaselineByTag(ctx, "golden")
		require.NoError(t, err)
		assert.Equal(t, b.ID, got.ID)
	})

	t.Run("tag unique", func(t *testing.T) {
		_, err := stores.CreateBaseline(ctx, models.CreateBaselineRequest{ExecutionID: completed.ID, Name: "dup", Tag: &tag})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("execution referenced by baseline cannot be deleted", func(t *testing.T) {
		assert.ErrorIs(t, stores.DeleteExecution(ctx, completed.ID), store.ErrExecutionReferenced)
	})

	t.Run("baseline referenced by drift cannot be deleted", func(t *testing.T) {
		current := completedExecution(t, stores, pipeline)
		_, err := stores.UpsertComparison(ctx, current.ID, completed.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, stores.DeleteBaseline(ctx, b.ID), store.ErrBaselineReferenced)
	})
}

func TestExecutionStore_PreviousCompleted(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	first := completedExecution(t, stores, pipeline)
	second := completedExecution(t, stores, pipeline)

	prev, err := stores.PreviousCompleted(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, prev.ID)

	_, err = stores.PreviousCompleted(ctx, first)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDriftStore_ReplaceFindings(t *testing.T) {
	stores, pipeline := fixture(t)
	ctx := context.Background()

	current := completedExecution(t, stores, pipeline)
	base := completedExecution(t, stores, pipeline)

	comparison, err := stores.UpsertComparison(ctx, current.ID, base.ID)
	require.NoError(t, err)

	mk := func(metric string, value float64) *models.DriftFinding {
		return &models.DriftFinding{
			CurrentExecutionID:  current.ID,
			BaselineExecutionID: base.ID,
			Channel:             models.ChannelOutput,
			Metric:              metric,
			Value:               value,
			Threshold:           0.2,
			Severity:            models.SeverityHigh,
		}
	}

	require.NoError(t, stores.ReplaceFindings(ctx, current.ID, base.ID, []*models.DriftFinding{
		mk("response_length_ks", 0.4), mk("response_entropy_delta", 0.3),
	}))
	require.NoError(t, stores.Aggregate(ctx, comparison.ID, 80, "B"))

	t.Run("rerun replaces prior findings", func(t *testing.T) {
		require.NoError(t, stores.ReplaceFindings(ctx, current.ID, base.ID, []*models.DriftFinding{
			mk("response_length_ks", 0.5),
		}))

		got, err := stores.ListDriftFindings(ctx, current.ID, base.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 0.5, got[0].Value)
	})

	t.Run("latest comparison carries score", func(t *testing.T) {
		got, err := stores.LatestComparison(ctx, current.ID)
		require.NoError(t, err)
		require.NotNil(t, got.DriftScore)
		assert.Equal(t, 80.0, *got.DriftScore)
		assert.Equal(t, "B", *got.DriftGrade)
	})

	t.Run("upsert resets pair", func(t *testing.T) {
		again, err := stores.UpsertComparison(ctx, current.ID, base.ID)
		require.NoError(t, err)
		assert.Equal(t, comparison.ID, again.ID, "pair keeps its comparison row")
	})
}
