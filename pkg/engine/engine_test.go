package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshield/promptshield/pkg/adapters"
	"github.com/promptshield/promptshield/pkg/config"
	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/store"
)

// memStore is an in-memory engine.Store with the same state-monotonicity
// guard as the SQL store: inserts only land on a Running execution.
type memStore struct {
	mu         sync.Mutex
	executions map[string]*models.Execution
	pipelines  map[string]*models.Pipeline
	configs    map[string]*models.LLMConfig
	findings   []*models.Finding
	embeddings []*models.Embedding
	traces     []*models.AgentTrace
	nextID     int64
	insertErr  error
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[string]*models.Execution),
		pipelines:  make(map[string]*models.Pipeline),
		configs:    make(map[string]*models.LLMConfig),
	}
}

func (m *memStore) GetExecution(_ context.Context, id string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *exec
	return &copied, nil
}

func (m *memStore) GetPipeline(_ context.Context, id string) (*models.Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetLLMConfig(_ context.Context, id string) (*models.LLMConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (m *memStore) ClaimPending(_ context.Context) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exec := range m.executions {
		if exec.Status == models.StatusPending {
			exec.Status = models.StatusRunning
			copied := *exec
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) Transition(_ context.Context, id string, from, to models.ExecutionStatus, errorMessage *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[id]
	if !ok {
		return store.ErrNotFound
	}
	if exec.Status != from || !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s is %s", store.ErrInvalidTransition, id, exec.Status)
	}
	exec.Status = to
	exec.ErrorMessage = errorMessage
	return nil
}

func (m *memStore) InsertFinding(_ context.Context, f *models.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	exec, ok := m.executions[f.ExecutionID]
	if !ok || exec.Status != models.StatusRunning {
		return store.ErrExecutionNotRunning
	}
	m.nextID++
	f.ID = m.nextID
	m.findings = append(m.findings, f)
	return nil
}

func (m *memStore) ListFindings(_ context.Context, executionID string, _ models.FindingFilter) ([]*models.Finding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Finding
	for _, f := range m.findings {
		if f.ExecutionID == executionID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) InsertEmbedding(_ context.Context, e *models.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embeddings = append(m.embeddings, e)
	return nil
}

func (m *memStore) InsertAgentTrace(_ context.Context, t *models.AgentTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, t)
	return nil
}

func (m *memStore) status(id string) models.ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executions[id].Status
}

// fakeAdapter returns canned raw findings per category; it can also error or
// panic on a chosen category.
type fakeAdapter struct {
	name    string
	raws    map[string][]models.RawFinding
	errOn   string
	panicOn string
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Supports(category string) bool {
	_, ok := a.raws[category]
	return ok
}

func (a *fakeAdapter) Execute(_ context.Context, _ *models.LLMConfig, categories []string) ([]models.RawFinding, error) {
	var out []models.RawFinding
	for _, c := range categories {
		if c == a.panicOn {
			panic("adapter exploded")
		}
		if c == a.errOn {
			return out, errors.New("adapter failed")
		}
		out = append(out, a.raws[c]...)
	}
	return out, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Enabled() bool     { return true }
func (f *fakeEmbedder) ModelName() string { return "fake-model" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = []float64{1, 2, 3}
	}
	return out, nil
}

func raw(library, category, severity string) models.RawFinding {
	return models.RawFinding{
		Library:  library,
		Category: category,
		Severity: severity,
		RiskType: "probe_" + category,
		Prompt:   "p",
		Response: "r",
	}
}

// fixture wires a memStore, registry of fake adapters and an engine.
func fixture(t *testing.T, adapterList []*fakeAdapter, embedder Embedder) (*memStore, *Engine, *models.Execution) {
	t.Helper()

	ms := newMemStore()
	ms.configs["cfg-1"] = &models.LLMConfig{ID: "cfg-1", EndpointURL: "http://llm.test", PayloadTemplate: `{"prompt":"{prompt}"}`}

	var libraries []string
	categories := map[string]struct{}{}
	registry := adapters.NewRegistry()
	for _, a := range adapterList {
		registry.Register(a)
		libraries = append(libraries, a.name)
		for c := range a.raws {
			categories[c] = struct{}{}
		}
	}
	var categoryList []string
	for c := range categories {
		categoryList = append(categoryList, c)
	}

	ms.pipelines["pipe-1"] = &models.Pipeline{
		ID: "pipe-1", LLMConfigID: "cfg-1",
		Libraries: libraries, TestCategories: categoryList,
	}
	ms.executions["exec-1"] = &models.Execution{
		ID: "exec-1", PipelineID: "pipe-1", LLMConfigID: "cfg-1", Status: models.StatusRunning,
	}

	cfg := &config.Config{
		WorkerParallelism: 4,
		JobTimeout:        config.DefaultJobTimeoutSeconds * time.Second,
		EnableAgentTraces: true,
	}
	eng := NewEngine(ms, registry, embedder, cfg)
	return ms, eng, ms.executions["exec-1"]
}

func TestRunExecution_Completes(t *testing.T) {
	adapter := &fakeAdapter{
		name: "garak",
		raws: map[string][]models.RawFinding{
			"jailbreak": {raw("garak", "jailbreak", "critical"), raw("garak", "jailbreak", "high")},
			"toxicity":  {raw("garak", "toxicity", "low")},
		},
	}
	ms, eng, exec := fixture(t, []*fakeAdapter{adapter}, &fakeEmbedder{})

	eng.RunExecution(context.Background(), exec)

	assert.Equal(t, models.StatusCompleted, ms.status("exec-1"))
	findings, _ := ms.ListFindings(context.Background(), "exec-1", models.FindingFilter{})
	assert.Len(t, findings, 3, "every raw finding must persist")
	assert.Len(t, ms.embeddings, 3, "one embedding per finding")
	for _, e := range ms.embeddings {
		assert.Equal(t, "fake-model", e.ModelName)
	}
}

func TestRunExecution_AdapterCrashIsolation(t *testing.T) {
	crashing := &fakeAdapter{
		name: "adapter-x",
		raws: map[string][]models.RawFinding{
			"c1": {raw("adapter-x", "c1", "high")},
			"c2": {raw("adapter-x", "c2", "medium")},
		},
		panicOn: "c1",
	}
	healthy := &fakeAdapter{
		name: "adapter-y",
		raws: map[string][]models.RawFinding{
			"c1": {raw("adapter-y", "c1", "low")},
			"c2": {raw("adapter-y", "c2", "low")},
		},
	}
	ms, eng, exec := fixture(t, []*fakeAdapter{crashing, healthy}, &fakeEmbedder{})

	eng.RunExecution(context.Background(), exec)

	assert.Equal(t, models.StatusCompleted, ms.status("exec-1"))

	findings, _ := ms.ListFindings(context.Background(), "exec-1", models.FindingFilter{})
	var adapterErrors, healthyFindings, xc2 int
	for _, f := range findings {
		switch {
		case f.RiskType == models.RiskTypeAdapterError:
			adapterErrors++
			assert.Equal(t, models.SeverityInfo, f.Severity)
			assert.Equal(t, "adapter-x", f.Library)
			assert.Contains(t, f.Metadata["error"], "adapter exploded")
		case f.Library == "adapter-y":
			healthyFindings++
		case f.Library == "adapter-x" && f.TestCategory == "c2":
			xc2++
		}
	}
	assert.Equal(t, 1, adapterErrors, "exactly one adapter_error for (adapter-x, c1)")
	assert.Equal(t, 2, healthyFindings, "other adapters unaffected")
	assert.Equal(t, 1, xc2, "other categories of the crashing adapter unaffected")
}

func TestRunExecution_EmbeddingFailureStillCompletes(t *testing.T) {
	adapter := &fakeAdapter{
		name: "garak",
		raws: map[string][]models.RawFinding{"jailbreak": {raw("garak", "jailbreak", "high")}},
	}
	embedder := &fakeEmbedder{err: errors.New("embedding service down")}
	ms, eng, exec := fixture(t, []*fakeAdapter{adapter}, embedder)

	eng.RunExecution(context.Background(), exec)

	assert.Equal(t, models.StatusCompleted, ms.status("exec-1"))
	assert.Empty(t, ms.embeddings)
	assert.Equal(t, 1, embedder.calls)
}

func TestRunExecution_CancelDrains(t *testing.T) {
	adapter := &fakeAdapter{
		name: "garak",
		raws: map[string][]models.RawFinding{"jailbreak": {raw("garak", "jailbreak", "high")}},
	}
	ms, eng, exec := fixture(t, []*fakeAdapter{adapter}, &fakeEmbedder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng.RunExecution(ctx, exec)

	assert.Equal(t, models.StatusCancelled, ms.status("exec-1"))
	findings, _ := ms.ListFindings(context.Background(), "exec-1", models.FindingFilter{})
	assert.Empty(t, findings, "no new jobs start after the cancel signal")
}

func TestRunExecution_ExtractsAgentTraces(t *testing.T) {
	withTrace := raw("garak", "jailbreak", "high")
	withTrace.Metadata = map[string]any{
		"agent_trace": []any{map[string]any{"tool": "search"}},
	}
	adapter := &fakeAdapter{
		name: "garak",
		raws: map[string][]models.RawFinding{"jailbreak": {withTrace, raw("garak", "jailbreak", "low")}},
	}
	ms, eng, exec := fixture(t, []*fakeAdapter{adapter}, &fakeEmbedder{})

	eng.RunExecution(context.Background(), exec)

	require.Len(t, ms.traces, 1)
	assert.Equal(t, "search", ms.traces[0].Calls[0].Tool)
}

func TestRunExecution_PersistenceFailureFailsExecution(t *testing.T) {
	adapter := &fakeAdapter{
		name: "garak",
		raws: map[string][]models.RawFinding{"jailbreak": {raw("garak", "jailbreak", "high")}},
	}
	ms, eng, exec := fixture(t, []*fakeAdapter{adapter}, &fakeEmbedder{})
	ms.insertErr = errors.New("connection reset by peer")

	eng.RunExecution(context.Background(), exec)

	assert.Equal(t, models.StatusFailed, ms.status("exec-1"))
	got, err := ms.GetExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "persistence failure")
}

func TestMemStore_RejectsInsertsAfterTerminal(t *testing.T) {
	ms := newMemStore()
	ms.executions["exec-1"] = &models.Execution{ID: "exec-1", Status: models.StatusCompleted}

	err := ms.InsertFinding(context.Background(), &models.Finding{ExecutionID: "exec-1"})
	assert.ErrorIs(t, err, store.ErrExecutionNotRunning)
}
