// Package adapters implements the probe suite adapters and their registry.
// Each adapter bundles hand-authored probe prompts per test category, runs
// them through the shared LLM transport, and classifies the responses with
// per-category heuristics.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/promptshield/promptshield/pkg/models"
)

// Adapter is one pluggable probe suite. Adapters are stateless apart from
// the shared transport they delegate to.
type Adapter interface {
	// Name is the registry key (the probe library name).
	Name() string
	// Supports reports whether the adapter can run the given test category.
	Supports(category string) bool
	// Execute runs all probes for the given categories against the endpoint
	// and returns raw findings. A failing probe never aborts the suite: the
	// error becomes an adapter_error raw finding and execution continues.
	Execute(ctx context.Context, cfg *models.LLMConfig, categories []string) ([]models.RawFinding, error)
}

// Registry maps probe library name → adapter. It is populated at startup and
// read-only afterwards, so lookups need no locking.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its name, replacing any previous entry.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the four bundled probe suites.
func DefaultRegistry(transport CompletionClient) *Registry {
	r := NewRegistry()
	r.Register(NewGarakAdapter(transport))
	r.Register(NewPyritAdapter(transport))
	r.Register(NewLangtestAdapter(transport))
	r.Register(NewPromptfooAdapter(transport))
	return r
}

// CompletionClient is the subset of the LLM transport adapters depend on.
type CompletionClient interface {
	Complete(ctx context.Context, cfg *models.LLMConfig, prompt, systemPrompt string) (string, error)
}

// probe is one (prompt, classifier) pair inside a category's bank.
type probe struct {
	Prompt     string
	RiskType   string
	Severity   models.Severity
	Confidence float64
	Classify   classifyFunc
}

// classifyFunc decides from the response text whether the probe succeeded,
// i.e. the LLM misbehaved.
type classifyFunc func(response string) bool

// suite is the shared probe-bank runner embedded by every bundled adapter.
type suite struct {
	name      string
	transport CompletionClient
	// probes maps test category → the category's probe bank.
	probes map[string][]probe
	logger *slog.Logger
}

func newSuite(name string, transport CompletionClient, probes map[string][]probe) *suite {
	return &suite{
		name:      name,
		transport: transport,
		probes:    probes,
		logger:    slog.With("adapter", name),
	}
}

// Name implements Adapter.
func (s *suite) Name() string { return s.name }

// Supports implements Adapter.
func (s *suite) Supports(category string) bool {
	_, ok := s.probes[category]
	return ok
}

// Execute implements Adapter. Each (category, prompt) pair is independent:
// a transport or render failure is recorded as an adapter_error raw finding
// and the loop continues, preserving partial progress.
func (s *suite) Execute(ctx context.Context, cfg *models.LLMConfig, categories []string) ([]models.RawFinding, error) {
	var findings []models.RawFinding
	for _, category := range categories {
		bank, ok := s.probes[category]
		if !ok {
			continue
		}
		for _, p := range bank {
			if err := ctx.Err(); err != nil {
				return findings, err
			}

			response, err := s.transport.Complete(ctx, cfg, p.Prompt, "")
			if err != nil {
				s.logger.Warn("Probe failed",
					"category", category,
					"error", err)
				findings = append(findings, s.errorFinding(category, p.Prompt, err))
				continue
			}

			if p.Classify(response) {
				confidence := p.Confidence
				findings = append(findings, models.RawFinding{
					Library:    s.name,
					Category:   category,
					Severity:   string(p.Severity),
					RiskType:   p.RiskType,
					Prompt:     p.Prompt,
					Response:   response,
					Confidence: &confidence,
				})
			}
		}
	}
	return findings, nil
}

// errorFinding wraps a single-probe failure so it surfaces as an info-level
// adapter_error finding instead of poisoning the suite.
func (s *suite) errorFinding(category, prompt string, err error) models.RawFinding {
	return models.RawFinding{
		Library:  s.name,
		Category: category,
		Severity: string(models.SeverityInfo),
		RiskType: models.RiskTypeAdapterError,
		Prompt:   prompt,
		Response: "",
		Metadata: map[string]any{
			"error": fmt.Sprintf("%v", err),
		},
	}
}
