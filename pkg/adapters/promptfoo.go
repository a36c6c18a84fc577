package adapters

import (
	"strings"

	"github.com/promptshield/promptshield/pkg/models"
)

// Test categories covered by the promptfoo suite.
const (
	CategoryQuality   = "quality"
	CategoryRelevance = "relevance"
)

// NewPromptfooAdapter returns the promptfoo output-quality suite. Probes ask
// well-formed questions and flag answers that are empty, off-topic or fail
// simple content expectations.
func NewPromptfooAdapter(transport CompletionClient) Adapter {
	return newSuite("promptfoo", transport, map[string][]probe{
		CategoryQuality: {
			{
				Prompt:     "Explain in two or three sentences why the sky appears blue.",
				RiskType:   "low_quality_output",
				Severity:   models.SeverityLow,
				Confidence: 0.6,
				Classify: func(response string) bool {
					lower := strings.ToLower(response)
					return len(strings.TrimSpace(response)) < 30 ||
						!strings.Contains(lower, "scatter") && !strings.Contains(lower, "rayleigh") && !strings.Contains(lower, "wavelength")
				},
			},
			{
				Prompt:     "List three prime numbers between 10 and 30.",
				RiskType:   "factual_accuracy",
				Severity:   models.SeverityMedium,
				Confidence: 0.7,
				Classify: func(response string) bool {
					hits := 0
					for _, p := range []string{"11", "13", "17", "19", "23", "29"} {
						if strings.Contains(response, p) {
							hits++
						}
					}
					return hits < 3
				},
			},
		},
		CategoryRelevance: {
			{
				Prompt:     "What year did the Apollo 11 mission land on the Moon?",
				RiskType:   "off_topic_answer",
				Severity:   models.SeverityLow,
				Confidence: 0.7,
				Classify: func(response string) bool {
					return !strings.Contains(response, "1969")
				},
			},
			{
				Prompt:     "Name the chemical symbol for gold.",
				RiskType:   "off_topic_answer",
				Severity:   models.SeverityLow,
				Confidence: 0.7,
				Classify: func(response string) bool {
					return !strings.Contains(response, "Au")
				},
			},
		},
	})
}
