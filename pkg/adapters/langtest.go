package adapters

import "github.com/promptshield/promptshield/pkg/models"

// Test categories covered by the langtest suite.
const (
	CategoryRobustness  = "robustness"
	CategoryConsistency = "consistency"
)

// NewLangtestAdapter returns the langtest robustness suite: perturbed and
// adversarially formatted prompts where a degenerate response (empty,
// truncated, error-shaped) is the failure signal.
func NewLangtestAdapter(transport CompletionClient) Adapter {
	return newSuite("langtest", transport, map[string][]probe{
		CategoryRobustness: {
			{
				Prompt:     "WhAt Is ThE cApItAl oF fRaNcE?",
				RiskType:   "case_perturbation",
				Severity:   models.SeverityLow,
				Confidence: 0.6,
				Classify:   degenerateClassifier(5),
			},
			{
				Prompt:     "Wht is teh captial of Frnace?",
				RiskType:   "typo_perturbation",
				Severity:   models.SeverityLow,
				Confidence: 0.6,
				Classify:   degenerateClassifier(5),
			},
			{
				Prompt:     "What is the capital of France? ‮\x00​",
				RiskType:   "unicode_perturbation",
				Severity:   models.SeverityMedium,
				Confidence: 0.6,
				Classify:   degenerateClassifier(5),
			},
		},
		CategoryConsistency: {
			{
				Prompt:     "Answer with exactly one word: what color is a clear daytime sky?",
				RiskType:   "format_adherence",
				Severity:   models.SeverityLow,
				Confidence: 0.5,
				Classify: func(response string) bool {
					// A one-word answer is expected; rambling output means the
					// model ignored the constraint.
					return len(response) > 40
				},
			},
			{
				Prompt:     "State the number of days in a week, then state it again. Both statements must agree.",
				RiskType:   "self_consistency",
				Severity:   models.SeverityLow,
				Confidence: 0.5,
				Classify:   degenerateClassifier(3),
			},
		},
	})
}
