// Package normalize converts adapter-specific raw findings into the
// canonical finding record. Ingest never discards data silently: anything an
// adapter reports becomes a row, downgraded to info when it fails validation.
package normalize

import (
	"fmt"

	"github.com/promptshield/promptshield/pkg/models"
)

// Normalize validates one raw finding into a canonical Finding for the given
// execution. Unknown severities map to info, confidence is clamped to [0,1],
// and an empty risk type defaults from the category.
func Normalize(executionID string, raw models.RawFinding) *models.Finding {
	f := &models.Finding{
		ExecutionID:      executionID,
		Library:          raw.Library,
		TestCategory:     raw.Category,
		Severity:         models.NormalizeSeverity(raw.Severity),
		RiskType:         raw.RiskType,
		EvidencePrompt:   raw.Prompt,
		EvidenceResponse: raw.Response,
		Metadata:         raw.Metadata,
	}

	if f.RiskType == "" {
		f.RiskType = raw.Category
	}

	if raw.Confidence != nil {
		c := clamp01(*raw.Confidence)
		f.Confidence = &c
	}

	return f
}

// ValidationFailure builds the info finding recorded when normalization input
// is unusable (e.g. an adapter produced a record with no category at all).
func ValidationFailure(executionID, library string, reason error) *models.Finding {
	return &models.Finding{
		ExecutionID:  executionID,
		Library:      library,
		TestCategory: "validation",
		Severity:     models.SeverityInfo,
		RiskType:     "normalization_error",
		Metadata: map[string]any{
			"error": fmt.Sprintf("%v", reason),
		},
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
