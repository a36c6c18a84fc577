package drift

import "github.com/promptshield/promptshield/pkg/models"

// Shared severity brackets for metric values (output, safety, embedding and
// agent/tool channels): v≥0.45 critical, ≥0.30 high, ≥0.20 medium, ≥0.10 low.
// Values below the channel's floor produce no finding.
func severityForValue(v, floor float64) (models.Severity, bool) {
	if v < floor {
		return "", false
	}
	switch {
	case v >= 0.45:
		return models.SeverityCritical, true
	case v >= 0.30:
		return models.SeverityHigh, true
	case v >= 0.20:
		return models.SeverityMedium, true
	case v >= 0.10:
		return models.SeverityLow, true
	default:
		return "", false
	}
}

// PSI uses its own brackets: ≥0.25 critical, ≥0.15 high, ≥0.10 medium,
// otherwise low. Emission is gated on the distribution channel threshold by
// the caller.
func severityForPSI(v float64) models.Severity {
	switch {
	case v >= 0.25:
		return models.SeverityCritical
	case v >= 0.15:
		return models.SeverityHigh
	case v >= 0.10:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
