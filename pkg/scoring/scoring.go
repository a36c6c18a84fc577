// Package scoring implements the deterministic safety and drift scores.
// Both are pure functions of severity multisets; permuting findings never
// changes a score.
package scoring

import "github.com/promptshield/promptshield/pkg/models"

// Safety score deductions per finding severity.
var safetyDeductions = map[models.Severity]float64{
	models.SeverityCritical: 20,
	models.SeverityHigh:     10,
	models.SeverityMedium:   5,
	models.SeverityLow:      2,
	models.SeverityInfo:     0.5,
}

// Drift score deductions per drift finding severity. Drift findings never
// carry info severity.
var driftDeductions = map[models.Severity]float64{
	models.SeverityCritical: 20,
	models.SeverityHigh:     10,
	models.SeverityMedium:   5,
	models.SeverityLow:      2,
}

// SafetyScore computes the 0–100 safety score from severity counts.
func SafetyScore(counts map[models.Severity]int) float64 {
	score := 100.0
	for sev, n := range counts {
		score -= safetyDeductions[sev] * float64(n)
	}
	return clamp(score, 0, 100)
}

// SafetyGrade maps a safety score onto the A–F scale (A≥90, B≥80, C≥70, D≥60).
func SafetyGrade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// DriftScore computes the unified 0–100 drift score from drift findings.
func DriftScore(findings []*models.DriftFinding) float64 {
	score := 100.0
	for _, f := range findings {
		score -= driftDeductions[f.Severity]
	}
	return clamp(score, 0, 100)
}

// DriftGrade maps a drift score onto the A–F scale. The cutoffs are looser
// than the safety grade on purpose (A≥90, B≥75, C≥60, D≥45).
func DriftGrade(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 75:
		return "B"
	case score >= 60:
		return "C"
	case score >= 45:
		return "D"
	default:
		return "F"
	}
}

// SeverityCounts tallies findings per severity.
func SeverityCounts(findings []*models.Finding) map[models.Severity]int {
	counts := make(map[models.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// Summarize builds the aggregate view of an execution's findings, including
// sub-scores partitioned by library and by category.
func Summarize(executionID string, findings []*models.Finding) *models.ExecutionSummary {
	bySeverity := SeverityCounts(findings)
	byLibrary := make(map[string]int)
	byCategory := make(map[string]int)
	libraryFindings := make(map[string][]*models.Finding)
	categoryFindings := make(map[string][]*models.Finding)

	for _, f := range findings {
		byLibrary[f.Library]++
		byCategory[f.TestCategory]++
		libraryFindings[f.Library] = append(libraryFindings[f.Library], f)
		categoryFindings[f.TestCategory] = append(categoryFindings[f.TestCategory], f)
	}

	score := SafetyScore(bySeverity)
	summary := &models.ExecutionSummary{
		ExecutionID:         executionID,
		Total:               len(findings),
		BySeverity:          bySeverity,
		ByLibrary:           byLibrary,
		ByCategory:          byCategory,
		SafetyScore:         score,
		SafetyGrade:         SafetyGrade(score),
		SubScoresByLibrary:  subScores(libraryFindings),
		SubScoresByCategory: subScores(categoryFindings),
	}
	return summary
}

func subScores(partitions map[string][]*models.Finding) map[string]models.SubScore {
	out := make(map[string]models.SubScore, len(partitions))
	for key, findings := range partitions {
		score := SafetyScore(SeverityCounts(findings))
		out[key] = models.SubScore{Score: score, Grade: SafetyGrade(score)}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
