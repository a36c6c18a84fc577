package drift

import (
	"fmt"
	"math"

	"github.com/promptshield/promptshield/pkg/models"
	"github.com/promptshield/promptshield/pkg/scoring"
)

// Metric names emitted by the drift channels.
const (
	MetricResponseLengthKS    = "response_length_ks"
	MetricResponseEntropy     = "response_entropy_delta"
	MetricSafetyScoreDelta    = "safety_score_delta"
	MetricSeverityCountDelta  = "severity_count_delta"
	MetricSeverityPSI         = "severity_psi"
	MetricCentroidCosine      = "centroid_cosine_distance"
	MetricPairwiseSimVariance = "pairwise_similarity_variance_delta"
	MetricEmbeddingsMissing   = "embeddings_unavailable"
	MetricToolFrequencyChi2   = "tool_frequency_chi2"
	MetricToolSequenceJaccard = "tool_sequence_jaccard"
	MetricNewTool             = "new_tool_introduced"
	MetricToolLoop            = "tool_loop_detected"
	MetricChannelError        = "channel_error"
)

// artifacts holds both sides' persisted data for one comparison.
type artifacts struct {
	currentID  string
	baselineID string

	currentFindings  []*models.Finding
	baselineFindings []*models.Finding

	currentEmbeddings  []*models.Embedding
	baselineEmbeddings []*models.Embedding

	currentTraces  []*models.AgentTrace
	baselineTraces []*models.AgentTrace
}

// finding builds a DriftFinding for this comparison pair.
func (a *artifacts) finding(channel models.DriftChannel, metric string, value, threshold float64, severity models.Severity, details map[string]any) *models.DriftFinding {
	return &models.DriftFinding{
		CurrentExecutionID:  a.currentID,
		BaselineExecutionID: a.baselineID,
		Channel:             channel,
		Metric:              metric,
		Value:               value,
		Threshold:           threshold,
		Severity:            severity,
		Details:             details,
	}
}

// outputChannel compares response length distributions (two-sample KS) and
// mean per-response Shannon entropy.
func (e *Engine) outputChannel(a *artifacts) ([]*models.DriftFinding, error) {
	threshold := e.thresholds[models.ChannelOutput]
	var out []*models.DriftFinding

	currentLengths := responseLengths(a.currentFindings)
	baselineLengths := responseLengths(a.baselineFindings)

	if len(currentLengths) > 0 && len(baselineLengths) > 0 {
		d := ksStatistic(currentLengths, baselineLengths)
		if sev, ok := severityForValue(d, outputFloor); ok {
			out = append(out, a.finding(models.ChannelOutput, MetricResponseLengthKS, d, threshold, sev, map[string]any{
				"current_samples":  len(currentLengths),
				"baseline_samples": len(baselineLengths),
			}))
		}

		ec := meanEntropy(responseTexts(a.currentFindings))
		eb := meanEntropy(responseTexts(a.baselineFindings))
		delta := math.Abs(ec-eb) / math.Max(eb, entropyEps)
		if sev, ok := severityForValue(delta, outputFloor); ok {
			out = append(out, a.finding(models.ChannelOutput, MetricResponseEntropy, delta, threshold, sev, map[string]any{
				"current_mean_entropy":  ec,
				"baseline_mean_entropy": eb,
			}))
		}
	}

	return out, nil
}

// outputFloor is the emission floor shared by the output and safety channels.
const outputFloor = 0.10

// safetyChannel compares safety scores and per-severity finding counts.
func (e *Engine) safetyChannel(a *artifacts) ([]*models.DriftFinding, error) {
	threshold := e.thresholds[models.ChannelSafety]
	var out []*models.DriftFinding

	currentCounts := scoring.SeverityCounts(a.currentFindings)
	baselineCounts := scoring.SeverityCounts(a.baselineFindings)

	currentScore := scoring.SafetyScore(currentCounts)
	baselineScore := scoring.SafetyScore(baselineCounts)

	delta := math.Abs(currentScore-baselineScore) / 100
	if sev, ok := severityForValue(delta, outputFloor); ok {
		out = append(out, a.finding(models.ChannelSafety, MetricSafetyScoreDelta, delta, threshold, sev, map[string]any{
			"current_score":  currentScore,
			"baseline_score": baselineScore,
		}))
	}

	for _, level := range models.AllSeverities() {
		diff := currentCounts[level] - baselineCounts[level]
		if diff == 0 {
			continue
		}
		value := math.Abs(float64(diff)) / math.Max(1, float64(baselineCounts[level]))
		if sev, ok := severityForValue(value, outputFloor); ok {
			out = append(out, a.finding(models.ChannelSafety, MetricSeverityCountDelta, value, threshold, sev, map[string]any{
				"severity":       string(level),
				"current_count":  currentCounts[level],
				"baseline_count": baselineCounts[level],
				"delta":          diff,
			}))
		}
	}

	return out, nil
}

// distributionChannel compares severity distributions with PSI.
func (e *Engine) distributionChannel(a *artifacts) ([]*models.DriftFinding, error) {
	threshold := e.thresholds[models.ChannelDistribution]

	if len(a.currentFindings) == 0 && len(a.baselineFindings) == 0 {
		return nil, nil
	}

	currentFractions := severityFractions(a.currentFindings)
	baselineFractions := severityFractions(a.baselineFindings)

	index := psi(baselineFractions, currentFractions)
	if index < threshold {
		return nil, nil
	}

	return []*models.DriftFinding{
		a.finding(models.ChannelDistribution, MetricSeverityPSI, index, threshold, severityForPSI(index), map[string]any{
			"baseline_fractions": fractionDetails(baselineFractions),
			"current_fractions":  fractionDetails(currentFractions),
		}),
	}, nil
}

// embeddingChannel compares embedding centroids by cosine distance and the
// variance of within-side pairwise similarities. Degrades to a single low
// finding when only one side has embeddings or the model names differ; when
// neither side has any, it reports nothing.
func (e *Engine) embeddingChannel(a *artifacts) ([]*models.DriftFinding, error) {
	threshold := e.thresholds[models.ChannelEmbedding]

	// Neither side ever had embeddings: nothing was lost, nothing to report.
	if len(a.currentEmbeddings) == 0 && len(a.baselineEmbeddings) == 0 {
		return nil, nil
	}

	if reason := embeddingsUnusable(a.currentEmbeddings, a.baselineEmbeddings); reason != "" {
		return []*models.DriftFinding{
			a.finding(models.ChannelEmbedding, MetricEmbeddingsMissing, 1.0, threshold, models.SeverityLow, map[string]any{
				"reason": reason,
			}),
		}, nil
	}

	currentVectors := vectors(a.currentEmbeddings)
	baselineVectors := vectors(a.baselineEmbeddings)

	cosSim := cosineSimilarity(centroid(currentVectors), centroid(baselineVectors))
	distance := 1 - cosSim

	var out []*models.DriftFinding
	if sev, ok := severityForValue(distance, threshold); ok {
		out = append(out, a.finding(models.ChannelEmbedding, MetricCentroidCosine, distance, threshold, sev, map[string]any{
			"cosine_similarity": cosSim,
			"current_vectors":   len(currentVectors),
			"baseline_vectors":  len(baselineVectors),
		}))
	}

	varDelta := math.Abs(pairwiseSimilarityVariance(currentVectors) - pairwiseSimilarityVariance(baselineVectors))
	if sev, ok := severityForValue(varDelta, threshold); ok {
		out = append(out, a.finding(models.ChannelEmbedding, MetricPairwiseSimVariance, varDelta, threshold, sev, nil))
	}

	return out, nil
}

// embeddingsUnusable returns a reason string when the embedding comparison
// cannot run: a side without vectors, or mismatched model names.
func embeddingsUnusable(current, base []*models.Embedding) string {
	if len(current) == 0 {
		return "current execution has no embeddings"
	}
	if len(base) == 0 {
		return "baseline execution has no embeddings"
	}
	if current[0].ModelName != base[0].ModelName {
		return fmt.Sprintf("model mismatch: current %q vs baseline %q", current[0].ModelName, base[0].ModelName)
	}
	return ""
}

// agentToolChannel compares tool usage: frequency χ², sequence bigram
// Jaccard, new-tool introduction, and loop detection. Only runs when both
// sides carry at least one trace.
func (e *Engine) agentToolChannel(a *artifacts) ([]*models.DriftFinding, error) {
	threshold := e.thresholds[models.ChannelAgentTool]

	if len(a.currentTraces) == 0 || len(a.baselineTraces) == 0 {
		return nil, nil
	}

	var out []*models.DriftFinding

	currentFreq := toolFrequencies(a.currentTraces)
	baselineFreq := toolFrequencies(a.baselineTraces)

	chi2 := chiSquaredNormalized(currentFreq, baselineFreq)
	if sev, ok := severityForValue(chi2, outputFloor); ok {
		out = append(out, a.finding(models.ChannelAgentTool, MetricToolFrequencyChi2, chi2, threshold, sev, map[string]any{
			"current_tools":  len(currentFreq),
			"baseline_tools": len(baselineFreq),
		}))
	}

	jaccard := bigramJaccardDistance(toolBigrams(a.currentTraces), toolBigrams(a.baselineTraces))
	if sev, ok := severityForValue(jaccard, outputFloor); ok {
		out = append(out, a.finding(models.ChannelAgentTool, MetricToolSequenceJaccard, jaccard, threshold, sev, nil))
	}

	for tool := range currentFreq {
		if _, known := baselineFreq[tool]; !known {
			out = append(out, a.finding(models.ChannelAgentTool, MetricNewTool, 1.0, threshold, models.SeverityLow, map[string]any{
				"tool": tool,
			}))
		}
	}

	baselineLoops := loopingTools(a.baselineTraces)
	for tool := range loopingTools(a.currentTraces) {
		if _, known := baselineLoops[tool]; !known {
			out = append(out, a.finding(models.ChannelAgentTool, MetricToolLoop, 1.0, threshold, models.SeverityMedium, map[string]any{
				"tool": tool,
			}))
		}
	}

	return out, nil
}

// ── artifact helpers ──

func responseLengths(findings []*models.Finding) []float64 {
	out := make([]float64, 0, len(findings))
	for _, f := range findings {
		out = append(out, float64(len(f.EvidenceResponse)))
	}
	return out
}

func responseTexts(findings []*models.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.EvidenceResponse)
	}
	return out
}

// severityFractions returns bucket fractions in AllSeverities order.
func severityFractions(findings []*models.Finding) []float64 {
	counts := scoring.SeverityCounts(findings)
	total := float64(len(findings))
	out := make([]float64, 0, 5)
	for _, sev := range models.AllSeverities() {
		if total == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, float64(counts[sev])/total)
	}
	return out
}

func fractionDetails(fractions []float64) map[string]any {
	out := make(map[string]any, len(fractions))
	for i, sev := range models.AllSeverities() {
		out[string(sev)] = fractions[i]
	}
	return out
}

func vectors(embeddings []*models.Embedding) [][]float64 {
	out := make([][]float64, 0, len(embeddings))
	for _, e := range embeddings {
		out = append(out, e.Vector)
	}
	return out
}

func toolFrequencies(agentTraces []*models.AgentTrace) map[string]float64 {
	freq := make(map[string]float64)
	for _, t := range agentTraces {
		for _, call := range t.Calls {
			freq[call.Tool]++
		}
	}
	return freq
}

func toolBigrams(agentTraces []*models.AgentTrace) map[[2]string]int {
	bigrams := make(map[[2]string]int)
	for _, t := range agentTraces {
		for i := 0; i+1 < len(t.Calls); i++ {
			bigrams[[2]string{t.Calls[i].Tool, t.Calls[i+1].Tool}]++
		}
	}
	return bigrams
}

// loopingTools returns the tools that repeat three or more times
// consecutively inside any single trace.
func loopingTools(agentTraces []*models.AgentTrace) map[string]struct{} {
	loops := make(map[string]struct{})
	for _, t := range agentTraces {
		run := 0
		prev := ""
		for _, call := range t.Calls {
			if call.Tool == prev {
				run++
			} else {
				run = 1
				prev = call.Tool
			}
			if run >= 3 {
				loops[call.Tool] = struct{}{}
			}
		}
	}
	return loops
}
