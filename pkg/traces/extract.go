// Package traces reconstructs agent tool-call sequences from finding
// metadata. Traces are derived data: absent metadata simply yields no trace.
package traces

import (
	"fmt"

	"github.com/promptshield/promptshield/pkg/models"
)

// metadataKey is the recognized shape inside Finding.Metadata:
// {"agent_trace": [{"tool": ..., "args"?: ..., "result"?: ...}, ...]}
const metadataKey = "agent_trace"

// Extract walks a finding's metadata for the recognized agent-trace shape and
// returns the reconstructed trace, or nil when none is attached. Entries
// without a tool name are skipped; a trace with zero usable entries is nil.
func Extract(f *models.Finding) *models.AgentTrace {
	if f.Metadata == nil {
		return nil
	}
	raw, ok := f.Metadata[metadataKey].([]any)
	if !ok {
		return nil
	}

	var calls []models.ToolCall
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		tool, ok := m["tool"].(string)
		if !ok || tool == "" {
			continue
		}
		call := models.ToolCall{Tool: tool}
		if args, ok := m["args"].(map[string]any); ok {
			call.Args = args
		}
		if result, ok := m["result"]; ok && result != nil {
			s := fmt.Sprintf("%v", result)
			call.Result = &s
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return nil
	}
	return &models.AgentTrace{FindingID: f.ID, Calls: calls}
}

// ExtractAll extracts traces from a slice of findings, dropping findings
// without trace metadata.
func ExtractAll(findings []*models.Finding) []*models.AgentTrace {
	var out []*models.AgentTrace
	for _, f := range findings {
		if t := Extract(f); t != nil {
			out = append(out, t)
		}
	}
	return out
}
