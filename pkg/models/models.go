// Package models contains the domain entities, request models and enums shared
// across the store, engine, drift and API layers.
package models

import "time"

// RiskTypeAdapterError marks findings that record a probe failure rather
// than an observed model behavior.
const RiskTypeAdapterError = "adapter_error"

// LLMConfig describes how to reach an LLM endpoint under test. It is created
// by the CRUD API and read-only during execution.
type LLMConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	EndpointURL     string            `json:"endpoint_url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadTemplate string            `json:"payload_template"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	MaxRetries      int               `json:"max_retries"`
	Environment     string            `json:"environment,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Pipeline selects which probe libraries and test categories run against a
// linked LLM config.
type Pipeline struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	LLMConfigID        string           `json:"llm_config_id"`
	Libraries          []string         `json:"libraries"`
	TestCategories     []string         `json:"test_categories"`
	SeverityThresholds map[Severity]int `json:"severity_thresholds,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Execution is one asynchronous run of a pipeline against an LLM config.
// The execution engine is its sole mutator.
type Execution struct {
	ID           string          `json:"id"`
	PipelineID   string          `json:"pipeline_id"`
	LLMConfigID  string          `json:"llm_config_id"`
	Status       ExecutionStatus `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Finding is one normalized probe outcome. Immutable once written.
type Finding struct {
	ID               int64          `json:"id"`
	ExecutionID      string         `json:"execution_id"`
	Library          string         `json:"library"`
	TestCategory     string         `json:"test_category"`
	Severity         Severity       `json:"severity"`
	RiskType         string         `json:"risk_type"`
	EvidencePrompt   string         `json:"evidence_prompt"`
	EvidenceResponse string         `json:"evidence_response"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// RawFinding is what an adapter produces before normalization. Severity and
// confidence are unvalidated adapter output.
type RawFinding struct {
	Library    string
	Category   string
	Severity   string
	RiskType   string
	Prompt     string
	Response   string
	Confidence *float64
	Metadata   map[string]any
}

// Embedding is the fixed-dimension vector for one finding's response text.
// At most one embedding exists per finding.
type Embedding struct {
	ID        int64     `json:"id"`
	FindingID int64     `json:"finding_id"`
	ModelName string    `json:"model_name"`
	Vector    []float64 `json:"vector"`
}

// Baseline designates a completed execution as a drift comparison reference.
type Baseline struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	Name        string    `json:"name"`
	Tag         *string   `json:"tag,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DriftChannel names one of the five drift comparison dimensions.
type DriftChannel string

const (
	ChannelOutput       DriftChannel = "output"
	ChannelSafety       DriftChannel = "safety"
	ChannelDistribution DriftChannel = "distribution"
	ChannelEmbedding    DriftChannel = "embedding"
	ChannelAgentTool    DriftChannel = "agent_tool"
)

// AllDriftChannels returns the five drift channels in their canonical order.
func AllDriftChannels() []DriftChannel {
	return []DriftChannel{ChannelOutput, ChannelSafety, ChannelDistribution, ChannelEmbedding, ChannelAgentTool}
}

// DriftFinding is one statistical observation from a drift comparison.
type DriftFinding struct {
	ID                  int64          `json:"id"`
	CurrentExecutionID  string         `json:"current_execution_id"`
	BaselineExecutionID string         `json:"baseline_execution_id"`
	Channel             DriftChannel   `json:"channel"`
	Metric              string         `json:"metric"`
	Value               float64        `json:"value"`
	Threshold           float64        `json:"threshold"`
	Severity            Severity       `json:"severity"`
	Confidence          *float64       `json:"confidence,omitempty"`
	Details             map[string]any `json:"details,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// DriftComparisonStatus is the lifecycle of one drift comparison run.
type DriftComparisonStatus string

const (
	ComparisonRequested  DriftComparisonStatus = "requested"
	ComparisonCollecting DriftComparisonStatus = "collecting"
	ComparisonComputing  DriftComparisonStatus = "computing"
	ComparisonEmitting   DriftComparisonStatus = "emitting"
	ComparisonAggregated DriftComparisonStatus = "aggregated"
	ComparisonFailed     DriftComparisonStatus = "failed"
)

// DriftComparison is the derived record of one (current, baseline) comparison,
// including the unified drift score once aggregated.
type DriftComparison struct {
	ID                  string                `json:"id"`
	CurrentExecutionID  string                `json:"current_execution_id"`
	BaselineExecutionID string                `json:"baseline_execution_id"`
	Status              DriftComparisonStatus `json:"status"`
	DriftScore          *float64              `json:"drift_score,omitempty"`
	DriftGrade          *string               `json:"drift_grade,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
}

// ToolCall is one tool invocation inside an agent trace.
type ToolCall struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Result *string        `json:"result,omitempty"`
}

// AgentTrace is the ordered tool-call sequence extracted from a finding's
// metadata. Derived data, not authoritative.
type AgentTrace struct {
	FindingID int64      `json:"finding_id"`
	Calls     []ToolCall `json:"calls"`
}
