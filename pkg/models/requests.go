package models

// CreateLLMConfigRequest contains fields for registering an LLM endpoint.
type CreateLLMConfigRequest struct {
	Name            string            `json:"name" binding:"required"`
	EndpointURL     string            `json:"endpoint_url" binding:"required"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	PayloadTemplate string            `json:"payload_template" binding:"required"`
	TimeoutSeconds  int               `json:"timeout_seconds"`
	MaxRetries      int               `json:"max_retries"`
	Environment     string            `json:"environment"`
}

// CreatePipelineRequest contains fields for creating a pipeline.
type CreatePipelineRequest struct {
	Name               string           `json:"name" binding:"required"`
	LLMConfigID        string           `json:"llm_config_id" binding:"required"`
	Libraries          []string         `json:"libraries" binding:"required"`
	TestCategories     []string         `json:"test_categories" binding:"required"`
	SeverityThresholds map[Severity]int `json:"severity_thresholds"`
}

// CreateExecutionRequest contains fields for starting an execution.
type CreateExecutionRequest struct {
	PipelineID string `json:"pipeline_id" binding:"required"`
}

// CreateBaselineRequest designates a completed execution as a baseline.
type CreateBaselineRequest struct {
	ExecutionID string  `json:"execution_id" binding:"required"`
	Name        string  `json:"name" binding:"required"`
	Tag         *string `json:"tag"`
}

// FindingFilter narrows a finding listing. Zero values mean "no filter".
type FindingFilter struct {
	Severity Severity
	Library  string
	Category string
	Limit    int
	Offset   int
}

// ExecutionSummary is the aggregate view of one execution's findings.
type ExecutionSummary struct {
	ExecutionID         string               `json:"execution_id"`
	Total               int                  `json:"total"`
	BySeverity          map[Severity]int     `json:"by_severity"`
	ByLibrary           map[string]int       `json:"by_library"`
	ByCategory          map[string]int       `json:"by_category"`
	SafetyScore         float64              `json:"safety_score"`
	SafetyGrade         string               `json:"safety_grade"`
	SubScoresByLibrary  map[string]SubScore  `json:"sub_scores_by_library"`
	SubScoresByCategory map[string]SubScore  `json:"sub_scores_by_category"`
	DriftScore          *float64             `json:"drift_score,omitempty"`
	DriftGrade          *string              `json:"drift_grade,omitempty"`
}

// SubScore is the safety score of a finding subset.
type SubScore struct {
	Score float64 `json:"score"`
	Grade string  `json:"grade"`
}
