package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptshield/promptshield/pkg/models"
)

// CatalogStore manages LLM configs and pipelines. Both are created by the
// CRUD API and read-only during execution.
type CatalogStore struct {
	db *sql.DB
}

// NewCatalogStore creates a new CatalogStore.
func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// CreateLLMConfig validates and persists a new LLM config.
func (s *CatalogStore) CreateLLMConfig(ctx context.Context, req models.CreateLLMConfigRequest) (*models.LLMConfig, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if _, err := url.ParseRequestURI(req.EndpointURL); err != nil {
		return nil, NewValidationError("endpoint_url", "must be a valid URL")
	}
	if req.PayloadTemplate == "" {
		return nil, NewValidationError("payload_template", "required")
	}

	cfg := &models.LLMConfig{
		ID:              uuid.New().String(),
		Name:            req.Name,
		EndpointURL:     req.EndpointURL,
		Method:          strings.ToUpper(req.Method),
		Headers:         req.Headers,
		PayloadTemplate: req.PayloadTemplate,
		TimeoutSeconds:  req.TimeoutSeconds,
		MaxRetries:      req.MaxRetries,
		Environment:     req.Environment,
		CreatedAt:       time.Now().UTC(),
	}
	if cfg.Method == "" {
		cfg.Method = "POST"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 30
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	headers, err := marshalJSON(cfg.Headers)
	if err != nil {
		return nil, err
	}
	if headers == nil {
		headers = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO llm_configs (id, name, endpoint_url, method, headers, payload_template, timeout_seconds, max_retries, environment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		cfg.ID, cfg.Name, cfg.EndpointURL, cfg.Method, headers, cfg.PayloadTemplate,
		cfg.TimeoutSeconds, cfg.MaxRetries, cfg.Environment, cfg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm config: %w", err)
	}
	return cfg, nil
}

// GetLLMConfig retrieves an LLM config by ID.
func (s *CatalogStore) GetLLMConfig(ctx context.Context, id string) (*models.LLMConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, endpoint_url, method, headers, payload_template, timeout_seconds, max_retries, environment, created_at
		FROM llm_configs WHERE id = $1`, id)
	return scanLLMConfig(row)
}

// ListLLMConfigs returns all LLM configs, newest first.
func (s *CatalogStore) ListLLMConfigs(ctx context.Context) ([]*models.LLMConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, endpoint_url, method, headers, payload_template, timeout_seconds, max_retries, environment, created_at
		FROM llm_configs ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list llm configs: %w", err)
	}
	defer rows.Close()

	var out []*models.LLMConfig
	for rows.Next() {
		cfg, err := scanLLMConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// CreatePipeline validates and persists a new pipeline.
func (s *CatalogStore) CreatePipeline(ctx context.Context, req models.CreatePipelineRequest) (*models.Pipeline, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if len(req.Libraries) == 0 {
		return nil, NewValidationError("libraries", "at least one library is required")
	}
	if len(req.TestCategories) == 0 {
		return nil, NewValidationError("test_categories", "at least one category is required")
	}
	if _, err := s.GetLLMConfig(ctx, req.LLMConfigID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("llm_config_id", "unknown llm config")
		}
		return nil, err
	}

	p := &models.Pipeline{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		LLMConfigID:        req.LLMConfigID,
		Libraries:          req.Libraries,
		TestCategories:     req.TestCategories,
		SeverityThresholds: req.SeverityThresholds,
		CreatedAt:          time.Now().UTC(),
	}

	libraries, err := marshalJSON(p.Libraries)
	if err != nil {
		return nil, err
	}
	categories, err := marshalJSON(p.TestCategories)
	if err != nil {
		return nil, err
	}
	thresholds, err := marshalJSON(p.SeverityThresholds)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipelines (id, name, llm_config_id, libraries, test_categories, severity_thresholds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.LLMConfigID, libraries, categories, thresholds, p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

// GetPipeline retrieves a pipeline by ID.
func (s *CatalogStore) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, llm_config_id, libraries, test_categories, severity_thresholds, created_at
		FROM pipelines WHERE id = $1`, id)
	return scanPipeline(row)
}

// ListPipelines returns all pipelines, newest first.
func (s *CatalogStore) ListPipelines(ctx context.Context) ([]*models.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, llm_config_id, libraries, test_categories, severity_thresholds, created_at
		FROM pipelines ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLLMConfig(row scanner) (*models.LLMConfig, error) {
	var cfg models.LLMConfig
	var headers []byte
	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.EndpointURL, &cfg.Method, &headers,
		&cfg.PayloadTemplate, &cfg.TimeoutSeconds, &cfg.MaxRetries, &cfg.Environment, &cfg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan llm config: %w", err)
	}
	if err := unmarshalJSON(headers, &cfg.Headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	return &cfg, nil
}

func scanPipeline(row scanner) (*models.Pipeline, error) {
	var p models.Pipeline
	var libraries, categories, thresholds []byte
	err := row.Scan(&p.ID, &p.Name, &p.LLMConfigID, &libraries, &categories, &thresholds, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}
	if err := unmarshalJSON(libraries, &p.Libraries); err != nil {
		return nil, fmt.Errorf("failed to decode libraries: %w", err)
	}
	if err := unmarshalJSON(categories, &p.TestCategories); err != nil {
		return nil, fmt.Errorf("failed to decode test_categories: %w", err)
	}
	if err := unmarshalJSON(thresholds, &p.SeverityThresholds); err != nil {
		return nil, fmt.Errorf("failed to decode severity_thresholds: %w", err)
	}
	return &p, nil
}
