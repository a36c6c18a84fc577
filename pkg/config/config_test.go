package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptshield/promptshield/pkg/models"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultWorkerParallelism, cfg.WorkerParallelism)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, DefaultHTTPMaxRetries, cfg.HTTPMaxRetries)
	assert.Equal(t, 600*time.Second, cfg.DriftComparisonTimeout)
	assert.Equal(t, DefaultEmbeddingBatchSize, cfg.EmbeddingBatchSize)
	assert.False(t, cfg.EnableAgentTraces)
	assert.Equal(t, DefaultDriftThresholds(), cfg.DriftThresholds)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("WORKER_PARALLELISM", "16")
	t.Setenv("HTTP_TIMEOUT_SECONDS", "5")
	t.Setenv("HTTP_MAX_RETRIES", "1")
	t.Setenv("ENABLE_AGENT_TRACES", "true")
	t.Setenv("EMBEDDING_SERVICE_URL", "http://embed.test")
	t.Setenv("EMBEDDING_MODEL_NAME", "bge-small")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.WorkerParallelism)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, 1, cfg.HTTPMaxRetries)
	assert.True(t, cfg.EnableAgentTraces)
	assert.Equal(t, "http://embed.test", cfg.EmbeddingServiceURL)
	assert.Equal(t, "bge-small", cfg.EmbeddingModelName)
}

func TestLoadFromEnv_DriftThresholds(t *testing.T) {
	t.Setenv("DRIFT_THRESHOLDS", "output=0.5, embedding=0.4")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.DriftThresholds[models.ChannelOutput])
	assert.Equal(t, 0.4, cfg.DriftThresholds[models.ChannelEmbedding])
	// Untouched channels keep their defaults.
	assert.Equal(t, 0.15, cfg.DriftThresholds[models.ChannelSafety])
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric parallelism", "WORKER_PARALLELISM", "many"},
		{"zero parallelism", "WORKER_PARALLELISM", "0"},
		{"negative retries", "HTTP_MAX_RETRIES", "-1"},
		{"unknown drift channel", "DRIFT_THRESHOLDS", "telemetry=0.5"},
		{"malformed drift pair", "DRIFT_THRESHOLDS", "output:0.5"},
		{"bad bool", "ENABLE_AGENT_TRACES", "yep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv()
			assert.Error(t, err)
		})
	}
}
