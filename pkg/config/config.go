// Package config loads runtime configuration from environment variables with
// production-ready defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/promptshield/promptshield/pkg/models"
)

// Default configuration values.
const (
	DefaultWorkerParallelism    = 8
	DefaultHTTPTimeoutSeconds   = 30
	DefaultHTTPMaxRetries       = 3
	DefaultEmbeddingModelName   = "all-MiniLM-L6-v2"
	DefaultEmbeddingBatchSize   = 32
	DefaultDriftTimeoutSeconds  = 600
	DefaultJobTimeoutSeconds    = 300
	DefaultQueueWorkers         = 2
	DefaultQueuePollInterval    = time.Second
	DefaultQueuePollJitter      = 500 * time.Millisecond
)

// DefaultDriftThresholds returns the per-channel drift thresholds from the
// drift specification.
func DefaultDriftThresholds() map[models.DriftChannel]float64 {
	return map[models.DriftChannel]float64{
		models.ChannelOutput:       0.20,
		models.ChannelSafety:       0.15,
		models.ChannelDistribution: 0.20,
		models.ChannelEmbedding:    0.30,
		models.ChannelAgentTool:    0.25,
	}
}

// Config is the full runtime configuration.
type Config struct {
	// WorkerParallelism is the number of (adapter, category) jobs processed
	// concurrently within a single execution.
	WorkerParallelism int

	// QueueWorkers is the number of goroutines polling for pending executions.
	QueueWorkers int

	// QueuePollInterval is the base poll interval; QueuePollJitter is the
	// random jitter added on top so replicas don't poll in lockstep.
	QueuePollInterval time.Duration
	QueuePollJitter   time.Duration

	// HTTPTimeout is the default per-request LLM timeout, overridable per
	// LLM config. HTTPMaxRetries bounds transport/5xx retries.
	HTTPTimeout    time.Duration
	HTTPMaxRetries int

	// EmbeddingServiceURL is the external embedding service endpoint. Empty
	// disables the embedding hook.
	EmbeddingServiceURL string
	EmbeddingModelName  string
	EmbeddingBatchSize  int

	// DriftThresholds maps channel → threshold recorded on drift findings.
	DriftThresholds map[models.DriftChannel]float64

	// DriftComparisonTimeout bounds one full drift comparison.
	DriftComparisonTimeout time.Duration

	// JobTimeout is the per-(adapter, category) time budget; the execution
	// deadline is JobTimeout × |work set|.
	JobTimeout time.Duration

	// EnableAgentTraces turns on agent-trace extraction after execution.
	EnableAgentTraces bool
}

// LoadFromEnv builds a Config from environment variables, applying defaults
// and validating ranges.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		WorkerParallelism:      DefaultWorkerParallelism,
		QueueWorkers:           DefaultQueueWorkers,
		QueuePollInterval:      DefaultQueuePollInterval,
		QueuePollJitter:        DefaultQueuePollJitter,
		HTTPTimeout:            DefaultHTTPTimeoutSeconds * time.Second,
		HTTPMaxRetries:         DefaultHTTPMaxRetries,
		EmbeddingServiceURL:    os.Getenv("EMBEDDING_SERVICE_URL"),
		EmbeddingModelName:     getEnvOrDefault("EMBEDDING_MODEL_NAME", DefaultEmbeddingModelName),
		EmbeddingBatchSize:     DefaultEmbeddingBatchSize,
		DriftThresholds:        DefaultDriftThresholds(),
		DriftComparisonTimeout: DefaultDriftTimeoutSeconds * time.Second,
		JobTimeout:             DefaultJobTimeoutSeconds * time.Second,
	}

	var err error
	if cfg.WorkerParallelism, err = intFromEnv("WORKER_PARALLELISM", cfg.WorkerParallelism); err != nil {
		return nil, err
	}
	if cfg.QueueWorkers, err = intFromEnv("QUEUE_WORKERS", cfg.QueueWorkers); err != nil {
		return nil, err
	}
	if cfg.HTTPMaxRetries, err = intFromEnv("HTTP_MAX_RETRIES", cfg.HTTPMaxRetries); err != nil {
		return nil, err
	}
	if cfg.EmbeddingBatchSize, err = intFromEnv("EMBEDDING_BATCH_SIZE", cfg.EmbeddingBatchSize); err != nil {
		return nil, err
	}

	if secs, err := intFromEnv("HTTP_TIMEOUT_SECONDS", DefaultHTTPTimeoutSeconds); err != nil {
		return nil, err
	} else {
		cfg.HTTPTimeout = time.Duration(secs) * time.Second
	}
	if secs, err := intFromEnv("DRIFT_COMPARISON_TIMEOUT_SECONDS", DefaultDriftTimeoutSeconds); err != nil {
		return nil, err
	} else {
		cfg.DriftComparisonTimeout = time.Duration(secs) * time.Second
	}
	if secs, err := intFromEnv("JOB_TIMEOUT_SECONDS", DefaultJobTimeoutSeconds); err != nil {
		return nil, err
	} else {
		cfg.JobTimeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("ENABLE_AGENT_TRACES"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid ENABLE_AGENT_TRACES: %w", err)
		}
		cfg.EnableAgentTraces = enabled
	}

	if v := os.Getenv("DRIFT_THRESHOLDS"); v != "" {
		overrides, err := parseDriftThresholds(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DRIFT_THRESHOLDS: %w", err)
		}
		for ch, thr := range overrides {
			cfg.DriftThresholds[ch] = thr
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configured values are usable.
func (c *Config) Validate() error {
	if c.WorkerParallelism < 1 {
		return fmt.Errorf("WORKER_PARALLELISM must be at least 1, got %d", c.WorkerParallelism)
	}
	if c.QueueWorkers < 1 {
		return fmt.Errorf("QUEUE_WORKERS must be at least 1, got %d", c.QueueWorkers)
	}
	if c.HTTPMaxRetries < 0 {
		return fmt.Errorf("HTTP_MAX_RETRIES cannot be negative, got %d", c.HTTPMaxRetries)
	}
	if c.EmbeddingBatchSize < 1 {
		return fmt.Errorf("EMBEDDING_BATCH_SIZE must be at least 1, got %d", c.EmbeddingBatchSize)
	}
	for ch, thr := range c.DriftThresholds {
		if thr < 0 {
			return fmt.Errorf("drift threshold for channel %q cannot be negative, got %v", ch, thr)
		}
	}
	return nil
}

// parseDriftThresholds parses "output=0.2,safety=0.15" style overrides.
func parseDriftThresholds(s string) (map[models.DriftChannel]float64, error) {
	out := make(map[models.DriftChannel]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("expected channel=value, got %q", pair)
		}
		channel := models.DriftChannel(strings.TrimSpace(key))
		known := false
		for _, ch := range models.AllDriftChannels() {
			if ch == channel {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown drift channel %q", key)
		}
		thr, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold for %q: %w", key, err)
		}
		out[channel] = thr
	}
	return out, nil
}

func intFromEnv(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
