// Package llm implements the shared HTTP transport every probe adapter uses
// to talk to the LLM endpoint under test.
package llm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/promptshield/promptshield/pkg/models"
)

// Backoff parameters for retried requests.
const (
	backoffBase   = 500 * time.Millisecond
	backoffFactor = 2
	backoffCap    = 8 * time.Second
)

// Transport is the single shared HTTP client used by every adapter. Safe for
// concurrent use; per-request timeout and retry budget come from the LLM
// config, falling back to the given defaults.
type Transport struct {
	httpClient     *http.Client
	defaultTimeout time.Duration
	defaultRetries int
	logger         *slog.Logger
}

// NewTransport creates the shared transport. defaultTimeout and
// defaultRetries apply when an LLM config leaves them unset.
func NewTransport(defaultTimeout time.Duration, defaultRetries int) *Transport {
	return &Transport{
		// The pooled client carries no global timeout; deadlines are enforced
		// per request via context so each config's timeout applies.
		httpClient:     &http.Client{},
		defaultTimeout: defaultTimeout,
		defaultRetries: defaultRetries,
		logger:         slog.Default(),
	}
}

// Complete renders the config's payload template with the given prompts,
// posts it to the configured endpoint, and extracts the response text.
// Transport errors and 5xx responses are retried with exponential backoff;
// 4xx responses are not.
func (t *Transport) Complete(ctx context.Context, cfg *models.LLMConfig, prompt, systemPrompt string) (string, error) {
	body, err := RenderPayload(cfg.PayloadTemplate, prompt, systemPrompt)
	if err != nil {
		return "", err
	}

	timeout := t.defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	retries := t.defaultRetries
	if cfg.MaxRetries > 0 {
		retries = cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return "", err
			}
			t.logger.Debug("Retrying LLM request",
				"endpoint", cfg.EndpointURL,
				"attempt", attempt,
				"max_retries", retries)
		}

		respBody, err := t.doRequest(ctx, cfg, body, timeout)
		if err != nil {
			lastErr = err
			if IsRetriable(err) && ctx.Err() == nil {
				continue
			}
			return "", err
		}
		return ExtractResponse(respBody)
	}
	return "", lastErr
}

// doRequest performs one HTTP attempt with its own deadline.
func (t *Transport) doRequest(ctx context.Context, cfg *models.LLMConfig, body []byte, timeout time.Duration) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.EndpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// Header values may carry credentials; they are applied here and must
	// never be logged.
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
	}
	return respBody, nil
}

// sleepBackoff waits for the attempt's backoff delay (base 0.5s, factor 2,
// cap 8s, small jitter) or until the context is done.
func sleepBackoff(ctx context.Context, attempt int) error {
	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= backoffFactor
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}
	delay += time.Duration(rand.Int64N(int64(delay / 4)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
