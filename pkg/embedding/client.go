// Package embedding calls the external embedding service to vectorize
// finding responses.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ServiceError reports an embedding service failure. Non-fatal to the
// enclosing execution: the caller logs and proceeds without embeddings.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("embedding service error: %v", e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Client posts text batches to the embedding service.
type Client struct {
	httpClient *http.Client
	serviceURL string
	modelName  string
	batchSize  int
}

// NewClient creates an embedding client. serviceURL empty is allowed — the
// caller is expected to skip embedding when unconfigured.
func NewClient(serviceURL, modelName string, batchSize int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		serviceURL: serviceURL,
		modelName:  modelName,
		batchSize:  batchSize,
	}
}

// ModelName returns the model the client requests vectors from.
func (c *Client) ModelName() string { return c.modelName }

// Enabled reports whether a service URL is configured.
func (c *Client) Enabled() bool { return c.serviceURL != "" }

// embedRequest is the service request body.
type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

// Embed vectorizes all texts, batching requests. The returned slice is
// parallel to texts. All vectors share one dimension; a mismatched response
// is rejected.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if !c.Enabled() {
		return nil, &ServiceError{Err: fmt.Errorf("no embedding service configured")}
	}

	vectors := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch, err := c.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	if len(vectors) != len(texts) {
		return nil, &ServiceError{Err: fmt.Errorf("service returned %d vectors for %d texts", len(vectors), len(texts))}
	}
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Model: c.modelName})
	if err != nil {
		return nil, &ServiceError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL, bytes.NewReader(body))
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ServiceError{Err: fmt.Errorf("service returned HTTP %d", resp.StatusCode)}
	}

	vectors, err := parseVectors(respBody)
	if err != nil {
		return nil, &ServiceError{Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &ServiceError{Err: fmt.Errorf("batch returned %d vectors for %d texts", len(vectors), len(texts))}
	}
	return vectors, nil
}

// parseVectors accepts the three supported response shapes: a bare
// [[float...]...], {"embeddings": [...]}, or {"data": [{"embedding": [...]}]}.
// All vectors in one response must share the same length.
func parseVectors(body []byte) ([][]float64, error) {
	var bare [][]float64
	if err := json.Unmarshal(body, &bare); err == nil {
		return validateDimensions(bare)
	}

	var wrapped struct {
		Embeddings [][]float64 `json:"embeddings"`
		Data       []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("unrecognized response shape: %w", err)
	}

	if wrapped.Embeddings != nil {
		return validateDimensions(wrapped.Embeddings)
	}
	if wrapped.Data != nil {
		vectors := make([][]float64, len(wrapped.Data))
		for i, d := range wrapped.Data {
			vectors[i] = d.Embedding
		}
		return validateDimensions(vectors)
	}
	return nil, fmt.Errorf("response carries no embeddings")
}

func validateDimensions(vectors [][]float64) ([][]float64, error) {
	if len(vectors) == 0 {
		return vectors, nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return vectors, nil
}
