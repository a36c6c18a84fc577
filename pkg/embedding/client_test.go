package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveJSON(t *testing.T, handler func(req embedRequest) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(handler(req)))
	}))
}

func constantVectors(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = []float64{0.1, 0.2, 0.3}
	}
	return out
}

func TestEmbed_ResponseShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload func(req embedRequest) any
	}{
		{"bare array", func(req embedRequest) any {
			return constantVectors(len(req.Texts))
		}},
		{"embeddings wrapper", func(req embedRequest) any {
			return map[string]any{"embeddings": constantVectors(len(req.Texts))}
		}},
		{"openai data wrapper", func(req embedRequest) any {
			data := make([]map[string]any, len(req.Texts))
			for i := range data {
				data[i] = map[string]any{"embedding": []float64{0.1, 0.2, 0.3}}
			}
			return map[string]any{"data": data}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := serveJSON(t, tt.payload)
			defer server.Close()

			client := NewClient(server.URL, "test-model", 32)
			vectors, err := client.Embed(context.Background(), []string{"a", "b"})
			require.NoError(t, err)
			require.Len(t, vectors, 2)
			assert.Equal(t, []float64{0.1, 0.2, 0.3}, vectors[0])
		})
	}
}

func TestEmbed_Batching(t *testing.T) {
	var requests atomic.Int32
	server := serveJSON(t, func(req embedRequest) any {
		requests.Add(1)
		assert.LessOrEqual(t, len(req.Texts), 2)
		assert.Equal(t, "test-model", req.Model)
		return constantVectors(len(req.Texts))
	})
	defer server.Close()

	client := NewClient(server.URL, "test-model", 2)
	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Equal(t, int32(3), requests.Load())
}

func TestEmbed_DimensionMismatchRejected(t *testing.T) {
	server := serveJSON(t, func(req embedRequest) any {
		return [][]float64{{0.1, 0.2}, {0.1, 0.2, 0.3}}
	})
	defer server.Close()

	client := NewClient(server.URL, "test-model", 32)
	_, err := client.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestEmbed_CountMismatchRejected(t *testing.T) {
	server := serveJSON(t, func(req embedRequest) any {
		return constantVectors(1)
	})
	defer server.Close()

	client := NewClient(server.URL, "test-model", 32)
	_, err := client.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestEmbed_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-model", 32)
	_, err := client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
	var svcErr *ServiceError
	assert.ErrorAs(t, err, &svcErr)
}

func TestEmbed_Unconfigured(t *testing.T) {
	client := NewClient("", "test-model", 32)
	assert.False(t, client.Enabled())
	_, err := client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}
