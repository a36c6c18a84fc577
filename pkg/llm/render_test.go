package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, template, prompt, system string) map[string]any {
	t.Helper()
	body, err := RenderPayload(template, prompt, system)
	require.NoError(t, err)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func TestRenderPayload_SubstitutesPlaceholders(t *testing.T) {
	payload := render(t, `{"prompt":"{prompt}","sys":"{system_prompt}"}`, "hi", "S")
	assert.Equal(t, "hi", payload["prompt"])
	assert.Equal(t, "S", payload["sys"])
}

func TestRenderPayload_ExistingMessagesNotTouched(t *testing.T) {
	payload := render(t, `{"messages":[{"role":"user","content":"{prompt}"}]}`, "hi", "")
	messages, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1, "must not invent a system entry")
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hi", first["content"])
}

func TestRenderPayload_SynthesizesMessages(t *testing.T) {
	t.Run("prompt only", func(t *testing.T) {
		payload := render(t, `{"x":"{prompt}"}`, "hi", "")
		assert.Equal(t, "hi", payload["x"])
		messages := payload["messages"].([]any)
		require.Len(t, messages, 1)
		user := messages[0].(map[string]any)
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "hi", user["content"])
	})

	t.Run("system then user", func(t *testing.T) {
		payload := render(t, `{"x":"{prompt}","s":"{system_prompt}"}`, "hi", "S")
		messages := payload["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "S", messages[0].(map[string]any)["content"])
		assert.Equal(t, "user", messages[1].(map[string]any)["role"])
		assert.Equal(t, "hi", messages[1].(map[string]any)["content"])
	})
}

func TestRenderPayload_NoPlaceholdersPassesThrough(t *testing.T) {
	payload := render(t, `{"input":"fixed"}`, "hi", "")
	assert.Equal(t, "fixed", payload["input"])
	_, hasMessages := payload["messages"]
	assert.False(t, hasMessages)
}

func TestRenderPayload_EscapesPromptContent(t *testing.T) {
	payload := render(t, `{"prompt":"{prompt}"}`, "say \"hi\"\nplease", "")
	assert.Equal(t, "say \"hi\"\nplease", payload["prompt"])
}

func TestRenderPayload_MalformedTemplate(t *testing.T) {
	_, err := RenderPayload(`{"prompt": {prompt}}`, "hi", "")
	require.Error(t, err)
	var renderErr *PayloadRenderError
	assert.ErrorAs(t, err, &renderErr)
}

func TestExtractResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"openai chat shape", `{"choices":[{"message":{"content":"hello"}}]}`, "hello"},
		{"completion shape", `{"choices":[{"text":"hello"}]}`, "hello"},
		{"response key", `{"response":"hello"}`, "hello"},
		{"output key", `{"output":"hello"}`, "hello"},
		{"text key", `{"text":"hello"}`, "hello"},
		{"top-level string", `"hello"`, "hello"},
		{"priority order", `{"choices":[{"message":{"content":"first"}}],"response":"second"}`, "first"},
		{"non-json body", `plain text`, "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractResponse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractResponse_ErrorEnvelope(t *testing.T) {
	for _, body := range []string{
		`{"error":"model overloaded"}`,
		`{"error":{"message":"bad request"}}`,
	} {
		_, err := ExtractResponse([]byte(body))
		require.Error(t, err, "body %s", body)
		var adapterErr *AdapterError
		assert.ErrorAs(t, err, &adapterErr)
	}
}
