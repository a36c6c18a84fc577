package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholder tokens recognized in payload templates.
const (
	promptPlaceholder = "{prompt}"
	systemPlaceholder = "{system_prompt}"
)

// RenderPayload renders a JSON payload template by substituting the prompt
// placeholders in the raw template text, then parsing the result. Two-pass on
// purpose: string replacement preserves the user's JSON shape, and a parse
// failure surfaces a malformed template loudly instead of deep-walking a
// half-understood object.
//
// If the parsed object contains no "messages" array but the template carried
// either placeholder, an OpenAI-style messages array is synthesized (system
// entry first when a system prompt is present, then the user entry). Templates
// without placeholders pass through verbatim.
func RenderPayload(template, prompt, systemPrompt string) ([]byte, error) {
	hadPlaceholder := strings.Contains(template, promptPlaceholder) || strings.Contains(template, systemPlaceholder)

	rendered := strings.ReplaceAll(template, promptPlaceholder, jsonEscape(prompt))
	rendered = strings.ReplaceAll(rendered, systemPlaceholder, jsonEscape(systemPrompt))

	var payload map[string]any
	if err := json.Unmarshal([]byte(rendered), &payload); err != nil {
		return nil, &PayloadRenderError{Err: fmt.Errorf("template is not valid JSON after substitution: %w", err)}
	}

	if _, hasMessages := payload["messages"]; !hasMessages && hadPlaceholder {
		var messages []map[string]string
		if systemPrompt != "" {
			messages = append(messages, map[string]string{"role": "system", "content": systemPrompt})
		}
		messages = append(messages, map[string]string{"role": "user", "content": prompt})
		payload["messages"] = messages
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &PayloadRenderError{Err: err}
	}
	return body, nil
}

// jsonEscape encodes s as a JSON string and strips the surrounding quotes so
// the value can be spliced into string positions of the raw template without
// breaking the document on quotes or control characters.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}

// ExtractResponse pulls the assistant text out of a JSON reply, trying the
// known shapes in order: choices[0].message.content, choices[0].text,
// response, output, text, then a top-level JSON string. If nothing yields a
// non-empty string the raw body is returned — unless the body is an error
// envelope, which is surfaced as an AdapterError.
func ExtractResponse(body []byte) (string, error) {
	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		// Not JSON at all: hand back the raw body.
		return string(body), nil
	}

	if s, ok := top.(string); ok && s != "" {
		return s, nil
	}

	obj, ok := top.(map[string]any)
	if !ok {
		return string(body), nil
	}

	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if message, ok := choice["message"].(map[string]any); ok {
				if content, ok := message["content"].(string); ok && content != "" {
					return content, nil
				}
			}
			if text, ok := choice["text"].(string); ok && text != "" {
				return text, nil
			}
		}
	}

	for _, key := range []string{"response", "output", "text"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, nil
		}
	}

	if errEnvelope(obj) {
		return "", &AdapterError{Err: fmt.Errorf("llm endpoint returned error envelope: %s", truncate(string(body), 512))}
	}

	return string(body), nil
}

// errEnvelope recognizes {"error": ...} and {"error": {"message": ...}} replies.
func errEnvelope(obj map[string]any) bool {
	v, ok := obj["error"]
	if !ok {
		return false
	}
	switch e := v.(type) {
	case string:
		return e != ""
	case map[string]any:
		return true
	default:
		return v != nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
