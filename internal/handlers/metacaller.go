package handlers

import (
	"context"
	"fmt"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
)

// MetaCaller drives the non-streaming judge/meta-model call path (spec
// §4.5 "Non-streaming call with retry") and layers the lenient JSON
// extraction Design Note §9 prescribes on top of it: a response that isn't
// clean JSON is parsed leniently, and a response that doesn't parse at all
// is retried once before giving up.
type MetaCaller struct {
	Completer llmshim.Completer
	Model     string
}

// CallJSON sends one non-streaming completion and returns the parsed JSON
// object the model produced, retrying once on an unparseable response.
func (m MetaCaller) CallJSON(ctx context.Context, systemPrompt, userPrompt string) (map[string]any, error) {
	req := llmshim.Request{
		Model: m.Model,
		Messages: []llmshim.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		JSONMode: true,
	}

	resp, err := llmshim.RunNonStreaming(ctx, m.Completer, req, nil)
	if err != nil {
		return nil, fmt.Errorf("meta call: %w", err)
	}
	if obj, ok := ExtractJSONObject(resp.Content); ok {
		return obj, nil
	}

	resp, err = llmshim.RunNonStreaming(ctx, m.Completer, req, nil)
	if err != nil {
		return nil, fmt.Errorf("meta call retry: %w", err)
	}
	if obj, ok := ExtractJSONObject(resp.Content); ok {
		return obj, nil
	}
	return map[string]any{}, nil
}

// CallText sends one non-streaming completion and returns the raw content,
// for prompts whose output is free text rather than JSON (e.g. a mutated
// prompt-tune candidate).
func (m MetaCaller) CallText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := llmshim.Request{
		Model: m.Model,
		Messages: []llmshim.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	}
	resp, err := llmshim.RunNonStreaming(ctx, m.Completer, req, nil)
	if err != nil {
		return "", fmt.Errorf("meta call: %w", err)
	}
	return resp.Content, nil
}

func optFloat(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := asFloat64(v); ok {
			return f
		}
	}
	return fallback
}

func optString(m map[string]any, key, fallback string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
