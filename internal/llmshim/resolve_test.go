package llmshim_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
)

func TestResolveClampsOutOfRangeTemperature(t *testing.T) {
	spec := llmshim.Registry["openai"]
	resolved := llmshim.Resolve(spec, "gpt-4o", map[string]any{"temperature": 5.0}, nil)
	assert.Equal(t, 2.0, resolved.Params["temperature"])
	assert.Len(t, resolved.Adjustments, 1)
	assert.Equal(t, llmshim.AdjustClamp, resolved.Adjustments[0].Action)
}

func TestResolveLocksTemperatureForModelOverride(t *testing.T) {
	spec := llmshim.Registry["openai"]
	resolved := llmshim.Resolve(spec, "o1-preview", map[string]any{"temperature": 0.2}, nil)
	assert.Equal(t, 1.0, resolved.Params["temperature"])
}

func TestResolveDropsUnsupportedTier2Param(t *testing.T) {
	spec := llmshim.Registry["anthropic"]
	resolved := llmshim.Resolve(spec, "claude-3-5-sonnet", map[string]any{"frequency_penalty": 0.5}, nil)
	_, present := resolved.Params["frequency_penalty"]
	assert.False(t, present)
}

func TestResolveAnthropicDropsTopPWhenTemperatureAlsoSet(t *testing.T) {
	spec := llmshim.Registry["anthropic"]
	resolved := llmshim.Resolve(spec, "claude-3-5-sonnet", map[string]any{"temperature": 0.5, "top_p": 0.9}, nil)
	_, hasTemp := resolved.Params["temperature"]
	_, hasTopP := resolved.Params["top_p"]
	assert.True(t, hasTemp)
	assert.False(t, hasTopP)
}

func TestClassifyMapsKnownSentinels(t *testing.T) {
	assert.Equal(t, llmshim.ErrorClassRateLimited, llmshim.Classify(llmshim.ErrRateLimited))
	assert.Equal(t, llmshim.ErrorClassAuthFailed, llmshim.Classify(llmshim.ErrAuthFailed))
	assert.Equal(t, llmshim.ErrorClassTimeout, llmshim.Classify(llmshim.ErrTimeout))
	assert.Equal(t, llmshim.ErrorClassTimeout, llmshim.Classify(context.DeadlineExceeded))
}

func TestClassifyDefaultsToGeneric(t *testing.T) {
	assert.Equal(t, llmshim.ErrorClassGeneric, llmshim.Classify(assert.AnError))
}
