package llmshim

import (
	"path"
	"sort"
)

// AdjustAction is the closed set of outcomes the resolver may record for one
// parameter (spec §4.5 step 3).
type AdjustAction string

const (
	AdjustDrop   AdjustAction = "drop"
	AdjustRename AdjustAction = "rename"
	AdjustClamp  AdjustAction = "clamp"
	AdjustWarn   AdjustAction = "warn"
)

// Adjustment records one resolver decision for the caller-facing log.
type Adjustment struct {
	Param      string       `json:"param"`
	Original   any          `json:"original"`
	Adjusted   any          `json:"adjusted,omitempty"`
	Action     AdjustAction `json:"action"`
	Resolution string       `json:"resolution,omitempty"`
}

// Resolved is the output of parameter resolution: the merged kwargs ready for
// a transport call, plus the adjustment log describing every mutation.
type Resolved struct {
	Params      map[string]any
	Adjustments []Adjustment
}

// Resolve runs the full parameter-resolution pipeline for one (provider,
// model, requested params) triple (spec §4.5 steps 2-5).
func Resolve(spec *ProviderSpec, modelID string, requested map[string]any, skipParams []string) Resolved {
	params := make(map[string]any, len(requested))
	for k, v := range requested {
		params[k] = v
	}

	var adjustments []Adjustment

	// Step 2: clamp temperature, honoring locked model overrides first.
	if locked, ok := lockedValue(spec, modelID, "temperature"); ok {
		if orig, had := params["temperature"]; had && orig != locked {
			adjustments = append(adjustments, Adjustment{Param: "temperature", Original: orig, Adjusted: locked, Action: AdjustClamp, Resolution: "locked by model override"})
		}
		params["temperature"] = locked
	} else if t, ok := asFloat(params["temperature"]); ok {
		clamped := clamp(t, spec.TemperatureSpec.Min, spec.TemperatureSpec.Max)
		if clamped != t {
			adjustments = append(adjustments, Adjustment{Param: "temperature", Original: t, Adjusted: clamped, Action: AdjustClamp, Resolution: "out of provider range"})
			params["temperature"] = clamped
		}
	}

	if mt, ok := asFloat(params["max_tokens"]); ok {
		clamped := clamp(mt, spec.MaxTokensSpec.Min, spec.MaxTokensSpec.Max)
		if clamped != mt {
			adjustments = append(adjustments, Adjustment{Param: "max_tokens", Original: mt, Adjusted: clamped, Action: AdjustClamp, Resolution: "out of provider range"})
			params["max_tokens"] = int(clamped)
		}
	}

	// Tier2 support/range checks.
	for name, paramSpec := range spec.Tier2 {
		v, present := params[name]
		if !present {
			continue
		}
		if !paramSpec.Supported {
			delete(params, name)
			adjustments = append(adjustments, Adjustment{Param: name, Original: v, Action: AdjustDrop, Resolution: "unsupported by provider"})
			continue
		}
		if f, ok := asFloat(v); ok && (paramSpec.Min != 0 || paramSpec.Max != 0) {
			clamped := clamp(f, paramSpec.Min, paramSpec.Max)
			if clamped != f {
				adjustments = append(adjustments, Adjustment{Param: name, Original: f, Adjusted: clamped, Action: AdjustClamp, Resolution: "out of provider range"})
				params[name] = clamped
			}
		}
	}

	// Step 3: provider-specific conflict rules.
	for _, c := range spec.Conflicts {
		if !c.Condition(modelID, params) {
			continue
		}
		switch c.Action {
		case AdjustDrop:
			for _, p := range c.Params {
				if v, ok := params[p]; ok {
					delete(params, p)
					adjustments = append(adjustments, Adjustment{Param: p, Original: v, Action: AdjustDrop, Resolution: c.Resolution})
				}
			}
		case AdjustRename:
			if len(c.Params) == 1 {
				old := c.Params[0]
				if v, ok := params[old]; ok {
					delete(params, old)
					newName := renameTarget(old)
					params[newName] = v
					adjustments = append(adjustments, Adjustment{Param: old, Original: v, Adjusted: newName, Action: AdjustRename, Resolution: c.Resolution})
				}
			}
		case AdjustClamp:
			for _, p := range c.Params {
				if v, ok := asFloat(params[p]); ok {
					params[p] = 1.0
					adjustments = append(adjustments, Adjustment{Param: p, Original: v, Adjusted: 1.0, Action: AdjustClamp, Resolution: c.Resolution})
				}
			}
		case AdjustWarn:
			for _, p := range c.Params {
				if v, ok := params[p]; ok {
					adjustments = append(adjustments, Adjustment{Param: p, Original: v, Action: AdjustWarn, Resolution: c.Resolution})
				}
			}
		}
	}

	// Step 4: strip per-model skip_params.
	for _, name := range skipParams {
		if v, ok := params[name]; ok {
			delete(params, name)
			adjustments = append(adjustments, Adjustment{Param: name, Original: v, Action: AdjustDrop, Resolution: "model skip_params"})
		}
	}

	if spec.RequiresMaxTokens {
		if _, ok := params["max_tokens"]; !ok {
			params["max_tokens"] = int(spec.MaxTokensSpec.Max)
			if params["max_tokens"].(int) > 4096 {
				params["max_tokens"] = 4096
			}
		}
	}

	sort.Slice(adjustments, func(i, j int) bool { return adjustments[i].Param < adjustments[j].Param })
	return Resolved{Params: params, Adjustments: adjustments}
}

func renameTarget(old string) string {
	if old == "max_tokens" {
		return "max_completion_tokens"
	}
	return old
}

func lockedValue(spec *ProviderSpec, modelID, param string) (float64, bool) {
	for _, o := range spec.ModelOverrides {
		if o.Param == param && matches(modelID, o.Pattern) {
			return o.Value, true
		}
	}
	return 0, false
}

func matchesAny(modelID string, patterns ...string) bool {
	for _, p := range patterns {
		if matches(modelID, p) {
			return true
		}
	}
	return false
}

func matches(modelID, pattern string) bool {
	ok, err := path.Match(pattern, modelID)
	return err == nil && ok
}

func clamp(v, min, max float64) float64 {
	if min == 0 && max == 0 {
		return v
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func asFloat(v any) (float64, bool) {
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
