package handlers

import (
	"encoding/json"
	"strings"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// ToolSelectionScore implements spec §4.6.2's case-insensitive, any-of
// comparison: 1.0 if the actual tool name matches any expected tool name.
func ToolSelectionScore(actualTool string, expected []string) float64 {
	if matchesAny(actualTool, expected) {
		return 1.0
	}
	return 0.0
}

// ParamAccuracy scores actualParams against expectedParamsJSON per the
// test case's configured strategy (spec §4.6.2). Returns (score, true) when
// expectedParamsJSON is non-empty; (0, false) — "null" — otherwise.
func ParamAccuracy(strategy models.ParamScoring, expectedParamsJSON, actualParamsJSON string) (float64, bool) {
	expectedParamsJSON = strings.TrimSpace(expectedParamsJSON)
	if expectedParamsJSON == "" {
		return 0, false
	}

	var expected, actual map[string]any
	if err := json.Unmarshal([]byte(expectedParamsJSON), &expected); err != nil {
		return 0, true
	}
	_ = json.Unmarshal([]byte(actualParamsJSON), &actual)

	if len(expected) == 0 {
		return 1.0, true
	}

	matched := 0
	for k, want := range expected {
		got, ok := actual[k]
		if !ok {
			continue
		}
		if paramMatches(strategy, want, got) {
			matched++
		}
	}
	return float64(matched) / float64(len(expected)), true
}

func paramMatches(strategy models.ParamScoring, want, got any) bool {
	switch strategy {
	case models.ParamScoringExact:
		return want == got
	case models.ParamScoringContains:
		ws, wok := want.(string)
		gs, gok := got.(string)
		return wok && gok && strings.Contains(strings.ToLower(gs), strings.ToLower(ws))
	case models.ParamScoringFuzzy, models.ParamScoringSemantic:
		// Both strategies are a best-effort token-overlap heuristic here: the
		// real semantic comparison is an external embedding/LLM call that's
		// out of scope for this port's transport boundary (spec §1); fuzzy
		// and semantic share the same conservative fallback so a test suite
		// exercising either still gets a meaningful partial-credit score.
		ws, wok := toComparableString(want)
		gs, gok := toComparableString(got)
		if !wok || !gok {
			return want == got
		}
		return fuzzyOverlap(ws, gs) >= 0.6
	default:
		return want == got
	}
}

func toComparableString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return strings.ToLower(string(b)), true
	}
}

func fuzzyOverlap(a, b string) float64 {
	if a == b {
		return 1.0
	}
	aTokens := strings.Fields(a)
	bSet := make(map[string]struct{}, len(aTokens))
	for _, t := range strings.Fields(b) {
		bSet[t] = struct{}{}
	}
	if len(aTokens) == 0 {
		return 0
	}
	hit := 0
	for _, t := range aTokens {
		if _, ok := bSet[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(aTokens))
}

// OverallScore implements spec §4.6.2's combination rule.
func OverallScore(toolSelection float64, paramAccuracy float64, hasParamAccuracy bool) float64 {
	if hasParamAccuracy {
		return toolSelection * paramAccuracy
	}
	return toolSelection
}

// MultiTurnScores computes the multi-turn-only metrics spec §4.6.2 adds on
// top of the base scoring: completion (did the case reach the expected
// final tool), efficiency (optimal vs. actual hop count), redundancy
// (repeated identical tool calls), and detour (calls to tools outside the
// expected chain).
type MultiTurnScores struct {
	CompletionScore   float64
	EfficiencyScore   float64
	RedundancyPenalty float64
	DetourPenalty     float64
}

// ComputeMultiTurn scores one multi-turn case's tool_chain against the
// expected final tool and an optimal hop count.
func ComputeMultiTurn(toolChain []string, expectedFinal []string, optimalHops, roundsUsed int) MultiTurnScores {
	var s MultiTurnScores

	if len(toolChain) > 0 && matchesAny(toolChain[len(toolChain)-1], expectedFinal) {
		s.CompletionScore = 1.0
	}

	if roundsUsed <= 0 {
		roundsUsed = 1
	}
	if optimalHops <= 0 {
		optimalHops = roundsUsed
	}
	eff := float64(optimalHops) / float64(roundsUsed)
	if eff > 1 {
		eff = 1
	}
	s.EfficiencyScore = eff

	seen := make(map[string]int, len(toolChain))
	for _, t := range toolChain {
		seen[strings.ToLower(t)]++
	}
	repeats := 0
	for _, n := range seen {
		if n > 1 {
			repeats += n - 1
		}
	}
	if len(toolChain) > 0 {
		s.RedundancyPenalty = float64(repeats) / float64(len(toolChain))
	}

	detours := 0
	for _, t := range toolChain {
		if !matchesAny(t, expectedFinal) {
			detours++
		}
	}
	if len(toolChain) > 0 {
		s.DetourPenalty = float64(detours) / float64(len(toolChain))
	}

	return s
}
