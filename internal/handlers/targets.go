// Package handlers implements the six job-type handlers the registry
// dispatches to. All six share one skeleton: validate, resolve targets via
// the compound-key rule, group by provider, run provider groups in
// parallel but each provider's calls sequentially, emit incremental WS
// events, persist incrementally, and return a result reference.
//
// Grounded on tarsy's pkg/queue worker pool for the provider-group
// parallel-but-serial dispatch shape, and on the original Python handler
// modules for the per-handler algorithms (tool-eval scoring, param-tune
// combo dedup, prompt-tune generations, judge fan-out).
package handlers

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// TargetRequest is one entry of the precise request shape:
// {provider_key, model_id}.
type TargetRequest struct {
	ProviderKey string `json:"provider_key"`
	ModelID     string `json:"model_id"`
}

// TargetSelector is the union of the two accepted request shapes (spec
// §4.6 Model selection). Precise takes priority when both are present.
type TargetSelector struct {
	Targets  []TargetRequest `json:"targets,omitempty"`
	ModelIDs []string        `json:"model_ids,omitempty"`
}

// ResolvedTarget pairs a requested target with its registered provider/model
// rows, resolved via the compound (provider_key, model_id) key — never
// model_id alone, because the same model_id can live under multiple
// providers (spec §4.6, critical invariant).
type ResolvedTarget struct {
	models.Target
	Provider models.Provider
	Model    models.Model
}

// Catalog is the subset of registered providers/models a handler needs to
// resolve targets; *store.Store (via its Users() query handle) supplies it.
type Catalog struct {
	Providers []models.Provider
	Models    map[string][]models.Model // keyed by provider_id
}

// ResolveTargets expands a TargetSelector into concrete ResolvedTargets
// against the catalog. Precise selectors filter by (provider_key, model_id);
// legacy selectors filter by model_id alone, matching across every provider
// (spec §4.6 Model selection, "Legacy" shape).
func ResolveTargets(sel TargetSelector, catalog Catalog) []ResolvedTarget {
	byKey := make(map[string]models.Provider, len(catalog.Providers))
	for _, p := range catalog.Providers {
		byKey[p.Key] = p
	}

	var out []ResolvedTarget

	if len(sel.Targets) > 0 {
		for _, t := range sel.Targets {
			provider, ok := byKey[t.ProviderKey]
			if !ok {
				continue
			}
			for _, m := range catalog.Models[provider.ID] {
				if m.LitellmID == t.ModelID {
					out = append(out, ResolvedTarget{
						Target:   models.Target{ProviderKey: provider.Key, ModelID: m.LitellmID},
						Provider: provider,
						Model:    m,
					})
					break
				}
			}
		}
		return out
	}

	for _, wantID := range sel.ModelIDs {
		for _, provider := range catalog.Providers {
			for _, m := range catalog.Models[provider.ID] {
				if m.LitellmID == wantID {
					out = append(out, ResolvedTarget{
						Target:   models.Target{ProviderKey: provider.Key, ModelID: m.LitellmID},
						Provider: provider,
						Model:    m,
					})
				}
			}
		}
	}
	return out
}

// GroupByProvider partitions targets by ProviderKey, preserving the relative
// order of targets within each group — the shape the dispatch loop needs to
// run providers in parallel but each provider's own targets sequentially
// (spec §4.6: "to avoid self-contention on a shared endpoint").
func GroupByProvider(targets []ResolvedTarget) map[string][]ResolvedTarget {
	groups := make(map[string][]ResolvedTarget)
	for _, t := range targets {
		groups[t.ProviderKey] = append(groups[t.ProviderKey], t)
	}
	return groups
}

// SortedProviderKeys returns a group map's keys in a deterministic order, so
// progress numbering and WS event ordering are reproducible across runs.
func SortedProviderKeys(groups map[string][]ResolvedTarget) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// matchesAny reports whether a string equals any candidate, case-insensitive
// — the comparison rule spec §4.6.2 uses for tool_selection_score.
func matchesAny(actual string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(actual, c) {
			return true
		}
	}
	return false
}

func mustMarshal(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
