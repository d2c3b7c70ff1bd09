package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

// BenchmarkParams is the submission shape for a benchmark job (spec §4.6.1).
type BenchmarkParams struct {
	TargetSelector
	Prompt       string   `json:"prompt"`
	ContextTiers []int    `json:"context_tiers"`
	Runs         int      `json:"runs"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  float64  `json:"temperature"`
	Warmup       bool     `json:"warmup"`
	ExperimentID *string  `json:"experiment_id,omitempty"`
}

// Benchmark builds the benchmark job handler (spec §4.6.1): for each
// (model, tier) pair where the tier fits the model's context window, run R
// streaming completions, emitting benchmark_result per run and persisting
// both the aggregated header and every individual result.
func (d *Deps) Benchmark(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params BenchmarkParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid benchmark params: "+err.Error())
	}
	if params.Runs <= 0 {
		params.Runs = 1
	}
	if len(params.ContextTiers) == 0 {
		params.ContextTiers = []int{0}
	}

	catalog, err := d.loadCatalog(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	targets := ResolveTargets(params.TargetSelector, catalog)

	run := models.BenchmarkRun{ID: store.NewID(), JobID: jobID, UserID: job.UserID, ExperimentID: params.ExperimentID, CreatedAt: time.Now().UTC()}
	if err := d.Store.Benchmarks().CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create benchmark run: %w", err)
	}

	// Progress denominator is the sum of eligible runs only (spec §4.6.1) —
	// tiers that don't fit a model's context window are skipped without
	// incrementing it (testable property 13).
	eligible := eligiblePlan(targets, params.ContextTiers, params.MaxTokens, params.Runs)
	counter := NewProgressCounter(totalEligibleRuns(eligible))

	d.emit(ctx, job.UserID, "benchmark_init", map[string]any{
		"job_id": jobID, "run_id": run.ID, "target_count": len(targets),
	})

	groups := GroupByProvider(targets)
	keys := SortedProviderKeys(groups)

	err = RunProviderGroups(ctx, groups, keys, cancel, func(ctx context.Context, target ResolvedTarget) error {
		plan, ok := eligible[target.Target]
		if !ok {
			return nil
		}
		completer := d.Completer(target)
		for _, tier := range plan {
			if cancel.Cancelled() {
				return ErrCancelled
			}
			if params.Warmup {
				_ = d.runOneCompletion(ctx, completer, target, params, tier)
			}
			for ordinal := 1; ordinal <= params.Runs; ordinal++ {
				if cancel.Cancelled() {
					return ErrCancelled
				}
				sr := d.runOneCompletion(ctx, completer, target, params, tier)
				result := models.BenchmarkResult{
					ID: store.NewID(), RunID: run.ID, ProviderKey: target.ProviderKey, ModelID: target.ModelID,
					Tier: tier, RunOrdinal: ordinal, TotalTimeS: sr.TotalTimeS, OutputTokens: sr.OutputTokens,
					InputTokens: sr.InputTokens, TokensPerSecond: sr.TokensPerSecond,
					InputTokensPerSecond: sr.InputTokensPerSecond, Success: sr.Success, Error: sr.ErrorMessage,
				}
				if sr.TTFTMs > 0 {
					ttft := sr.TTFTMs
					result.TTFTMs = &ttft
				}
				if err := d.Store.Benchmarks().InsertResult(ctx, result); err != nil {
					return fmt.Errorf("persist benchmark result: %w", err)
				}
				d.emit(ctx, job.UserID, "benchmark_result", result)
				pct := counter.Increment()
				detail := fmt.Sprintf("%s/%s tier=%d run=%d/%d", target.ProviderKey, target.ModelID, tier, ordinal, params.Runs)
				progress(pct, detail)
				d.emit(ctx, job.UserID, "benchmark_progress", map[string]any{"run_id": run.ID, "pct": pct, "detail": detail})
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return run.ID, nil
}

func (d *Deps) runOneCompletion(ctx context.Context, completer llmshim.Completer, target ResolvedTarget, params BenchmarkParams, tier int) llmshim.StreamResult {
	requested := map[string]any{"temperature": params.Temperature, "max_tokens": params.MaxTokens}
	spec := llmshim.ResolveFamily(target.Provider.Family, target.ModelID)
	resolved := llmshim.Resolve(spec, target.ModelID, requested, target.Model.SkipParams)

	req := llmshim.Request{
		Model:    target.ModelID,
		Messages: []llmshim.Message{{Role: "user", Content: paddedPrompt(params.Prompt, tier)}},
		Params:   resolved.Params,
	}
	return llmshim.RunStreaming(ctx, completer, req)
}

// paddedPrompt pads the benchmark prompt with filler so the request's input
// size approximates the requested context tier (spec §4.6.1 "context tier").
func paddedPrompt(prompt string, tier int) string {
	if tier <= 0 {
		return prompt
	}
	filler := make([]byte, 0, tier)
	for len(filler) < tier {
		filler = append(filler, "context filler token "...)
	}
	return string(filler[:tier]) + "\n\n" + prompt
}

// eligiblePlan computes, per target, the subset of requested tiers that fit
// the model's context window (spec §4.6.1: tier <= context_window -
// max_tokens - 100).
func eligiblePlan(targets []ResolvedTarget, tiers []int, maxTokens, runs int) map[models.Target][]int {
	out := make(map[models.Target][]int, len(targets))
	for _, t := range targets {
		var keep []int
		for _, tier := range tiers {
			if tier <= t.Model.ContextWindow-maxTokens-100 {
				keep = append(keep, tier)
			}
		}
		if len(keep) > 0 {
			out[t.Target] = keep
		}
	}
	return out
}

func totalEligibleRuns(plan map[models.Target][]int) int {
	total := 0
	for _, tiers := range plan {
		total += len(tiers)
	}
	return total
}
