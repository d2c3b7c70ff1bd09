// Command benchmark is the offline variant of the benchmark job handler
// (spec §6 CLI surface): it runs the same streaming-completion measurement
// loop as internal/handlers.Benchmark, against a YAML-described set of
// targets, and writes a timestamped JSON file instead of persisting through
// the store.
//
// Grounded on original_source/benchmark.py's target/config/run shape,
// re-expressed the way the teacher writes a small flag-driven Go CLI
// (tarsy's cmd/tarsy/main.go: flag.String + getEnv fallback, structured
// slog output, no framework).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim/faketransport"
)

// targetConfig mirrors original_source/benchmark.py's providers.yaml shape:
// a map of provider key to its display name, api base, and model list.
type targetConfig struct {
	Providers map[string]struct {
		DisplayName string `yaml:"display_name"`
		APIBase     string `yaml:"api_base"`
		Models      []struct {
			ID              string   `yaml:"id"`
			DisplayName     string   `yaml:"display_name"`
			ContextWindow   int      `yaml:"context_window"`
			MaxOutputTokens *int     `yaml:"max_output_tokens"`
			SkipParams      []string `yaml:"skip_params"`
		} `yaml:"models"`
	} `yaml:"providers"`
}

type target struct {
	ProviderKey     string
	DisplayName     string
	ModelID         string
	ModelDisplay    string
	APIBase         string
	ContextWindow   int
	MaxOutputTokens *int
}

type runOutcome struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	ContextTier     int     `json:"context_tier"`
	RunOrdinal      int     `json:"run_ordinal"`
	TTFTMs          int     `json:"ttft_ms"`
	TotalTimeS      float64 `json:"total_time_s"`
	OutputTokens    int     `json:"output_tokens"`
	InputTokens     int     `json:"input_tokens"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	Success         bool    `json:"success"`
	Error           string  `json:"error,omitempty"`
}

type report struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Prompt      string       `json:"prompt"`
	Runs        int          `json:"runs"`
	Results     []runOutcome `json:"results"`
}

func main() {
	configPath := flag.String("config", "benchmark.yaml", "path to the provider/model config YAML")
	runs := flag.Int("runs", 1, "number of runs per (model, tier) pair")
	providerFilter := flag.String("provider", "", "only benchmark providers whose key or display name contains this substring")
	modelFilter := flag.String("model", "", "only benchmark models whose id or display name contains this substring")
	prompt := flag.String("prompt", "Write a short poem about streaming data.", "prompt sent to every model")
	maxTokens := flag.Int("max-tokens", 256, "max_tokens for every call")
	temperature := flag.Float64("temperature", 0.7, "temperature for every call")
	noSave := flag.Bool("no-save", false, "skip writing the timestamped JSON report")
	contextTiers := flag.String("context-tiers", "0", "comma-separated list of context-filler token counts")
	flag.Parse()

	if err := run(*configPath, *runs, *providerFilter, *modelFilter, *prompt, *maxTokens, *temperature, *noSave, *contextTiers); err != nil {
		slog.Error("benchmark run failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, runs int, providerFilter, modelFilter, prompt string, maxTokens int, temperature float64, noSave bool, contextTiersRaw string) error {
	tiers, err := parseTiers(contextTiersRaw)
	if err != nil {
		return err
	}
	if runs <= 0 {
		runs = 1
	}

	cfg, err := loadTargetConfig(configPath)
	if err != nil {
		return err
	}
	targets := buildTargets(cfg, providerFilter, modelFilter)
	if len(targets) == 0 {
		return fmt.Errorf("no targets matched provider=%q model=%q", providerFilter, modelFilter)
	}
	slog.Info("resolved benchmark targets", "count", len(targets))

	ctx := context.Background()
	var results []runOutcome
	for _, t := range targets {
		// Real network transport is out of scope for this port (spec §1);
		// the offline CLI exercises the same llmshim.RunStreaming call path
		// the server-side Benchmark handler uses, against a deterministic
		// stand-in transport.
		completer := &faketransport.Transport{
			StreamChunks: []llmshim.Chunk{{ContentDelta: "ok"}},
		}
		for _, tier := range tiers {
			if t.ContextWindow > 0 && tier >= t.ContextWindow {
				slog.Warn("skipping tier that exceeds context window", "model", t.ModelID, "tier", tier)
				continue
			}
			for ordinal := 1; ordinal <= runs; ordinal++ {
				req := llmshim.Request{
					Model:    t.ModelID,
					Messages: []llmshim.Message{{Role: "user", Content: prompt}},
					Params: map[string]any{
						"max_tokens":  maxTokens,
						"temperature": temperature,
					},
				}
				sr := llmshim.RunStreaming(ctx, completer, req)
				outcome := runOutcome{
					Provider: t.ProviderKey, Model: t.ModelID, ContextTier: tier, RunOrdinal: ordinal,
					TTFTMs: sr.TTFTMs, TotalTimeS: sr.TotalTimeS, OutputTokens: sr.OutputTokens,
					InputTokens: sr.InputTokens, TokensPerSecond: sr.TokensPerSecond,
					Success: sr.Success, Error: sr.ErrorMessage,
				}
				results = append(results, outcome)
				slog.Info("run complete", "provider", t.ProviderKey, "model", t.ModelID, "tier", tier, "ordinal", ordinal, "tps", sr.TokensPerSecond)
			}
		}
	}

	if noSave {
		return nil
	}
	return writeReport(report{GeneratedAt: time.Now().UTC(), Prompt: prompt, Runs: runs, Results: results})
}

func parseTiers(raw string) ([]int, error) {
	var tiers []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid --context-tiers value %q: %w", part, err)
		}
		tiers = append(tiers, n)
	}
	if len(tiers) == 0 {
		tiers = []int{0}
	}
	return tiers, nil
}

func loadTargetConfig(path string) (*targetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg targetConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func buildTargets(cfg *targetConfig, providerFilter, modelFilter string) []target {
	pf := strings.ToLower(providerFilter)
	mf := strings.ToLower(modelFilter)

	var out []target
	for key, prov := range cfg.Providers {
		if pf != "" && !strings.Contains(strings.ToLower(key), pf) && !strings.Contains(strings.ToLower(prov.DisplayName), pf) {
			continue
		}
		for _, m := range prov.Models {
			if mf != "" && !strings.Contains(strings.ToLower(m.ID), mf) && !strings.Contains(strings.ToLower(m.DisplayName), mf) {
				continue
			}
			out = append(out, target{
				ProviderKey: key, DisplayName: prov.DisplayName, ModelID: m.ID, ModelDisplay: m.DisplayName,
				APIBase: prov.APIBase, ContextWindow: m.ContextWindow, MaxOutputTokens: m.MaxOutputTokens,
			})
		}
	}
	return out
}

func writeReport(r report) error {
	name := fmt.Sprintf("benchmark_%s.json", r.GeneratedAt.Format("20060102_150405"))
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return err
	}
	slog.Info("wrote benchmark report", "path", name, "results", len(r.Results))
	return nil
}
