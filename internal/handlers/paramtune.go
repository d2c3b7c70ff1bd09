package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/secret"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

// ParamRange is one tunable parameter's search space: either a numeric
// {min,max,step} range or a categorical value list.
type ParamRange struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Step   *float64 `json:"step,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// ParamTuneParams is the submission shape for a param-tune job (spec §4.6.3).
type ParamTuneParams struct {
	TargetSelector
	SuiteID      string                `json:"suite_id"`
	Mode         models.ParamTuneMode  `json:"mode"`
	Grid         map[string]ParamRange `json:"grid"`
	Trials       int                   `json:"trials,omitempty"`
	ToolChoice   string                `json:"tool_choice,omitempty"`
	ExperimentID *string               `json:"experiment_id,omitempty"`
}

// ParamTune builds the param-tune handler (spec §4.6.3): expand a search
// space into combos, pre-validate/dedup each against the LLM call shim's
// parameter resolver, run every surviving unique combo against the suite,
// and — on completion — promote the best combo into the declared experiment.
func (d *Deps) ParamTune(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params ParamTuneParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid param-tune params: "+err.Error())
	}
	if params.ToolChoice == "" {
		params.ToolChoice = "auto"
	}

	catalog, err := d.loadCatalog(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	targets := ResolveTargets(params.TargetSelector, catalog)
	testCases, err := d.Store.ToolEval().ListTestCases(ctx, params.SuiteID)
	if err != nil {
		return "", fmt.Errorf("load test cases: %w", err)
	}
	toolDefs, err := d.Store.ToolEval().ListToolDefinitions(ctx, params.SuiteID)
	if err != nil {
		return "", fmt.Errorf("load tool definitions: %w", err)
	}
	tools := buildToolSpecs(toolDefs)

	run := models.ParamTuneRun{ID: store.NewID(), JobID: jobID, UserID: job.UserID, SuiteID: params.SuiteID, ExperimentID: params.ExperimentID, Mode: params.Mode, Status: models.RunStatusRunning, CreatedAt: time.Now().UTC()}
	if err := d.Store.ParamTune().CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create param-tune run: %w", err)
	}
	if err := d.Store.Jobs().SetResultRef(ctx, jobID, run.ID); err != nil {
		return "", fmt.Errorf("bind result ref: %w", err)
	}

	trials := params.Trials
	if trials <= 0 {
		trials = 20
	}
	upperBound := len(targets) * trials
	counter := NewProgressCounter(upperBound)
	d.emit(ctx, job.UserID, "tune_start", map[string]any{"job_id": jobID, "run_id": run.ID, "target_count": len(targets)})

	groups := GroupByProvider(targets)
	keys := SortedProviderKeys(groups)

	var comboIdx int64
	var bestMu sync.Mutex
	bestScore := -1.0
	var bestCombo models.ParamTuneCombo
	var bestCaseResults []models.CaseResult
	haveBest := false

	runErr := RunProviderGroups(ctx, groups, keys, cancel, func(ctx context.Context, target ResolvedTarget) error {
		completer := d.Completer(target)
		spec := llmshim.ResolveFamily(target.Provider.Family, target.ModelID)
		source := newComboSource(params.Mode, params.Grid, trials)
		seen := make(map[string]bool)

		priorScore, hasPrior := 0.0, false
		for {
			if cancel.Cancelled() {
				return ErrCancelled
			}
			raw, ok := source.Next(priorScore, hasPrior)
			if !ok {
				return nil
			}
			hasPrior = false

			resolved := llmshim.Resolve(spec, target.ModelID, raw, target.Model.SkipParams)
			key := params.ToolChoice + "|" + mustMarshal(resolved.Params)
			if seen[key] {
				continue
			}
			seen[key] = true

			results, accAvg, latAvg := d.evaluateCombo(ctx, completer, target, testCases, tools, params.ToolChoice, resolved.Params)
			priorScore, hasPrior = accAvg, true

			idx := int(atomic.AddInt64(&comboIdx, 1))
			combo := models.ParamTuneCombo{
				ID: store.NewID(), TuneRunID: run.ID, ComboIndex: idx, ProviderKey: target.ProviderKey, ModelID: target.ModelID,
				ConfigJSON: mustMarshal(resolved.Params), AdjustmentsJSON: mustMarshal(resolved.Adjustments),
				AccuracyAvg: accAvg, LatencyAvgMs: latAvg,
			}
			if err := d.Store.ParamTune().InsertCombo(ctx, combo); err != nil {
				return fmt.Errorf("persist combo: %w", err)
			}
			d.emit(ctx, job.UserID, "combo_result", combo)
			pct := counter.Increment()
			progress(pct, fmt.Sprintf("%s/%s combo %d", target.ProviderKey, target.ModelID, idx))

			bestMu.Lock()
			if accAvg > bestScore || (accAvg == bestScore && haveBest && latAvg < bestCombo.LatencyAvgMs) {
				bestScore = accAvg
				bestCombo = combo
				bestCaseResults = results
				haveBest = true
			}
			bestMu.Unlock()
		}
	})

	finalStatus := models.RunStatusDone
	if runErr != nil {
		finalStatus = models.RunStatusFailed
		if cancel.Cancelled() {
			finalStatus = models.RunStatusInterrupted
		}
	}
	_ = d.Store.ParamTune().SetRunStatus(ctx, run.ID, finalStatus)
	if runErr != nil {
		return "", runErr
	}
	d.emit(ctx, job.UserID, "tune_complete", map[string]any{"run_id": run.ID, "status": finalStatus})

	if haveBest && params.ExperimentID != nil {
		evalRun := models.ToolEvalRun{ID: store.NewID(), JobID: jobID, UserID: job.UserID, SuiteID: params.SuiteID, ExperimentID: params.ExperimentID, CreatedAt: time.Now().UTC()}
		if err := d.Store.ToolEval().CreateEvalRun(ctx, evalRun); err == nil {
			for _, cr := range bestCaseResults {
				cr.ID = store.NewID()
				cr.RunID = evalRun.ID
				_ = d.Store.ToolEval().InsertCaseResult(ctx, cr)
			}
			_ = d.Store.ParamTune().SetComboEvalRunID(ctx, bestCombo.ID, evalRun.ID)
			d.promoteEvalToExperiment(ctx, *params.ExperimentID, evalRun.ID)
			d.emit(ctx, job.UserID, "eval_promoted", map[string]any{"experiment_id": *params.ExperimentID, "eval_run_id": evalRun.ID, "source": "param_tune"})
		}
	}

	return run.ID, nil
}

// evaluateCombo runs every suite case against one resolved parameter set and
// returns the per-case results plus their accuracy/latency averages (spec
// §4.6.3 step 3).
func (d *Deps) evaluateCombo(ctx context.Context, completer llmshim.Completer, target ResolvedTarget, testCases []models.ToolTestCase, tools []llmshim.ToolSpec, toolChoice string, resolvedParams map[string]any) ([]models.CaseResult, float64, float64) {
	results := make([]models.CaseResult, 0, len(testCases))
	for _, tc := range testCases {
		start := time.Now()
		req := llmshim.Request{Model: target.ModelID, Messages: []llmshim.Message{{Role: "user", Content: tc.Prompt}}, Tools: tools, ToolChoice: toolChoice, Params: resolvedParams}
		resp, err := llmshim.RunNonStreaming(ctx, completer, req, nil)
		cr := models.CaseResult{TestCaseID: tc.ID, ProviderKey: target.ProviderKey, ModelID: target.ModelID, LatencyMs: int(time.Since(start).Milliseconds())}
		if err != nil {
			cr.Success = false
			cr.Error = secret.Sanitize(err.Error())
			results = append(results, cr)
			continue
		}
		cr.Success = true
		cr.RawResponse = resp.Content
		cr.ActualTool, cr.ActualParamsJSON = extractToolCall(resp)
		cr.ToolSelectionScore = ToolSelectionScore(cr.ActualTool, tc.ExpectedTool)
		paramAcc, has := ParamAccuracy(tc.ParamScoring, tc.ExpectedParamsJSON, cr.ActualParamsJSON)
		if has {
			cr.ParamAccuracy = &paramAcc
		}
		cr.OverallScore = OverallScore(cr.ToolSelectionScore, paramAcc, has)
		results = append(results, cr)
	}
	return results, averageOverall(results), averageLatencyMs(results)
}

func averageLatencyMs(results []models.CaseResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0
	for _, r := range results {
		sum += r.LatencyMs
	}
	return float64(sum) / float64(len(results))
}

// comboSource produces successive parameter combinations for one target.
// Grid and random sources ignore feedback; the bayesian source treats prior
// scores as the suggest()/report(score) contract spec §4.6.3 describes for
// the (external, black-box) optimizer — no such optimizer library surfaced
// in the reference pack, so this is a minimal hill-climbing stand-in.
type comboSource interface {
	Next(priorScore float64, hasPrior bool) (map[string]any, bool)
}

func newComboSource(mode models.ParamTuneMode, grid map[string]ParamRange, trials int) comboSource {
	switch mode {
	case models.ParamTuneModeRandom:
		return &listSource{combos: sampleRandom(grid, trials)}
	case models.ParamTuneModeBayesian:
		return &bayesianSource{grid: grid, trialsLeft: trials}
	default:
		return &listSource{combos: expandGrid(grid)}
	}
}

type listSource struct {
	combos []map[string]any
	i      int
}

func (s *listSource) Next(float64, bool) (map[string]any, bool) {
	if s.i >= len(s.combos) {
		return nil, false
	}
	c := s.combos[s.i]
	s.i++
	return c, true
}

// expandGrid computes the cartesian product of every numeric range (stepped
// from min to max) and categorical value list in grid (spec §4.6.3 "grid
// mode").
func expandGrid(grid map[string]ParamRange) []map[string]any {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	valueSets := make([][]any, len(names))
	for i, name := range names {
		valueSets[i] = expandRange(grid[name])
	}

	var combos []map[string]any
	var walk func(i int, acc map[string]any)
	walk = func(i int, acc map[string]any) {
		if i == len(names) {
			clone := make(map[string]any, len(acc))
			for k, v := range acc {
				clone[k] = v
			}
			combos = append(combos, clone)
			return
		}
		for _, v := range valueSets[i] {
			acc[names[i]] = v
			walk(i+1, acc)
		}
	}
	if len(names) > 0 {
		walk(0, make(map[string]any, len(names)))
	}
	return combos
}

func expandRange(r ParamRange) []any {
	if len(r.Values) > 0 {
		return r.Values
	}
	if r.Min == nil || r.Max == nil {
		return nil
	}
	step := 1.0
	if r.Step != nil && *r.Step > 0 {
		step = *r.Step
	}
	var out []any
	for v := *r.Min; v <= *r.Max+1e-9; v += step {
		out = append(out, v)
	}
	return out
}

// sampleRandom draws n independent uniform samples from grid's search space
// (spec §4.6.3 "random mode").
func sampleRandom(grid map[string]ParamRange, n int) []map[string]any {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		combo := make(map[string]any, len(names))
		for _, name := range names {
			combo[name] = sampleOne(grid[name])
		}
		out = append(out, combo)
	}
	return out
}

func sampleOne(r ParamRange) any {
	if len(r.Values) > 0 {
		return r.Values[rand.Intn(len(r.Values))]
	}
	if r.Min == nil || r.Max == nil {
		return nil
	}
	return *r.Min + rand.Float64()*(*r.Max-*r.Min)
}

// bayesianSource is a minimal exploit/explore stand-in for the black-box
// optimizer spec §4.6.3 treats as an external collaborator: it perturbs the
// best-known combo by a shrinking radius, biasing future suggestions toward
// whatever scored highest so far.
type bayesianSource struct {
	grid       map[string]ParamRange
	trialsLeft int
	best       map[string]any
	bestScore  float64
	haveBest   bool
}

func (s *bayesianSource) Next(priorScore float64, hasPrior bool) (map[string]any, bool) {
	if s.trialsLeft <= 0 {
		return nil, false
	}
	if hasPrior && (!s.haveBest || priorScore > s.bestScore) {
		s.bestScore = priorScore
		s.haveBest = true
	}
	s.trialsLeft--

	if !s.haveBest {
		combo := sampleRandom(s.grid, 1)
		if len(combo) == 0 {
			return nil, false
		}
		s.best = combo[0]
		return combo[0], true
	}

	radius := float64(s.trialsLeft+1) / 10
	next := make(map[string]any, len(s.best))
	for name, v := range s.best {
		r := s.grid[name]
		if len(r.Values) > 0 {
			next[name] = r.Values[rand.Intn(len(r.Values))]
			continue
		}
		f, ok := v.(float64)
		if !ok || r.Min == nil || r.Max == nil {
			next[name] = v
			continue
		}
		span := (*r.Max - *r.Min) * radius
		candidate := f + (rand.Float64()*2-1)*span
		if candidate < *r.Min {
			candidate = *r.Min
		}
		if candidate > *r.Max {
			candidate = *r.Max
		}
		next[name] = candidate
	}
	return next, true
}
