package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/experiment"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/secret"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

// ToolEvalParams is the submission shape for a tool-eval job (spec §4.6.2).
type ToolEvalParams struct {
	TargetSelector
	SuiteID            string  `json:"suite_id"`
	MaxRounds          int     `json:"max_rounds"`
	JudgeModel         string  `json:"judge_model,omitempty"`
	JudgeMode          string  `json:"judge_mode,omitempty"` // "inline" (default) or "post_eval"
	CustomInstructions string  `json:"custom_instructions,omitempty"`
	ExperimentID       *string `json:"experiment_id,omitempty"`
}

// multiTurnConfig is the decoded shape of a test case's multi_turn_config_json.
type multiTurnConfig struct {
	Enabled           bool              `json:"enabled"`
	MaxRounds         int               `json:"max_rounds"`
	OptimalHops       int               `json:"optimal_hops"`
	ExpectedFinalTool []string          `json:"expected_final_tool"`
	MockResponses     map[string]string `json:"mock_responses"`
}

type pendingJudgeCase struct {
	cr models.CaseResult
	tc models.ToolTestCase
}

// ToolEval builds the tool-eval handler (spec §4.6.2): for each (model, case)
// pair, dispatch single- or multi-turn depending on the case's config, score
// the outcome, and optionally fan out judge verdicts inline or after the
// eval finishes.
func (d *Deps) ToolEval(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params ToolEvalParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid tool-eval params: "+err.Error())
	}

	catalog, err := d.loadCatalog(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	targets := ResolveTargets(params.TargetSelector, catalog)
	toolDefs, err := d.Store.ToolEval().ListToolDefinitions(ctx, params.SuiteID)
	if err != nil {
		return "", fmt.Errorf("load tool definitions: %w", err)
	}
	testCases, err := d.Store.ToolEval().ListTestCases(ctx, params.SuiteID)
	if err != nil {
		return "", fmt.Errorf("load test cases: %w", err)
	}
	tools := buildToolSpecs(toolDefs)

	run := models.ToolEvalRun{ID: store.NewID(), JobID: jobID, UserID: job.UserID, SuiteID: params.SuiteID, ExperimentID: params.ExperimentID, CreatedAt: time.Now().UTC()}
	if err := d.Store.ToolEval().CreateEvalRun(ctx, run); err != nil {
		return "", fmt.Errorf("create eval run: %w", err)
	}

	counter := NewProgressCounter(len(targets) * len(testCases))
	d.emit(ctx, job.UserID, "tool_eval_init", map[string]any{"job_id": jobID, "run_id": run.ID, "target_count": len(targets), "case_count": len(testCases)})

	var judgeCompleter llmshim.Completer
	var judgeSem semaphore
	var judgeReportID string
	inlineJudge := params.JudgeMode != "post_eval"
	if params.JudgeModel != "" {
		judgeTargets := ResolveTargets(TargetSelector{ModelIDs: []string{params.JudgeModel}}, catalog)
		if len(judgeTargets) > 0 {
			judgeCompleter = d.Completer(judgeTargets[0])
			poolSize := defaultJudgePoolSize
			if targetsShareAPIBase(judgeTargets[0], targets) {
				poolSize = 1
			}
			judgeSem = newSemaphore(poolSize)
			report := models.JudgeReport{ID: store.NewID(), JobID: jobID, UserID: job.UserID, EvalRunID: run.ID, Status: models.ReportStatusRunning, Version: 1}
			if err := d.Store.Judge().CreateReport(ctx, report); err == nil {
				judgeReportID = report.ID
				d.emit(ctx, job.UserID, "judge_start", map[string]any{"report_id": report.ID, "eval_run_id": run.ID})
			}
		}
	}

	groups := GroupByProvider(targets)
	keys := SortedProviderKeys(groups)

	var pendingMu sync.Mutex
	var pending []pendingJudgeCase
	var judgeWG sync.WaitGroup

	err = RunProviderGroups(ctx, groups, keys, cancel, func(ctx context.Context, target ResolvedTarget) error {
		completer := d.Completer(target)
		for i, tc := range testCases {
			if cancel.Cancelled() {
				return ErrCancelled
			}
			var cr models.CaseResult
			if cfg, ok := parseMultiTurnConfig(tc.MultiTurnConfigJSON); ok && cfg.Enabled {
				cr = d.runMultiTurnCase(ctx, completer, target, tc, cfg, params.MaxRounds, tools)
			} else {
				cr = d.runSingleTurnCase(ctx, completer, target, tc, tools)
			}
			cr.ID = store.NewID()
			cr.RunID = run.ID
			if err := d.Store.ToolEval().InsertCaseResult(ctx, cr); err != nil {
				return fmt.Errorf("persist case result: %w", err)
			}
			d.emit(ctx, job.UserID, "tool_eval_result", cr)
			pct := counter.Increment()
			detail := fmt.Sprintf("%s/%s case %d/%d", target.ProviderKey, target.ModelID, i+1, len(testCases))
			progress(pct, detail)
			d.emit(ctx, job.UserID, "tool_eval_progress", map[string]any{"run_id": run.ID, "pct": pct, "detail": detail})

			if judgeReportID == "" {
				continue
			}
			if inlineJudge {
				judgeWG.Add(1)
				go func(cr models.CaseResult, tc models.ToolTestCase) {
					defer judgeWG.Done()
					judgeSem.acquire()
					defer judgeSem.release()
					v := d.judgeSingleVerdict(ctx, judgeCompleter, params.JudgeModel, params.CustomInstructions, tc, cr, judgeReportID)
					if err := d.Store.Judge().InsertVerdict(ctx, v); err == nil {
						d.emit(ctx, job.UserID, "judge_verdict", v)
					}
				}(cr, tc)
			} else {
				pendingMu.Lock()
				pending = append(pending, pendingJudgeCase{cr: cr, tc: tc})
				pendingMu.Unlock()
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if judgeReportID != "" {
		if !inlineJudge {
			for _, p := range pending {
				judgeSem.acquire()
				v := d.judgeSingleVerdict(ctx, judgeCompleter, params.JudgeModel, params.CustomInstructions, p.tc, p.cr, judgeReportID)
				judgeSem.release()
				if err := d.Store.Judge().InsertVerdict(ctx, v); err == nil {
					d.emit(ctx, job.UserID, "judge_verdict", v)
				}
			}
		}
		judgeWG.Wait()
		verdicts, _ := d.Store.Judge().VerdictsForReport(ctx, judgeReportID)
		status := models.ReportStatusDone
		for _, v := range verdicts {
			if v.Verdict == models.VerdictError {
				status = models.ReportStatusError
				break
			}
		}
		avgQuality := averageQuality(verdicts)
		_ = d.Store.Judge().FinishReport(ctx, judgeReportID, status, gradeFromScore(avgQuality), avgQuality, nil)
		d.emit(ctx, job.UserID, "judge_complete", map[string]any{"report_id": judgeReportID, "score": avgQuality})
	}

	finalResults, _ := d.Store.ToolEval().ResultsForRun(ctx, run.ID)
	d.emit(ctx, job.UserID, "tool_eval_summary", map[string]any{"run_id": run.ID, "case_count": len(finalResults), "avg_overall_score": averageOverall(finalResults)})

	if params.ExperimentID != nil {
		d.promoteEvalToExperiment(ctx, *params.ExperimentID, run.ID)
	}

	d.emit(ctx, job.UserID, "tool_eval_complete", map[string]any{"run_id": run.ID})

	return run.ID, nil
}

// promoteEvalToExperiment implements spec §4.6.2's auto-promotion rule: after
// all results are in, average overall_score across the run and either pin it
// as the experiment's baseline (if it has none yet) or offer it as a
// candidate best config.
func (d *Deps) promoteEvalToExperiment(ctx context.Context, expID, runID string) {
	exp, err := d.Store.Experiments().Get(ctx, expID)
	if err != nil {
		return
	}
	results, err := d.Store.ToolEval().ResultsForRun(ctx, runID)
	if err != nil || len(results) == 0 {
		return
	}
	avg := averageOverall(results)
	coord := experiment.New(d.Store)
	if exp.BaselineEvalID == nil {
		_, _ = coord.MaybeAutopinBaseline(ctx, *exp, runID, avg)
		return
	}
	_, _ = coord.MaybeUpdateBest(ctx, exp.ID, avg, mustMarshal(map[string]any{"eval_run_id": runID}), models.BestSourceEval, runID)
}

func averageOverall(results []models.CaseResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.OverallScore
	}
	return sum / float64(len(results))
}

func buildToolSpecs(defs []models.ToolDefinition) []llmshim.ToolSpec {
	out := make([]llmshim.ToolSpec, 0, len(defs))
	for _, def := range defs {
		out = append(out, llmshim.ToolSpec{Name: def.Name, Description: def.Description, ParamsJSON: def.ParamsJSON})
	}
	return out
}

func parseMultiTurnConfig(raw string) (multiTurnConfig, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return multiTurnConfig{}, false
	}
	var cfg multiTurnConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return multiTurnConfig{}, false
	}
	return cfg, true
}

func targetsShareAPIBase(judge ResolvedTarget, targets []ResolvedTarget) bool {
	for _, t := range targets {
		if t.Provider.APIBase == judge.Provider.APIBase {
			return true
		}
	}
	return false
}

// runSingleTurnCase implements the single-turn dispatch path (spec §4.6.2):
// a non-streaming call with tools/tool_choice, falling back from
// tool_choice=required to auto on provider rejection, and falling back to
// lenient JSON extraction from plain content if the model emitted no
// tool_call.
func (d *Deps) runSingleTurnCase(ctx context.Context, completer llmshim.Completer, target ResolvedTarget, tc models.ToolTestCase, tools []llmshim.ToolSpec) models.CaseResult {
	start := time.Now()
	toolChoice := "required"
	if !tc.ShouldCallTool {
		toolChoice = "auto"
	}
	req := llmshim.Request{Model: target.ModelID, Messages: []llmshim.Message{{Role: "user", Content: tc.Prompt}}, Tools: tools, ToolChoice: toolChoice}

	resp, err := llmshim.RunNonStreaming(ctx, completer, req, nil)
	if err != nil && toolChoice == "required" {
		req.ToolChoice = "auto"
		resp, err = llmshim.RunNonStreaming(ctx, completer, req, nil)
	}

	cr := models.CaseResult{TestCaseID: tc.ID, ProviderKey: target.ProviderKey, ModelID: target.ModelID, LatencyMs: int(time.Since(start).Milliseconds()), RawRequest: mustMarshal(req)}
	if err != nil {
		cr.Success = false
		cr.Error = secret.Sanitize(err.Error())
		return cr
	}
	cr.Success = true
	cr.RawResponse = resp.Content
	cr.ActualTool, cr.ActualParamsJSON = extractToolCall(resp)

	if !tc.ShouldCallTool {
		if cr.ActualTool == "" {
			cr.ToolSelectionScore = 1.0
		} else {
			cr.IrrelevanceScore = 1.0
		}
		cr.OverallScore = cr.ToolSelectionScore
		return cr
	}

	cr.ToolSelectionScore = ToolSelectionScore(cr.ActualTool, tc.ExpectedTool)
	paramAcc, has := ParamAccuracy(tc.ParamScoring, tc.ExpectedParamsJSON, cr.ActualParamsJSON)
	if has {
		cr.ParamAccuracy = &paramAcc
	}
	cr.OverallScore = OverallScore(cr.ToolSelectionScore, paramAcc, has)
	return cr
}

// runMultiTurnCase implements the multi-turn dispatch path (spec §4.6.2):
// loop up to max_rounds, replaying the configured mock tool responses until
// the case's final expected tool is called or rounds run out.
func (d *Deps) runMultiTurnCase(ctx context.Context, completer llmshim.Completer, target ResolvedTarget, tc models.ToolTestCase, cfg multiTurnConfig, defaultMaxRounds int, tools []llmshim.ToolSpec) models.CaseResult {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	if maxRounds <= 0 {
		maxRounds = 5
	}

	messages := []llmshim.Message{{Role: "user", Content: tc.Prompt}}
	var toolChain []string
	var lastArgsJSON string
	var callErr error
	start := time.Now()

	for round := 1; round <= maxRounds; round++ {
		req := llmshim.Request{Model: target.ModelID, Messages: messages, Tools: tools, ToolChoice: "auto"}
		resp, err := llmshim.RunNonStreaming(ctx, completer, req, nil)
		if err != nil {
			callErr = err
			break
		}
		if len(resp.ToolCalls) == 0 {
			break
		}
		call := resp.ToolCalls[0]
		toolChain = append(toolChain, call.Name)
		lastArgsJSON = call.ArgsJSON
		messages = append(messages,
			llmshim.Message{Role: "assistant", Content: fmt.Sprintf("tool_call: %s(%s)", call.Name, call.ArgsJSON)},
			llmshim.Message{Role: "tool", Content: mockResponseFor(cfg, call.Name)},
		)
		if matchesAny(call.Name, cfg.ExpectedFinalTool) {
			break
		}
	}

	cr := models.CaseResult{TestCaseID: tc.ID, ProviderKey: target.ProviderKey, ModelID: target.ModelID, LatencyMs: int(time.Since(start).Milliseconds())}
	if callErr != nil && len(toolChain) == 0 {
		cr.Success = false
		cr.Error = secret.Sanitize(callErr.Error())
		return cr
	}
	cr.Success = true
	if len(toolChain) > 0 {
		cr.ActualTool = toolChain[len(toolChain)-1]
		cr.ActualParamsJSON = lastArgsJSON
	}
	cr.ToolSelectionScore = ToolSelectionScore(cr.ActualTool, cfg.ExpectedFinalTool)
	paramAcc, has := ParamAccuracy(tc.ParamScoring, tc.ExpectedParamsJSON, cr.ActualParamsJSON)
	if has {
		cr.ParamAccuracy = &paramAcc
	}
	cr.OverallScore = OverallScore(cr.ToolSelectionScore, paramAcc, has)

	mt := ComputeMultiTurn(toolChain, cfg.ExpectedFinalTool, cfg.OptimalHops, len(toolChain))
	cr.CompletionScore = &mt.CompletionScore
	cr.EfficiencyScore = &mt.EfficiencyScore
	cr.RedundancyPenalty = &mt.RedundancyPenalty
	cr.DetourPenalty = &mt.DetourPenalty
	cr.ToolChainJSON = mustMarshal(toolChain)
	return cr
}

func mockResponseFor(cfg multiTurnConfig, toolName string) string {
	if mock, ok := cfg.MockResponses[toolName]; ok && mock != "" {
		return mock
	}
	return "{}"
}

// extractToolCall returns the model's first structured tool call, or — if
// none was emitted but the content looks JSON-shaped — a lenient extraction
// of a tool name/params pair from the plain content (spec §4.6.2).
func extractToolCall(resp *llmshim.Response) (string, string) {
	if len(resp.ToolCalls) > 0 {
		return resp.ToolCalls[0].Name, resp.ToolCalls[0].ArgsJSON
	}
	obj, ok := ExtractJSONObject(resp.Content)
	if !ok {
		return "", ""
	}
	name := firstString(obj, "tool", "name", "tool_name")
	var args any
	for _, key := range []string{"params", "arguments", "parameters"} {
		if v, ok := obj[key]; ok {
			args = v
			break
		}
	}
	return name, mustMarshal(args)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
