package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/secret"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

const defaultJudgePoolSize = 4

// JudgeParams is the submission shape for a judge job (spec §4.6.5).
type JudgeParams struct {
	EvalRunID          string `json:"eval_run_id"`
	JudgeModel         string `json:"judge_model"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

// Judge builds the judge handler (spec §4.6.5): load an eval run's results,
// group by model, fan out per-case verdicts through a semaphore-bounded
// pool, then derive a per-model letter grade from a cross-case analysis
// prompt. The report row is created with status=running and its result_ref
// bound immediately, so a client can attach to the report before any verdict
// exists.
func (d *Deps) Judge(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params JudgeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid judge params: "+err.Error())
	}

	run, err := d.Store.ToolEval().GetEvalRun(ctx, params.EvalRunID)
	if err != nil {
		return "", fmt.Errorf("load eval run: %w", err)
	}
	results, err := d.Store.ToolEval().ResultsForRun(ctx, run.ID)
	if err != nil {
		return "", fmt.Errorf("load case results: %w", err)
	}
	testCases, err := d.Store.ToolEval().ListTestCases(ctx, run.SuiteID)
	if err != nil {
		return "", fmt.Errorf("load test cases: %w", err)
	}
	casesByID := make(map[string]models.ToolTestCase, len(testCases))
	for _, tc := range testCases {
		casesByID[tc.ID] = tc
	}

	report, err := d.createJudgeReport(ctx, job, run.ID, nil)
	if err != nil {
		return "", err
	}
	if err := d.Store.Jobs().SetResultRef(ctx, jobID, report.ID); err != nil {
		return "", fmt.Errorf("bind result ref: %w", err)
	}
	d.emit(ctx, job.UserID, "judge_start", map[string]any{"job_id": jobID, "report_id": report.ID})

	catalog, err := d.loadCatalog(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	judgeTargets := ResolveTargets(TargetSelector{ModelIDs: []string{params.JudgeModel}}, catalog)
	if len(judgeTargets) == 0 {
		return "", models.NewValidationError("judge_model", "judge model is not a registered target")
	}
	judgeTarget := judgeTargets[0]
	completer := d.Completer(judgeTarget)

	poolSize := defaultJudgePoolSize
	if sharesAPIBase(judgeTarget, results, catalog) {
		poolSize = 1
	}
	sem := newSemaphore(poolSize)

	byModel := groupResultsByModel(results)
	modelKeys := make([]string, 0, len(byModel))
	for k := range byModel {
		modelKeys = append(modelKeys, k)
	}
	sort.Strings(modelKeys)

	counter := NewProgressCounter(len(results))
	var mu sync.Mutex
	type modelOutcome struct {
		grade string
		score float64
		erred bool
	}
	outcomes := make(map[string]modelOutcome, len(modelKeys))

	for _, modelKey := range modelKeys {
		caseResults := byModel[modelKey]
		var wg sync.WaitGroup
		verdicts := make([]models.JudgeVerdict, len(caseResults))
		anyError := false

		for i, cr := range caseResults {
			i, cr := i, cr
			if cancel.Cancelled() {
				verdicts[i] = errorVerdict(report.ID, cr.ID, "cancelled before dispatch")
				anyError = true
				continue
			}
			wg.Add(1)
			sem.acquire()
			go func() {
				defer wg.Done()
				defer sem.release()
				tc := casesByID[cr.TestCaseID]
				v := d.judgeSingleVerdict(ctx, completer, params.JudgeModel, params.CustomInstructions, tc, cr, report.ID)
				mu.Lock()
				verdicts[i] = v
				mu.Unlock()
				if err := d.Store.Judge().InsertVerdict(ctx, v); err != nil {
					return
				}
				d.emit(ctx, job.UserID, "judge_verdict", v)
				pct := counter.Increment()
				progress(pct, fmt.Sprintf("judge %s case %d/%d", modelKey, i+1, len(caseResults)))
			}()
		}
		wg.Wait()

		for _, v := range verdicts {
			if v.Verdict == models.VerdictError {
				anyError = true
			}
		}
		if anyError || cancel.Cancelled() {
			outcomes[modelKey] = modelOutcome{erred: true}
			continue
		}

		grade, score := d.crossCaseAnalysis(ctx, completer, params.JudgeModel, modelKey, verdicts)
		outcomes[modelKey] = modelOutcome{grade: grade, score: score}
	}

	bestGrade, bestScore := "", -1.0
	anyFailed := false
	for _, o := range outcomes {
		if o.erred {
			anyFailed = true
			continue
		}
		if o.score > bestScore {
			bestScore, bestGrade = o.score, o.grade
		}
	}

	status := models.ReportStatusDone
	if anyFailed && bestGrade == "" {
		status = models.ReportStatusError
	}
	if bestScore < 0 {
		bestScore = 0
	}
	if err := d.Store.Judge().FinishReport(ctx, report.ID, status, bestGrade, bestScore, nil); err != nil {
		return "", fmt.Errorf("finish report: %w", err)
	}
	finished, err := d.Store.Judge().GetReport(ctx, report.ID)
	if err == nil {
		d.emit(ctx, job.UserID, "judge_report", finished)
	}
	d.emit(ctx, job.UserID, "judge_complete", map[string]any{"report_id": report.ID, "grade": bestGrade, "score": bestScore})

	return report.ID, nil
}

// createJudgeReport resolves the version chain (spec §4.6.6 "Judge report
// versioning"): re-judging the same eval run creates a child of the chain's
// root, never a grandchild.
func (d *Deps) createJudgeReport(ctx context.Context, job *models.Job, evalRunID string, compareEvalRunID *string) (models.JudgeReport, error) {
	existing, err := d.Store.Judge().ReportsForEvalRun(ctx, evalRunID)
	if err != nil {
		return models.JudgeReport{}, fmt.Errorf("load existing reports: %w", err)
	}

	var parentID *string
	version := 1
	if len(existing) > 0 {
		root := existing[0]
		for _, r := range existing {
			if r.ParentReportID == nil {
				root = r
				break
			}
		}
		rootID := root.ID
		parentID = &rootID
		for _, r := range existing {
			if r.Version >= version {
				version = r.Version + 1
			}
		}
	}

	report := models.JudgeReport{
		ID: store.NewID(), JobID: job.ID, UserID: job.UserID, EvalRunID: evalRunID,
		CompareEvalRunID: compareEvalRunID, Status: models.ReportStatusRunning,
		ParentReportID: parentID, Version: version,
	}
	if err := d.Store.Judge().CreateReport(ctx, report); err != nil {
		return models.JudgeReport{}, fmt.Errorf("create report: %w", err)
	}
	return report, nil
}

func groupResultsByModel(results []models.CaseResult) map[string][]models.CaseResult {
	out := make(map[string][]models.CaseResult)
	for _, r := range results {
		key := r.ProviderKey + "::" + r.ModelID
		out[key] = append(out[key], r)
	}
	return out
}

// sharesAPIBase reports whether the judge target's api_base matches any
// provider represented among the eval's own results, per spec §4.6.2/§4.6.5's
// self-contention guard.
func sharesAPIBase(judge ResolvedTarget, results []models.CaseResult, catalog Catalog) bool {
	providerKeys := make(map[string]struct{}, len(results))
	for _, r := range results {
		providerKeys[r.ProviderKey] = struct{}{}
	}
	for _, p := range catalog.Providers {
		if _, ok := providerKeys[p.Key]; !ok {
			continue
		}
		if p.APIBase == judge.Provider.APIBase {
			return true
		}
	}
	return false
}

func (d *Deps) judgeSingleVerdict(ctx context.Context, completer llmshim.Completer, judgeModel, customInstructions string, tc models.ToolTestCase, cr models.CaseResult, reportID string) models.JudgeVerdict {
	mc := MetaCaller{Completer: completer, Model: judgeModel}
	system := "You are an exacting evaluator of an LLM's tool-calling behavior. " +
		"Return strict JSON with keys quality_score (0-1), verdict (pass|marginal|fail), " +
		"summary, reasoning, tool_selection_assessment, param_assessment."
	if customInstructions != "" {
		system += " Additional instructions: " + customInstructions
	}
	user := fmt.Sprintf(
		"Prompt: %s\nExpected tool(s): %v\nExpected params: %s\nActual tool: %s\nActual params: %s\nSuccess: %v\nError: %s",
		tc.Prompt, tc.ExpectedTool, tc.ExpectedParamsJSON, cr.ActualTool, cr.ActualParamsJSON, cr.Success, cr.Error,
	)

	obj, err := mc.CallJSON(ctx, system, user)
	if err != nil {
		return errorVerdict(reportID, cr.ID, secret.Sanitize(err.Error()))
	}
	return models.JudgeVerdict{
		ID: store.NewID(), ReportID: reportID, CaseResultID: cr.ID,
		QualityScore: optFloat(obj, "quality_score", 0),
		Verdict:      parseVerdict(optString(obj, "verdict", "fail")),
		Summary:      optString(obj, "summary", ""),
		Reasoning:    optString(obj, "reasoning", ""),
		ToolSelectionAssessment: optString(obj, "tool_selection_assessment", ""),
		ParamAssessment:         optString(obj, "param_assessment", ""),
	}
}

// crossCaseAnalysis derives a per-model letter grade once every case verdict
// for that model is in (spec §4.6.5).
func (d *Deps) crossCaseAnalysis(ctx context.Context, completer llmshim.Completer, judgeModel, modelKey string, verdicts []models.JudgeVerdict) (string, float64) {
	mc := MetaCaller{Completer: completer, Model: judgeModel}
	var sb strings.Builder
	for _, v := range verdicts {
		fmt.Fprintf(&sb, "- verdict=%s quality=%.2f summary=%s\n", v.Verdict, v.QualityScore, v.Summary)
	}
	system := "You summarize a model's tool-calling evaluation into a single letter grade (A-F) and a 0-1 score. Return strict JSON {grade, score}."
	user := fmt.Sprintf("Model: %s\nPer-case verdicts:\n%s", modelKey, sb.String())

	obj, err := mc.CallJSON(ctx, system, user)
	if err != nil {
		return "F", averageQuality(verdicts)
	}
	grade := optString(obj, "grade", "")
	score := optFloat(obj, "score", averageQuality(verdicts))
	if grade == "" {
		grade = gradeFromScore(score)
	}
	return grade, score
}

func averageQuality(verdicts []models.JudgeVerdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range verdicts {
		sum += v.QualityScore
	}
	return sum / float64(len(verdicts))
}

func gradeFromScore(score float64) string {
	switch {
	case score >= 0.9:
		return "A"
	case score >= 0.8:
		return "B"
	case score >= 0.7:
		return "C"
	case score >= 0.6:
		return "D"
	default:
		return "F"
	}
}

func parseVerdict(s string) models.Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(models.VerdictPass):
		return models.VerdictPass
	case string(models.VerdictMarginal):
		return models.VerdictMarginal
	case string(models.VerdictFail):
		return models.VerdictFail
	default:
		return models.VerdictFail
	}
}

func errorVerdict(reportID, caseResultID, reason string) models.JudgeVerdict {
	return models.JudgeVerdict{
		ID: store.NewID(), ReportID: reportID, CaseResultID: caseResultID,
		Verdict: models.VerdictError, Summary: reason,
	}
}
