package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/secret"
)

// JudgeCompareParams is the submission shape for a judge-compare job
// (spec §4.6.6).
type JudgeCompareParams struct {
	EvalRunIDA         string `json:"eval_run_id_a"`
	EvalRunIDB         string `json:"eval_run_id_b"`
	JudgeModel         string `json:"judge_model"`
	CustomInstructions string `json:"custom_instructions,omitempty"`
}

type comparisonCaseResult struct {
	testCaseID string
	winner     models.CompareWinner
	reasoning  string
}

// JudgeCompare builds the judge-compare handler (spec §4.6.6): intersect two
// eval runs' test_case_ids, fan out per-case comparison prompts through a
// semaphore-bounded pool, then synthesize a single summary verdict. Report is
// created with status=running immediately, same eager-publication contract
// as the single-eval judge handler.
func (d *Deps) JudgeCompare(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params JudgeCompareParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid judge-compare params: "+err.Error())
	}

	runA, err := d.Store.ToolEval().GetEvalRun(ctx, params.EvalRunIDA)
	if err != nil {
		return "", fmt.Errorf("load eval run A: %w", err)
	}
	runB, err := d.Store.ToolEval().GetEvalRun(ctx, params.EvalRunIDB)
	if err != nil {
		return "", fmt.Errorf("load eval run B: %w", err)
	}
	resultsA, err := d.Store.ToolEval().ResultsForRun(ctx, runA.ID)
	if err != nil {
		return "", fmt.Errorf("load case results A: %w", err)
	}
	resultsB, err := d.Store.ToolEval().ResultsForRun(ctx, runB.ID)
	if err != nil {
		return "", fmt.Errorf("load case results B: %w", err)
	}

	pairs := intersectByTestCase(resultsA, resultsB)

	report, err := d.createJudgeReport(ctx, job, runA.ID, &runB.ID)
	if err != nil {
		return "", err
	}
	if err := d.Store.Jobs().SetResultRef(ctx, jobID, report.ID); err != nil {
		return "", fmt.Errorf("bind result ref: %w", err)
	}
	d.emit(ctx, job.UserID, "compare_start", map[string]any{"job_id": jobID, "report_id": report.ID, "case_count": len(pairs)})

	catalog, err := d.loadCatalog(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load catalog: %w", err)
	}
	judgeTargets := ResolveTargets(TargetSelector{ModelIDs: []string{params.JudgeModel}}, catalog)
	if len(judgeTargets) == 0 {
		return "", models.NewValidationError("judge_model", "judge model is not a registered target")
	}
	completer := d.Completer(judgeTargets[0])

	sem := newSemaphore(defaultJudgePoolSize)
	counter := NewProgressCounter(len(pairs))

	var mu sync.Mutex
	comparisons := make([]comparisonCaseResult, 0, len(pairs))
	anyCancelled := false

	var wg sync.WaitGroup
	for i, pair := range pairs {
		i, pair := i, pair
		if cancel.Cancelled() {
			anyCancelled = true
			break
		}
		wg.Add(1)
		sem.acquire()
		go func() {
			defer wg.Done()
			defer sem.release()
			cc := d.compareSingleCase(ctx, completer, params.JudgeModel, params.CustomInstructions, pair)
			mu.Lock()
			comparisons = append(comparisons, cc)
			mu.Unlock()
			d.emit(ctx, job.UserID, "compare_case", map[string]any{"report_id": report.ID, "test_case_id": cc.testCaseID, "winner": cc.winner})
			pct := counter.Increment()
			progress(pct, fmt.Sprintf("compare case %d/%d", i+1, len(pairs)))
		}()
	}
	wg.Wait()

	if anyCancelled || cancel.Cancelled() {
		_ = d.Store.Judge().FinishReport(ctx, report.ID, models.ReportStatusError, "", 0, nil)
		d.emit(ctx, job.UserID, "compare_complete", map[string]any{"report_id": report.ID, "status": "error"})
		return report.ID, nil
	}

	winner, scoreA, scoreB := d.summarizeComparison(ctx, completer, params.JudgeModel, comparisons)
	finalScore := scoreA
	if winner == models.CompareWinnerB {
		finalScore = scoreB
	}
	grade := gradeFromScore(finalScore)
	if err := d.Store.Judge().FinishReport(ctx, report.ID, models.ReportStatusDone, grade, finalScore, &winner); err != nil {
		return "", fmt.Errorf("finish report: %w", err)
	}
	d.emit(ctx, job.UserID, "compare_complete", map[string]any{"report_id": report.ID, "winner": winner, "score_a": scoreA, "score_b": scoreB})

	return report.ID, nil
}

// intersectByTestCase pairs case results from two eval runs that share a
// test_case_id (spec §4.6.6: "intersect their test_case_ids").
type comparisonPair struct {
	testCaseID string
	a, b       models.CaseResult
}

func intersectByTestCase(resultsA, resultsB []models.CaseResult) []comparisonPair {
	byCase := make(map[string]models.CaseResult, len(resultsA))
	for _, r := range resultsA {
		byCase[r.TestCaseID] = r
	}
	var out []comparisonPair
	for _, rb := range resultsB {
		if ra, ok := byCase[rb.TestCaseID]; ok {
			out = append(out, comparisonPair{testCaseID: rb.TestCaseID, a: ra, b: rb})
		}
	}
	return out
}

func (d *Deps) compareSingleCase(ctx context.Context, completer llmshim.Completer, judgeModel, customInstructions string, pair comparisonPair) comparisonCaseResult {
	mc := MetaCaller{Completer: completer, Model: judgeModel}
	system := "You compare two LLM responses to the same tool-calling test case and decide which is better. " +
		"Return strict JSON {winner: \"model_a\"|\"model_b\"|\"tie\", reasoning}."
	if customInstructions != "" {
		system += " Additional instructions: " + customInstructions
	}
	user := fmt.Sprintf(
		"Model A tool: %s, params: %s, success: %v\nModel B tool: %s, params: %s, success: %v",
		pair.a.ActualTool, pair.a.ActualParamsJSON, pair.a.Success,
		pair.b.ActualTool, pair.b.ActualParamsJSON, pair.b.Success,
	)

	obj, err := mc.CallJSON(ctx, system, user)
	if err != nil {
		return comparisonCaseResult{testCaseID: pair.testCaseID, winner: models.CompareWinnerTie, reasoning: secret.Sanitize(err.Error())}
	}
	return comparisonCaseResult{
		testCaseID: pair.testCaseID,
		winner:     parseWinner(optString(obj, "winner", "tie")),
		reasoning:  optString(obj, "reasoning", ""),
	}
}

// summarizeComparison derives the report-level winner from a single summary
// prompt; on parser failure it synthesizes one by counting per-case winners
// (spec §4.6.6: "On parser failure of the summary, synthesize one by
// counting per-case winners").
func (d *Deps) summarizeComparison(ctx context.Context, completer llmshim.Completer, judgeModel string, comparisons []comparisonCaseResult) (models.CompareWinner, float64, float64) {
	mc := MetaCaller{Completer: completer, Model: judgeModel}
	var sb strings.Builder
	for _, c := range comparisons {
		fmt.Fprintf(&sb, "- case %s: winner=%s reasoning=%s\n", c.testCaseID, c.winner, c.reasoning)
	}
	system := "You summarize a set of per-case model comparisons into an overall winner and 0-1 scores for each model. " +
		"Return strict JSON {winner: \"model_a\"|\"model_b\"|\"tie\", score_a, score_b}."
	user := sb.String()

	obj, err := mc.CallJSON(ctx, system, user)
	if err == nil {
		if w, ok := obj["winner"]; ok {
			if ws, ok := w.(string); ok && ws != "" {
				return parseWinner(ws), optFloat(obj, "score_a", 0), optFloat(obj, "score_b", 0)
			}
		}
	}
	return countWinners(comparisons)
}

// countWinners synthesizes an overall winner by tallying per-case winners
// when the summary prompt's JSON failed to parse (spec §4.6.6).
func countWinners(comparisons []comparisonCaseResult) (models.CompareWinner, float64, float64) {
	var a, b, tie int
	for _, c := range comparisons {
		switch c.winner {
		case models.CompareWinnerA:
			a++
		case models.CompareWinnerB:
			b++
		default:
			tie++
		}
	}
	total := float64(a + b + tie)
	if total == 0 {
		return models.CompareWinnerTie, 0, 0
	}
	scoreA := float64(a) / total
	scoreB := float64(b) / total
	switch {
	case a > b:
		return models.CompareWinnerA, scoreA, scoreB
	case b > a:
		return models.CompareWinnerB, scoreA, scoreB
	default:
		return models.CompareWinnerTie, scoreA, scoreB
	}
}

func parseWinner(s string) models.CompareWinner {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(models.CompareWinnerA):
		return models.CompareWinnerA
	case string(models.CompareWinnerB):
		return models.CompareWinnerB
	default:
		return models.CompareWinnerTie
	}
}
