package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/experiment"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/secret"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

// PromptTuneParams is the submission shape for a prompt-tune job (spec §4.6.4).
type PromptTuneParams struct {
	TargetSelector
	SuiteID         string                `json:"suite_id"`
	Mode            models.PromptTuneMode `json:"mode"`
	BasePrompt      string                `json:"base_prompt"`
	MetaModel       string                `json:"meta_model"`
	PopulationSize  int                   `json:"population_size,omitempty"`
	Generations     int                   `json:"generations,omitempty"`
	SelectionRatio  float64               `json:"selection_ratio,omitempty"`
	ToolChoice      string                `json:"tool_choice,omitempty"`
	ExperimentID    *string               `json:"experiment_id,omitempty"`
}

// PromptTune builds the prompt-tune handler (spec §4.6.4): generate
// candidates from a meta model, evaluate each across every target × case
// with the candidate prepended as an extra system prompt, and — in
// evolutionary mode — mutate the surviving top fraction into the next
// generation. Quick mode is evolutionary mode with generations pinned to 1.
func (d *Deps) PromptTune(ctx context.Context, jobID string, raw json.RawMessage, cancel *registry.CancelEvent, progress registry.ProgressFunc) (string, error) {
	job, err := d.Store.Jobs().Get(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job: %w", err)
	}
	var params PromptTuneParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return "", models.NewValidationError("params", "invalid prompt-tune params: "+err.Error())
	}
	if params.ToolChoice == "" {
		params.ToolChoice = "auto"
	}
	if params.PopulationSize <= 0 {
		params.PopulationSize = 4
	}
	generations := params.Generations
	if params.Mode != models.PromptTuneModeEvolutionary || generations <= 0 {
		generations = 1
	}
	selectionRatio := params.SelectionRatio
	if selectionRatio <= 0 || selectionRatio > 1 {
		selectionRatio = 0.5
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

	run := models.PromptTuneRun{
		ID: store.NewID(), JobID: jobID, UserID: job.UserID, SuiteID: params.SuiteID,
		ExperimentID: params.ExperimentID, Mode: params.Mode, BasePrompt: params.BasePrompt,
		Status: models.RunStatusRunning, CreatedAt: time.Now().UTC(),
	}
	if err := d.Store.PromptTune().CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("create prompt-tune run: %w", err)
	}
	if err := d.Store.Jobs().SetResultRef(ctx, jobID, run.ID); err != nil {
		return "", fmt.Errorf("bind result ref: %w", err)
	}

	metaTargets := ResolveTargets(TargetSelector{ModelIDs: []string{params.MetaModel}}, catalog)
	if len(metaTargets) == 0 {
		return "", models.NewValidationError("meta_model", "meta model is not a registered target")
	}
	metaCaller := MetaCaller{Completer: d.Completer(metaTargets[0]), Model: params.MetaModel}

	counter := NewProgressCounter(generations * params.PopulationSize * len(targets) * len(testCases))
	d.emit(ctx, job.UserID, "tune_start", map[string]any{"job_id": jobID, "run_id": run.ID, "generations": generations, "population_size": params.PopulationSize})

	var survivors []models.PromptTuneCandidate
	var bestOverall models.PromptTuneCandidate
	haveBest := false

	finalStatus := models.RunStatusDone
genLoop:
	for genNum := 1; genNum <= generations; genNum++ {
		if cancel.Cancelled() {
			finalStatus = models.RunStatusInterrupted
			break
		}
		gen := models.PromptTuneGeneration{ID: store.NewID(), TuneRunID: run.ID, GenerationNumber: genNum, CreatedAt: time.Now().UTC()}
		if err := d.Store.PromptTune().CreateGeneration(ctx, gen); err != nil {
			finalStatus = models.RunStatusFailed
			_ = d.Store.PromptTune().SetRunStatus(ctx, run.ID, finalStatus)
			return "", fmt.Errorf("create generation: %w", err)
		}
		d.emit(ctx, job.UserID, "generation_start", map[string]any{"run_id": run.ID, "generation": genNum})

		candidates, err := d.generateCandidates(ctx, metaCaller, params, genNum, survivors)
		if err != nil {
			finalStatus = models.RunStatusFailed
			_ = d.Store.PromptTune().SetRunStatus(ctx, run.ID, finalStatus)
			return "", fmt.Errorf("generate candidates: %w", err)
		}

		for i := range candidates {
			if cancel.Cancelled() {
				finalStatus = models.RunStatusInterrupted
				break genLoop
			}
			c := &candidates[i]
			c.ID = store.NewID()
			c.GenerationID = gen.ID
			c.CandidateIndex = i
			d.emit(ctx, job.UserID, "prompt_generated", map[string]any{"generation": genNum, "index": i, "prompt": c.PromptText, "style": c.Style})
			d.emit(ctx, job.UserID, "prompt_eval_start", map[string]any{"generation": genNum, "candidate_index": i})

			score, err := d.evaluatePromptCandidate(ctx, cancel, targets, testCases, tools, params.ToolChoice, c.PromptText, func(detail string) {
				pct := counter.Increment()
				progress(pct, detail)
				d.emit(ctx, job.UserID, "prompt_eval_result", map[string]any{"generation": genNum, "candidate_index": i, "detail": detail})
			})
			if err != nil {
				finalStatus = models.RunStatusInterrupted
				break genLoop
			}
			c.AvgScore = score
			if err := d.Store.PromptTune().InsertCandidate(ctx, *c); err != nil {
				finalStatus = models.RunStatusFailed
				_ = d.Store.PromptTune().SetRunStatus(ctx, run.ID, finalStatus)
				return "", fmt.Errorf("persist candidate: %w", err)
			}
			if !haveBest || c.AvgScore > bestOverall.AvgScore {
				bestOverall = *c
				haveBest = true
			}
		}

		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].AvgScore > candidates[j].AvgScore })
		keep := int(float64(len(candidates)) * selectionRatio)
		if keep < 1 {
			keep = 1
		}
		if keep > len(candidates) {
			keep = len(candidates)
		}
		survivorIDs := make([]string, 0, keep)
		for i := 0; i < keep; i++ {
			candidates[i].Survived = true
			survivorIDs = append(survivorIDs, candidates[i].ID)
		}
		if err := d.Store.PromptTune().MarkSurvivors(ctx, survivorIDs); err != nil {
			finalStatus = models.RunStatusFailed
			_ = d.Store.PromptTune().SetRunStatus(ctx, run.ID, finalStatus)
			return "", fmt.Errorf("mark survivors: %w", err)
		}
		survivors = candidates[:keep]
		d.emit(ctx, job.UserID, "generation_complete", map[string]any{"run_id": run.ID, "generation": genNum, "survivors": keep})
	}

	_ = d.Store.PromptTune().SetRunStatus(ctx, run.ID, finalStatus)
	d.emit(ctx, job.UserID, "tune_complete", map[string]any{"run_id": run.ID, "status": finalStatus})
	if finalStatus == models.RunStatusInterrupted {
		return run.ID, nil
	}

	if haveBest && params.ExperimentID != nil {
		coord := experiment.New(d.Store)
		exp, err := d.Store.Experiments().Get(ctx, *params.ExperimentID)
		if err == nil {
			if exp.BaselineEvalID == nil {
				// A prompt-tune result cannot serve as a suite baseline (the
				// baseline must be an eval run); only offer it as a best
				// candidate once a baseline already exists.
			} else {
				_, _ = coord.MaybeUpdateBest(ctx, exp.ID, bestOverall.AvgScore,
					mustMarshal(map[string]any{"prompt": bestOverall.PromptText, "candidate_id": bestOverall.ID}),
					models.BestSourcePromptTune, run.ID)
			}
		}
	}

	return run.ID, nil
}

// generateCandidates asks the meta model for the next generation's prompt
// variants: gen 1 mutates the base prompt into population_size independent
// candidates; later generations mutate each survivor (spec §4.6.4
// "Evolutionary" mode, "subsequent generations mutate the top
// selection_ratio fraction of survivors, parent_candidate_id tracked").
func (d *Deps) generateCandidates(ctx context.Context, meta MetaCaller, params PromptTuneParams, genNum int, survivors []models.PromptTuneCandidate) ([]models.PromptTuneCandidate, error) {
	if genNum == 1 || len(survivors) == 0 {
		out := make([]models.PromptTuneCandidate, 0, params.PopulationSize)
		for i := 0; i < params.PopulationSize; i++ {
			text, style, err := d.mutatePrompt(ctx, meta, params.BasePrompt, "initial", i)
			if err != nil {
				return nil, err
			}
			out = append(out, models.PromptTuneCandidate{PromptText: text, Style: style, MutationType: "initial"})
		}
		return out, nil
	}

	out := make([]models.PromptTuneCandidate, 0, params.PopulationSize)
	perParent := params.PopulationSize / len(survivors)
	if perParent < 1 {
		perParent = 1
	}
	for _, parent := range survivors {
		for i := 0; i < perParent; i++ {
			text, style, err := d.mutatePrompt(ctx, meta, parent.PromptText, "mutation", i)
			if err != nil {
				return nil, err
			}
			parentID := parent.ID
			out = append(out, models.PromptTuneCandidate{PromptText: text, Style: style, MutationType: "mutation", ParentCandidateID: &parentID})
		}
		if len(out) >= params.PopulationSize {
			break
		}
	}
	return out, nil
}

// mutatePrompt calls the meta model once to produce one new candidate prompt
// text from a template (spec §9 Design Notes: "keep prompt templates as
// data... treat the model-generation path as (template, interpolations) ->
// text").
func (d *Deps) mutatePrompt(ctx context.Context, meta MetaCaller, source, kind string, variant int) (string, string, error) {
	system := "You write system-prompt variants for an LLM tool-calling agent. " +
		"Produce one improved variant of the given prompt. Return only the prompt text."
	user := fmt.Sprintf("Mutation kind: %s, variant %d\nSource prompt:\n%s", kind, variant, source)
	text, err := meta.CallText(ctx, system, user)
	if err != nil {
		return "", "", fmt.Errorf("meta mutate: %w", secret.Sanitize(err.Error()))
	}
	style := fmt.Sprintf("%s-%d", kind, variant)
	return text, style, nil
}

// evaluatePromptCandidate scores one candidate across every target × case,
// with the candidate injected as the case's system prompt (spec §4.6.4).
func (d *Deps) evaluatePromptCandidate(ctx context.Context, cancel *registry.CancelEvent, targets []ResolvedTarget, testCases []models.ToolTestCase, tools []llmshim.ToolSpec, toolChoice, candidatePrompt string, onResult func(detail string)) (float64, error) {
	groups := GroupByProvider(targets)
	keys := SortedProviderKeys(groups)

	var scoreMu sync.Mutex
	var total float64
	var count int

	err := RunProviderGroups(ctx, groups, keys, cancel, func(ctx context.Context, target ResolvedTarget) error {
		completer := d.Completer(target)
		for _, tc := range testCases {
			if cancel.Cancelled() {
				return ErrCancelled
			}
			messages := []llmshim.Message{{Role: "system", Content: candidatePrompt}, {Role: "user", Content: tc.Prompt}}
			req := llmshim.Request{Model: target.ModelID, Messages: messages, Tools: tools, ToolChoice: toolChoice}
			resp, err := llmshim.RunNonStreaming(ctx, completer, req, nil)
			score := 0.0
			if err == nil {
				actualTool, actualParams := extractToolCall(resp)
				toolScore := ToolSelectionScore(actualTool, tc.ExpectedTool)
				paramAcc, has := ParamAccuracy(tc.ParamScoring, tc.ExpectedParamsJSON, actualParams)
				score = OverallScore(toolScore, paramAcc, has)
			}
			scoreMu.Lock()
			total += score
			count++
			scoreMu.Unlock()
			onResult(fmt.Sprintf("%s/%s case %s", target.ProviderKey, target.ModelID, tc.ID))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}
