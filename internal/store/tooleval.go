package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// ToolEval exposes tool_suites / tool_definitions / tool_test_cases /
// tool_eval_runs / case_results queries.
type ToolEval struct{ s *Store }

// ToolEval returns the tool-eval query handle.
func (s *Store) ToolEval() *ToolEval { return &ToolEval{s: s} }

// CreateSuite inserts a new suite.
func (t *ToolEval) CreateSuite(ctx context.Context, suite models.ToolSuite) error {
	_, err := t.s.db.ExecContext(ctx, `
		INSERT INTO tool_suites (id, user_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)`,
		suite.ID, suite.UserID, suite.Name, suite.Description, iso(suite.CreatedAt))
	return err
}

// GetSuite fetches one suite by id, scoped to its owner.
func (t *ToolEval) GetSuite(ctx context.Context, id string) (*models.ToolSuite, error) {
	row := t.s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, created_at FROM tool_suites WHERE id = ?`, id)
	var s models.ToolSuite
	var createdAt string
	if err := row.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	s.CreatedAt = mustParse(createdAt)
	return &s, nil
}

// ListSuitesForUser returns every suite a user owns.
func (t *ToolEval) ListSuitesForUser(ctx context.Context, userID string) ([]models.ToolSuite, error) {
	rows, err := t.s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, created_at FROM tool_suites WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ToolSuite
	for rows.Next() {
		var s models.ToolSuite
		var createdAt string
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Description, &createdAt); err != nil {
			return nil, err
		}
		s.CreatedAt = mustParse(createdAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddToolDefinition appends one tool to a suite.
func (t *ToolEval) AddToolDefinition(ctx context.Context, def models.ToolDefinition) error {
	_, err := t.s.db.ExecContext(ctx, `
		INSERT INTO tool_definitions (id, suite_id, name, description, params_json, sort_order)
		VALUES (?, ?, ?, ?, ?, ?)`,
		def.ID, def.SuiteID, def.Name, def.Description, def.ParamsJSON, def.SortOrder)
	return err
}

// ListToolDefinitions returns a suite's tools, ordered for display/dispatch.
func (t *ToolEval) ListToolDefinitions(ctx context.Context, suiteID string) ([]models.ToolDefinition, error) {
	rows, err := t.s.db.QueryContext(ctx, `
		SELECT id, suite_id, name, description, params_json, sort_order
		FROM tool_definitions WHERE suite_id = ? ORDER BY sort_order ASC`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ToolDefinition
	for rows.Next() {
		var d models.ToolDefinition
		if err := rows.Scan(&d.ID, &d.SuiteID, &d.Name, &d.Description, &d.ParamsJSON, &d.SortOrder); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// AddTestCase appends one scripted interaction to a suite.
func (t *ToolEval) AddTestCase(ctx context.Context, tc models.ToolTestCase) error {
	expectedTool, err := json.Marshal(tc.ExpectedTool)
	if err != nil {
		return err
	}
	_, err = t.s.db.ExecContext(ctx, `
		INSERT INTO tool_test_cases (id, suite_id, prompt, expected_tool_json, expected_params_json,
			param_scoring, multi_turn_config_json, scoring_config_json, should_call_tool, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.SuiteID, tc.Prompt, string(expectedTool), tc.ExpectedParamsJSON,
		tc.ParamScoring, tc.MultiTurnConfigJSON, tc.ScoringConfigJSON, boolToInt(tc.ShouldCallTool), tc.Category)
	return err
}

// ListTestCases returns every test case in a suite.
func (t *ToolEval) ListTestCases(ctx context.Context, suiteID string) ([]models.ToolTestCase, error) {
	rows, err := t.s.db.QueryContext(ctx, `
		SELECT id, suite_id, prompt, expected_tool_json, expected_params_json, param_scoring,
			multi_turn_config_json, scoring_config_json, should_call_tool, category
		FROM tool_test_cases WHERE suite_id = ?`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ToolTestCase
	for rows.Next() {
		var tc models.ToolTestCase
		var expectedTool string
		var shouldCall int
		if err := rows.Scan(&tc.ID, &tc.SuiteID, &tc.Prompt, &expectedTool, &tc.ExpectedParamsJSON,
			&tc.ParamScoring, &tc.MultiTurnConfigJSON, &tc.ScoringConfigJSON, &shouldCall, &tc.Category); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(expectedTool), &tc.ExpectedTool)
		tc.ShouldCallTool = shouldCall != 0
		out = append(out, tc)
	}
	return out, rows.Err()
}

// CreateEvalRun inserts the header row for a tool-eval job.
func (t *ToolEval) CreateEvalRun(ctx context.Context, run models.ToolEvalRun) error {
	_, err := t.s.db.ExecContext(ctx, `
		INSERT INTO tool_eval_runs (id, job_id, user_id, suite_id, experiment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.UserID, run.SuiteID, run.ExperimentID, iso(run.CreatedAt))
	return err
}

// GetEvalRun fetches one tool-eval run header.
func (t *ToolEval) GetEvalRun(ctx context.Context, id string) (*models.ToolEvalRun, error) {
	row := t.s.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_id, suite_id, experiment_id, created_at FROM tool_eval_runs WHERE id = ?`, id)
	var run models.ToolEvalRun
	var createdAt string
	if err := row.Scan(&run.ID, &run.JobID, &run.UserID, &run.SuiteID, &run.ExperimentID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	run.CreatedAt = mustParse(createdAt)
	return &run, nil
}

// InsertCaseResult appends one (test_case, model) outcome row.
func (t *ToolEval) InsertCaseResult(ctx context.Context, r models.CaseResult) error {
	_, err := t.s.db.ExecContext(ctx, `
		INSERT INTO case_results (id, run_id, test_case_id, provider_key, model_id,
			tool_selection_score, param_accuracy, overall_score, irrelevance_score,
			actual_tool, actual_params_json, success, error, latency_ms, raw_request, raw_response,
			completion_score, efficiency_score, redundancy_penalty, detour_penalty, tool_chain_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.TestCaseID, r.ProviderKey, r.ModelID,
		r.ToolSelectionScore, r.ParamAccuracy, r.OverallScore, r.IrrelevanceScore,
		r.ActualTool, r.ActualParamsJSON, boolToInt(r.Success), r.Error, r.LatencyMs, r.RawRequest, r.RawResponse,
		r.CompletionScore, r.EfficiencyScore, r.RedundancyPenalty, r.DetourPenalty, r.ToolChainJSON)
	return err
}

// ResultsForRun returns every case result belonging to a tool-eval run.
func (t *ToolEval) ResultsForRun(ctx context.Context, runID string) ([]models.CaseResult, error) {
	rows, err := t.s.db.QueryContext(ctx, `
		SELECT id, run_id, test_case_id, provider_key, model_id, tool_selection_score, param_accuracy,
			overall_score, irrelevance_score, actual_tool, actual_params_json, success, error, latency_ms,
			raw_request, raw_response, completion_score, efficiency_score, redundancy_penalty, detour_penalty,
			tool_chain_json
		FROM case_results WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.CaseResult
	for rows.Next() {
		var r models.CaseResult
		var success int
		if err := rows.Scan(&r.ID, &r.RunID, &r.TestCaseID, &r.ProviderKey, &r.ModelID, &r.ToolSelectionScore,
			&r.ParamAccuracy, &r.OverallScore, &r.IrrelevanceScore, &r.ActualTool, &r.ActualParamsJSON,
			&success, &r.Error, &r.LatencyMs, &r.RawRequest, &r.RawResponse, &r.CompletionScore,
			&r.EfficiencyScore, &r.RedundancyPenalty, &r.DetourPenalty, &r.ToolChainJSON); err != nil {
			return nil, err
		}
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
