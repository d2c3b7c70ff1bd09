package store

import (
	"context"
	"database/sql"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// ParamTune exposes param_tune_runs / param_tune_combos queries.
type ParamTune struct{ s *Store }

// ParamTune returns the param-tune query handle.
func (s *Store) ParamTune() *ParamTune { return &ParamTune{s: s} }

// CreateRun inserts the header row for a param-tune job.
func (p *ParamTune) CreateRun(ctx context.Context, run models.ParamTuneRun) error {
	_, err := p.s.db.ExecContext(ctx, `
		INSERT INTO param_tune_runs (id, job_id, user_id, suite_id, experiment_id, mode, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.UserID, run.SuiteID, run.ExperimentID, run.Mode, run.Status, iso(run.CreatedAt))
	return err
}

// SetRunStatus transitions a param-tune run's terminal status.
func (p *ParamTune) SetRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	_, err := p.s.db.ExecContext(ctx, `UPDATE param_tune_runs SET status = ? WHERE id = ?`, status, id)
	return err
}

// GetRun fetches one param-tune run header.
func (p *ParamTune) GetRun(ctx context.Context, id string) (*models.ParamTuneRun, error) {
	row := p.s.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_id, suite_id, experiment_id, mode, status, created_at
		FROM param_tune_runs WHERE id = ?`, id)
	var run models.ParamTuneRun
	var createdAt string
	if err := row.Scan(&run.ID, &run.JobID, &run.UserID, &run.SuiteID, &run.ExperimentID,
		&run.Mode, &run.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	run.CreatedAt = mustParse(createdAt)
	return &run, nil
}

// InsertCombo appends one tried parameter combination.
func (p *ParamTune) InsertCombo(ctx context.Context, c models.ParamTuneCombo) error {
	_, err := p.s.db.ExecContext(ctx, `
		INSERT INTO param_tune_combos (id, tune_run_id, combo_index, provider_key, model_id,
			config_json, adjustments_json, accuracy_avg, latency_avg_ms, eval_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TuneRunID, c.ComboIndex, c.ProviderKey, c.ModelID,
		c.ConfigJSON, c.AdjustmentsJSON, c.AccuracyAvg, c.LatencyAvgMs, c.EvalRunID)
	return err
}

// SetComboEvalRunID links a combo to the eval_run synthesized when it is
// promoted into an experiment (spec §4.6.3: best-combo promotion).
func (p *ParamTune) SetComboEvalRunID(ctx context.Context, comboID, evalRunID string) error {
	_, err := p.s.db.ExecContext(ctx, `UPDATE param_tune_combos SET eval_run_id = ? WHERE id = ?`, evalRunID, comboID)
	return err
}

// CombosForRun returns every tried combination for a run, in trial order.
func (p *ParamTune) CombosForRun(ctx context.Context, runID string) ([]models.ParamTuneCombo, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		SELECT id, tune_run_id, combo_index, provider_key, model_id, config_json, adjustments_json,
			accuracy_avg, latency_avg_ms, eval_run_id
		FROM param_tune_combos WHERE tune_run_id = ? ORDER BY combo_index ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ParamTuneCombo
	for rows.Next() {
		var c models.ParamTuneCombo
		if err := rows.Scan(&c.ID, &c.TuneRunID, &c.ComboIndex, &c.ProviderKey, &c.ModelID,
			&c.ConfigJSON, &c.AdjustmentsJSON, &c.AccuracyAvg, &c.LatencyAvgMs, &c.EvalRunID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// BestCombo returns the run's highest-accuracy combination, ties broken by
// lowest latency (spec §4.6.3: "best combo" selection rule).
func (p *ParamTune) BestCombo(ctx context.Context, runID string) (*models.ParamTuneCombo, error) {
	row := p.s.db.QueryRowContext(ctx, `
		SELECT id, tune_run_id, combo_index, provider_key, model_id, config_json, adjustments_json,
			accuracy_avg, latency_avg_ms, eval_run_id
		FROM param_tune_combos WHERE tune_run_id = ?
		ORDER BY accuracy_avg DESC, latency_avg_ms ASC LIMIT 1`, runID)
	var c models.ParamTuneCombo
	if err := row.Scan(&c.ID, &c.TuneRunID, &c.ComboIndex, &c.ProviderKey, &c.ModelID,
		&c.ConfigJSON, &c.AdjustmentsJSON, &c.AccuracyAvg, &c.LatencyAvgMs, &c.EvalRunID); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
