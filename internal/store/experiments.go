package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Experiments exposes experiments / schedules / model_profiles / prompt_versions
// queries — the experiment-tracking and reusable-config surface (spec §4.7).
type Experiments struct{ s *Store }

// Experiments returns the experiments query handle.
func (s *Store) Experiments() *Experiments { return &Experiments{s: s} }

const experimentSelect = `
	SELECT id, user_id, suite_id, name, baseline_eval_id, baseline_score, best_score,
		best_config_json, best_source, best_source_id, created_at
	FROM experiments`

func scanExperiment(row rowScanner) (*models.Experiment, error) {
	var e models.Experiment
	var createdAt string
	if err := row.Scan(&e.ID, &e.UserID, &e.SuiteID, &e.Name, &e.BaselineEvalID, &e.BaselineScore,
		&e.BestScore, &e.BestConfigJSON, &e.BestSource, &e.BestSourceID, &createdAt); err != nil {
		return nil, err
	}
	e.CreatedAt = mustParse(createdAt)
	return &e, nil
}

// Create inserts a new experiment.
func (x *Experiments) Create(ctx context.Context, e models.Experiment) error {
	_, err := x.s.db.ExecContext(ctx, `
		INSERT INTO experiments (id, user_id, suite_id, name, baseline_eval_id, baseline_score,
			best_score, best_config_json, best_source, best_source_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.SuiteID, e.Name, e.BaselineEvalID, e.BaselineScore,
		e.BestScore, e.BestConfigJSON, e.BestSource, e.BestSourceID, iso(e.CreatedAt))
	return err
}

// Get fetches one experiment by id.
func (x *Experiments) Get(ctx context.Context, id string) (*models.Experiment, error) {
	row := x.s.db.QueryRowContext(ctx, experimentSelect+` WHERE id = ?`, id)
	e, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return e, err
}

// ListForUser returns every experiment a user owns, newest first.
func (x *Experiments) ListForUser(ctx context.Context, userID string) ([]models.Experiment, error) {
	rows, err := x.s.db.QueryContext(ctx, experimentSelect+` WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// PinBaseline records an eval run's score as the experiment's comparison
// baseline (spec §4.7: pin_baseline).
func (x *Experiments) PinBaseline(ctx context.Context, id string, evalRunID string, score float64) error {
	_, err := x.s.db.ExecContext(ctx, `
		UPDATE experiments SET baseline_eval_id = ?, baseline_score = ? WHERE id = ?`, evalRunID, score, id)
	return err
}

// MaybeUpdateBest atomically updates the experiment's best-config pointer if
// candidateScore beats the current best (or no best exists yet); it reports
// whether a promotion happened so callers can emit a WS event.
func (x *Experiments) MaybeUpdateBest(ctx context.Context, id string, source models.BestSource, sourceID, configJSON string, candidateScore float64) (bool, error) {
	var promoted bool
	err := x.s.WithTx(ctx, func(tx *sql.Tx) error {
		var best sql.NullFloat64
		if err := tx.QueryRowContext(ctx, `SELECT best_score FROM experiments WHERE id = ?`, id).Scan(&best); err != nil {
			return err
		}
		if best.Valid && best.Float64 >= candidateScore {
			return nil
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE experiments SET best_score = ?, best_config_json = ?, best_source = ?, best_source_id = ?
			WHERE id = ?`, candidateScore, configJSON, source, sourceID, id)
		if err != nil {
			return err
		}
		promoted = true
		return nil
	})
	return promoted, err
}

// --- Schedules ---------------------------------------------------------------

// CreateSchedule inserts a recurring job template.
func (x *Experiments) CreateSchedule(ctx context.Context, sc models.Schedule) error {
	_, err := x.s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, user_id, job_type, params_json, cron_expr, enabled, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.UserID, sc.JobType, sc.ParamsJSON, sc.CronExpr, boolToInt(sc.Enabled), isoPtr(sc.LastRunAt))
	return err
}

// DueSchedules returns every enabled schedule (the caller evaluates cron_expr).
func (x *Experiments) DueSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := x.s.db.QueryContext(ctx, `
		SELECT id, user_id, job_type, params_json, cron_expr, enabled, last_run_at
		FROM schedules WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Schedule
	for rows.Next() {
		var sc models.Schedule
		var enabled int
		var lastRun sql.NullString
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.JobType, &sc.ParamsJSON, &sc.CronExpr, &enabled, &lastRun); err != nil {
			return nil, err
		}
		sc.Enabled = enabled != 0
		sc.LastRunAt = parsePtr(lastRun)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// MarkScheduleRun records the last-fired timestamp.
func (x *Experiments) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	_, err := x.s.db.ExecContext(ctx, `UPDATE schedules SET last_run_at = ? WHERE id = ?`, iso(at), id)
	return err
}

// --- Model profiles / prompt versions ---------------------------------------

// SaveModelProfile upserts a named, reusable config bundle.
func (x *Experiments) SaveModelProfile(ctx context.Context, p models.ModelProfile) error {
	_, err := x.s.db.ExecContext(ctx, `
		INSERT INTO model_profiles (id, user_id, name, config_json) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET config_json = excluded.config_json`,
		p.ID, p.UserID, p.Name, p.ConfigJSON)
	return err
}

// ListModelProfiles returns every profile a user saved.
func (x *Experiments) ListModelProfiles(ctx context.Context, userID string) ([]models.ModelProfile, error) {
	rows, err := x.s.db.QueryContext(ctx, `SELECT id, user_id, name, config_json FROM model_profiles WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ModelProfile
	for rows.Next() {
		var p models.ModelProfile
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.ConfigJSON); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePromptVersion upserts a named, reusable prompt.
func (x *Experiments) SavePromptVersion(ctx context.Context, pv models.PromptVersion) error {
	_, err := x.s.db.ExecContext(ctx, `
		INSERT INTO prompt_versions (id, user_id, name, text) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET text = excluded.text`,
		pv.ID, pv.UserID, pv.Name, pv.Text)
	return err
}

// ListPromptVersions returns every saved prompt a user owns.
func (x *Experiments) ListPromptVersions(ctx context.Context, userID string) ([]models.PromptVersion, error) {
	rows, err := x.s.db.QueryContext(ctx, `SELECT id, user_id, name, text FROM prompt_versions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PromptVersion
	for rows.Next() {
		var pv models.PromptVersion
		if err := rows.Scan(&pv.ID, &pv.UserID, &pv.Name, &pv.Text); err != nil {
			return nil, err
		}
		out = append(out, pv)
	}
	return out, rows.Err()
}
