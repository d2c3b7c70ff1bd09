package store

import (
	"context"
	"database/sql"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// PromptTune exposes prompt_tune_runs / prompt_tune_generations /
// prompt_tune_candidates queries.
type PromptTune struct{ s *Store }

// PromptTune returns the prompt-tune query handle.
func (s *Store) PromptTune() *PromptTune { return &PromptTune{s: s} }

// CreateRun inserts the header row for a prompt-tune job.
func (p *PromptTune) CreateRun(ctx context.Context, run models.PromptTuneRun) error {
	_, err := p.s.db.ExecContext(ctx, `
		INSERT INTO prompt_tune_runs (id, job_id, user_id, suite_id, experiment_id, mode, base_prompt, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.UserID, run.SuiteID, run.ExperimentID, run.Mode, run.BasePrompt, run.Status, iso(run.CreatedAt))
	return err
}

// SetRunStatus transitions a prompt-tune run's terminal status.
func (p *PromptTune) SetRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	_, err := p.s.db.ExecContext(ctx, `UPDATE prompt_tune_runs SET status = ? WHERE id = ?`, status, id)
	return err
}

// GetRun fetches one prompt-tune run header.
func (p *PromptTune) GetRun(ctx context.Context, id string) (*models.PromptTuneRun, error) {
	row := p.s.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_id, suite_id, experiment_id, mode, base_prompt, status, created_at
		FROM prompt_tune_runs WHERE id = ?`, id)
	var run models.PromptTuneRun
	var createdAt string
	if err := row.Scan(&run.ID, &run.JobID, &run.UserID, &run.SuiteID, &run.ExperimentID,
		&run.Mode, &run.BasePrompt, &run.Status, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	run.CreatedAt = mustParse(createdAt)
	return &run, nil
}

// CreateGeneration appends a new generation round.
func (p *PromptTune) CreateGeneration(ctx context.Context, gen models.PromptTuneGeneration) error {
	_, err := p.s.db.ExecContext(ctx, `
		INSERT INTO prompt_tune_generations (id, tune_run_id, generation_number, created_at)
		VALUES (?, ?, ?, ?)`,
		gen.ID, gen.TuneRunID, gen.GenerationNumber, iso(gen.CreatedAt))
	return err
}

// GenerationsForRun returns every generation in order.
func (p *PromptTune) GenerationsForRun(ctx context.Context, runID string) ([]models.PromptTuneGeneration, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		SELECT id, tune_run_id, generation_number, created_at FROM prompt_tune_generations
		WHERE tune_run_id = ? ORDER BY generation_number ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PromptTuneGeneration
	for rows.Next() {
		var g models.PromptTuneGeneration
		var createdAt string
		if err := rows.Scan(&g.ID, &g.TuneRunID, &g.GenerationNumber, &createdAt); err != nil {
			return nil, err
		}
		g.CreatedAt = mustParse(createdAt)
		out = append(out, g)
	}
	return out, rows.Err()
}

// InsertCandidate appends one prompt variant within a generation.
func (p *PromptTune) InsertCandidate(ctx context.Context, c models.PromptTuneCandidate) error {
	_, err := p.s.db.ExecContext(ctx, `
		INSERT INTO prompt_tune_candidates (id, generation_id, candidate_index, prompt_text, style,
			mutation_type, parent_candidate_id, avg_score, survived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GenerationID, c.CandidateIndex, c.PromptText, c.Style,
		c.MutationType, c.ParentCandidateID, c.AvgScore, boolToInt(c.Survived))
	return err
}

// MarkSurvivors flags the candidate ids that advance into the next generation.
func (p *PromptTune) MarkSurvivors(ctx context.Context, candidateIDs []string) error {
	return p.s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range candidateIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE prompt_tune_candidates SET survived = 1 WHERE id = ?`, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CandidatesForGeneration returns every candidate in a generation, by index.
func (p *PromptTune) CandidatesForGeneration(ctx context.Context, generationID string) ([]models.PromptTuneCandidate, error) {
	rows, err := p.s.db.QueryContext(ctx, `
		SELECT id, generation_id, candidate_index, prompt_text, style, mutation_type,
			parent_candidate_id, avg_score, survived
		FROM prompt_tune_candidates WHERE generation_id = ? ORDER BY candidate_index ASC`, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PromptTuneCandidate
	for rows.Next() {
		var c models.PromptTuneCandidate
		var survived int
		if err := rows.Scan(&c.ID, &c.GenerationID, &c.CandidateIndex, &c.PromptText, &c.Style,
			&c.MutationType, &c.ParentCandidateID, &c.AvgScore, &survived); err != nil {
			return nil, err
		}
		c.Survived = survived != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// BestCandidateOverall returns the highest-scoring candidate across every
// generation of a run — the prompt a caller promotes on job completion.
func (p *PromptTune) BestCandidateOverall(ctx context.Context, runID string) (*models.PromptTuneCandidate, error) {
	row := p.s.db.QueryRowContext(ctx, `
		SELECT c.id, c.generation_id, c.candidate_index, c.prompt_text, c.style, c.mutation_type,
			c.parent_candidate_id, c.avg_score, c.survived
		FROM prompt_tune_candidates c
		JOIN prompt_tune_generations g ON g.id = c.generation_id
		WHERE g.tune_run_id = ?
		ORDER BY c.avg_score DESC LIMIT 1`, runID)
	var c models.PromptTuneCandidate
	var survived int
	if err := row.Scan(&c.ID, &c.GenerationID, &c.CandidateIndex, &c.PromptText, &c.Style,
		&c.MutationType, &c.ParentCandidateID, &c.AvgScore, &survived); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	c.Survived = survived != 0
	return &c, nil
}
