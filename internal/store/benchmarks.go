package store

import (
	"context"
	"database/sql"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Benchmarks exposes benchmark_runs / benchmark_results queries.
type Benchmarks struct{ s *Store }

// Benchmarks returns the benchmark query handle.
func (s *Store) Benchmarks() *Benchmarks { return &Benchmarks{s: s} }

// CreateRun inserts the header row for a benchmark job.
func (b *Benchmarks) CreateRun(ctx context.Context, run models.BenchmarkRun) error {
	_, err := b.s.db.ExecContext(ctx, `
		INSERT INTO benchmark_runs (id, job_id, user_id, experiment_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.UserID, run.ExperimentID, iso(run.CreatedAt))
	return err
}

// InsertResult appends one per-target result row. Handlers persist
// incrementally as each target finishes, per the handler contract.
func (b *Benchmarks) InsertResult(ctx context.Context, r models.BenchmarkResult) error {
	_, err := b.s.db.ExecContext(ctx, `
		INSERT INTO benchmark_results (id, run_id, provider_key, model_id, tier, run_ordinal,
			ttft_ms, total_time_s, output_tokens, input_tokens, tokens_per_second,
			input_tokens_per_second, cost, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.ProviderKey, r.ModelID, r.Tier, r.RunOrdinal,
		r.TTFTMs, r.TotalTimeS, r.OutputTokens, r.InputTokens, r.TokensPerSecond,
		r.InputTokensPerSecond, r.Cost, boolToInt(r.Success), r.Error)
	return err
}

// GetRun fetches one benchmark run header.
func (b *Benchmarks) GetRun(ctx context.Context, id string) (*models.BenchmarkRun, error) {
	row := b.s.db.QueryRowContext(ctx, `
		SELECT id, job_id, user_id, experiment_id, created_at FROM benchmark_runs WHERE id = ?`, id)
	var run models.BenchmarkRun
	var createdAt string
	if err := row.Scan(&run.ID, &run.JobID, &run.UserID, &run.ExperimentID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	run.CreatedAt = mustParse(createdAt)
	return &run, nil
}

// ResultsForRun returns every result row for a run, in insertion order.
func (b *Benchmarks) ResultsForRun(ctx context.Context, runID string) ([]models.BenchmarkResult, error) {
	rows, err := b.s.db.QueryContext(ctx, `
		SELECT id, run_id, provider_key, model_id, tier, run_ordinal, ttft_ms, total_time_s,
			output_tokens, input_tokens, tokens_per_second, input_tokens_per_second, cost, success, error
		FROM benchmark_results WHERE run_id = ? ORDER BY rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BenchmarkResult
	for rows.Next() {
		var r models.BenchmarkResult
		var success int
		if err := rows.Scan(&r.ID, &r.RunID, &r.ProviderKey, &r.ModelID, &r.Tier, &r.RunOrdinal,
			&r.TTFTMs, &r.TotalTimeS, &r.OutputTokens, &r.InputTokens, &r.TokensPerSecond,
			&r.InputTokensPerSecond, &r.Cost, &success, &r.Error); err != nil {
			return nil, err
		}
		r.Success = success != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
