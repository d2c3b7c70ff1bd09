package store

import (
	"context"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Leaderboard exposes the public_leaderboard_entries aggregate.
type Leaderboard struct{ s *Store }

// Leaderboard returns the leaderboard query handle.
func (s *Store) Leaderboard() *Leaderboard { return &Leaderboard{s: s} }

// Upsert folds one model's incremental sample into its running aggregate with
// SQL-level weighted averaging, so concurrent callers converge to the same
// final sample_count as a serial execution (spec §4.1):
//
//	new_avg = (old_avg * old_n + inc_avg * inc_n) / (old_n + inc_n)
//
// computed entirely inside the UPDATE clause of a single statement.
func (l *Leaderboard) Upsert(ctx context.Context, modelDBID, displayName string, incToolSelection, incParamAccuracy, incOverall, incLatencyMs float64, incSampleCount int) error {
	_, err := l.s.db.ExecContext(ctx, `
		INSERT INTO public_leaderboard_entries
			(model_db_id, display_name, avg_tool_selection_score, avg_param_accuracy, avg_overall_score,
			 avg_latency_ms, sample_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_db_id) DO UPDATE SET
			display_name = excluded.display_name,
			avg_tool_selection_score = (public_leaderboard_entries.avg_tool_selection_score * public_leaderboard_entries.sample_count
				+ excluded.avg_tool_selection_score * excluded.sample_count)
				/ (public_leaderboard_entries.sample_count + excluded.sample_count),
			avg_param_accuracy = (public_leaderboard_entries.avg_param_accuracy * public_leaderboard_entries.sample_count
				+ excluded.avg_param_accuracy * excluded.sample_count)
				/ (public_leaderboard_entries.sample_count + excluded.sample_count),
			avg_overall_score = (public_leaderboard_entries.avg_overall_score * public_leaderboard_entries.sample_count
				+ excluded.avg_overall_score * excluded.sample_count)
				/ (public_leaderboard_entries.sample_count + excluded.sample_count),
			avg_latency_ms = (public_leaderboard_entries.avg_latency_ms * public_leaderboard_entries.sample_count
				+ excluded.avg_latency_ms * excluded.sample_count)
				/ (public_leaderboard_entries.sample_count + excluded.sample_count),
			sample_count = public_leaderboard_entries.sample_count + excluded.sample_count,
			updated_at = excluded.updated_at`,
		modelDBID, displayName, incToolSelection, incParamAccuracy, incOverall, incLatencyMs, incSampleCount, nowISO())
	return err
}

// Top returns the leaderboard ordered by overall score descending, capped at limit.
func (l *Leaderboard) Top(ctx context.Context, limit int) ([]models.PublicLeaderboardEntry, error) {
	rows, err := l.s.db.QueryContext(ctx, `
		SELECT model_db_id, display_name, avg_tool_selection_score, avg_param_accuracy, avg_overall_score,
			avg_latency_ms, sample_count, updated_at
		FROM public_leaderboard_entries ORDER BY avg_overall_score DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PublicLeaderboardEntry
	for rows.Next() {
		var e models.PublicLeaderboardEntry
		var updatedAt string
		if err := rows.Scan(&e.ModelDBID, &e.DisplayName, &e.AvgToolSelectionScore, &e.AvgParamAccuracy,
			&e.AvgOverallScore, &e.AvgLatencyMs, &e.SampleCount, &updatedAt); err != nil {
			return nil, err
		}
		e.UpdatedAt = mustParse(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
