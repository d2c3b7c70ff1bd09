package store

import (
	"context"
	"log/slog"
	"time"
)

// staleRunAge is the cutoff spec §4.1 sets for reclassifying a run row left
// in "running" as abandoned rather than merely slow: 30 minutes.
const staleRunAge = 30 * time.Minute

// Reconcile runs the full startup-recovery sweep (spec §4.1): every job left
// in {pending, queued, running} is transitioned to interrupted, and every
// judge_report / param_tune_run / prompt_tune_run left running for more than
// staleRunAge is transitioned to its own interrupted/error terminal state.
// Linked child rows (combos, generations, candidates, verdicts) are left in
// place — they describe real work already done and are not themselves status
// bearing.
func (s *Store) Reconcile(ctx context.Context) error {
	jobCount, err := s.Jobs().ReconcileOnStartup(ctx)
	if err != nil {
		return err
	}
	if jobCount > 0 {
		slog.Warn("reconciled interrupted jobs on startup", "count", jobCount)
	}

	cutoff := iso(time.Now().UTC().Add(-staleRunAge))

	if n, err := s.reconcileTable(ctx, "judge_reports", "status = 'running'", cutoff, "error"); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("reconciled stale judge reports on startup", "count", n)
	}

	if n, err := s.reconcileTable(ctx, "param_tune_runs", "status = 'running'", cutoff, "interrupted"); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("reconciled stale param-tune runs on startup", "count", n)
	}

	if n, err := s.reconcileTable(ctx, "prompt_tune_runs", "status = 'running'", cutoff, "interrupted"); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("reconciled stale prompt-tune runs on startup", "count", n)
	}

	return nil
}

func (s *Store) reconcileTable(ctx context.Context, table, statusPredicate, cutoff, terminalStatus string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET status = ? WHERE `+statusPredicate+` AND created_at < ?`,
		terminalStatus, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
