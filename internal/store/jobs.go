package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Jobs exposes the job-row queries used by the registry and the job HTTP API.
type Jobs struct{ s *Store }

// Jobs returns the jobs query handle.
func (s *Store) Jobs() *Jobs { return &Jobs{s: s} }

// Create inserts a new job row. newID is pre-generated by the caller (the
// registry) so it can install in-memory bookkeeping under the same id before
// the row is durable.
func (j *Jobs) Create(ctx context.Context, job models.Job) error {
	_, err := j.s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, user_id, job_type, status, progress_pct, progress_detail,
			params_json, result_ref, created_at, started_at, completed_at, timeout_at, timeout_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, job.JobType, job.Status, job.ProgressPct, job.ProgressDetail,
		job.ParamsJSON, job.ResultRef, iso(job.CreatedAt), isoPtr(job.StartedAt),
		isoPtr(job.CompletedAt), isoPtr(job.TimeoutAt), job.TimeoutSeconds)
	return err
}

// SetStatus transitions a job's status. If the transition is not in the
// allowed graph (spec §3), it still writes the row but logs a warning —
// "anything else is an integrity violation — log warning but accept write."
func (j *Jobs) SetStatus(ctx context.Context, id string, from, to models.JobStatus) error {
	if !models.ValidTransition(from, to) {
		slog.Warn("job status transition outside allowed graph", "job_id", id, "from", from, "to", to)
	}

	now := nowISO()
	var completedAt any
	if to.IsTerminal() {
		completedAt = now
	}
	var timeoutAt any
	if to == models.JobStatusRunning {
		// timeout_at is set by StartRunning, not here; leave untouched.
	} else {
		timeoutAt = nil
	}

	query := `UPDATE jobs SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?`
	args := []any{to, completedAt, id}
	if to.IsTerminal() {
		// Clearing timeout_at keeps invariant (ii): timeout_at is non-null iff status=running.
		query = `UPDATE jobs SET status = ?, completed_at = COALESCE(completed_at, ?), timeout_at = NULL WHERE id = ?`
		_ = timeoutAt
	}
	_, err := j.s.db.ExecContext(ctx, query, args...)
	return err
}

// StartRunning persists the running transition with started_at/timeout_at.
func (j *Jobs) StartRunning(ctx context.Context, id string, timeoutSeconds int) error {
	now := time.Now().UTC()
	timeoutAt := now.Add(time.Duration(timeoutSeconds) * time.Second)
	_, err := j.s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, timeout_at = ? WHERE id = ?`,
		models.JobStatusRunning, iso(now), iso(timeoutAt), id)
	return err
}

// SetProgress updates progress_pct/progress_detail (fire-and-forget caller side).
func (j *Jobs) SetProgress(ctx context.Context, id string, pct int, detail string) error {
	_, err := j.s.db.ExecContext(ctx, `
		UPDATE jobs SET progress_pct = ?, progress_detail = ? WHERE id = ?`, pct, detail, id)
	return err
}

// SetResultRef publishes a discoverable result reference while still running
// (spec §4.4: "handler may call set_result_ref at any time").
func (j *Jobs) SetResultRef(ctx context.Context, id string, ref string) error {
	_, err := j.s.db.ExecContext(ctx, `UPDATE jobs SET result_ref = ? WHERE id = ?`, ref, id)
	return err
}

// Get fetches a single job by id.
func (j *Jobs) Get(ctx context.Context, id string) (*models.Job, error) {
	row := j.s.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// ListForUser returns jobs owned by userID, optionally filtered by status,
// newest first, capped at limit (0 means unlimited).
func (j *Jobs) ListForUser(ctx context.Context, userID string, status *models.JobStatus, limit int) ([]models.Job, error) {
	query := jobSelect + ` WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := j.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ActiveAndRecentForUser returns all non-terminal jobs plus up to
// recentLimit most-recent terminal jobs for userID — the payload of the
// WS hub's sync frame (spec §4.2).
func (j *Jobs) ActiveAndRecentForUser(ctx context.Context, userID string, recentLimit int) (active, recent []models.Job, err error) {
	active, err = j.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := j.s.db.QueryContext(ctx, jobSelect+`
		WHERE user_id = ? AND status IN ('done','failed','cancelled','interrupted')
		ORDER BY created_at DESC LIMIT ?`, userID, recentLimit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	recent, err = scanJobs(rows)
	return active, recent, err
}

// ListActiveForUser returns every non-terminal job for a user.
func (j *Jobs) ListActiveForUser(ctx context.Context, userID string) ([]models.Job, error) {
	rows, err := j.s.db.QueryContext(ctx, jobSelect+`
		WHERE user_id = ? AND status IN ('pending','queued','running') ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// CountCreatedSince counts jobs created by userID after `since` — the
// rolling-hour quota numerator (spec §4.3).
func (j *Jobs) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := j.s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs WHERE user_id = ? AND created_at > ?`, userID, iso(since)).Scan(&n)
	return n, err
}

// OldestQueuedForUser returns the oldest queued job for userID, or nil.
func (j *Jobs) OldestQueuedForUser(ctx context.Context, userID string) (*models.Job, error) {
	row := j.s.db.QueryRowContext(ctx, jobSelect+`
		WHERE user_id = ? AND status = 'queued' ORDER BY created_at ASC LIMIT 1`, userID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// TimedOutRunning returns running jobs whose timeout_at has passed — input
// to the watchdog (spec §4.4).
func (j *Jobs) TimedOutRunning(ctx context.Context, now time.Time) ([]models.Job, error) {
	rows, err := j.s.db.QueryContext(ctx, jobSelect+`
		WHERE status = 'running' AND timeout_at IS NOT NULL AND timeout_at < ?`, iso(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ReconcileOnStartup transitions every row left in {pending, queued, running}
// to interrupted — the crash-recovery sweep spec §4.1 requires.
func (j *Jobs) ReconcileOnStartup(ctx context.Context) (int, error) {
	res, err := j.s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'interrupted', completed_at = ?, timeout_at = NULL
		WHERE status IN ('pending', 'queued', 'running')`, nowISO())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// NewID mints a fresh 128-bit hex job id (spec §3: opaque 128-bit hex strings).
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

const jobSelect = `
	SELECT id, user_id, job_type, status, progress_pct, progress_detail, params_json,
		result_ref, created_at, started_at, completed_at, timeout_at, timeout_seconds
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var createdAt string
	var startedAt, completedAt, timeoutAt, resultRef sql.NullString
	if err := row.Scan(&job.ID, &job.UserID, &job.JobType, &job.Status, &job.ProgressPct,
		&job.ProgressDetail, &job.ParamsJSON, &resultRef, &createdAt, &startedAt,
		&completedAt, &timeoutAt, &job.TimeoutSeconds); err != nil {
		return nil, err
	}
	job.CreatedAt = mustParse(createdAt)
	job.StartedAt = parsePtr(startedAt)
	job.CompletedAt = parsePtr(completedAt)
	job.TimeoutAt = parsePtr(timeoutAt)
	if resultRef.Valid {
		job.ResultRef = &resultRef.String
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func iso(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func isoPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return iso(*t)
}

func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parsePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := mustParse(s.String)
	return &t
}
