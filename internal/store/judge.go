package store

import (
	"context"
	"database/sql"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// Judge exposes judge_reports / judge_verdicts queries.
type Judge struct{ s *Store }

// Judge returns the judge query handle.
func (s *Store) Judge() *Judge { return &Judge{s: s} }

const judgeReportSelect = `
	SELECT id, job_id, user_id, eval_run_id, compare_eval_run_id, judge_model, status,
		parent_report_id, version, grade, score, winner, created_at
	FROM judge_reports`

func scanJudgeReport(row rowScanner) (*models.JudgeReport, error) {
	var r models.JudgeReport
	var createdAt string
	if err := row.Scan(&r.ID, &r.JobID, &r.UserID, &r.EvalRunID, &r.CompareEvalRunID, &r.JudgeModel,
		&r.Status, &r.ParentReportID, &r.Version, &r.Grade, &r.Score, &r.Winner, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = mustParse(createdAt)
	return &r, nil
}

// CreateReport inserts a new report row. For a re-judge, ParentReportID must
// be the chain's root id and Version must be root-version+1 (spec §4.6.6).
func (j *Judge) CreateReport(ctx context.Context, r models.JudgeReport) error {
	_, err := j.s.db.ExecContext(ctx, `
		INSERT INTO judge_reports (id, job_id, user_id, eval_run_id, compare_eval_run_id, judge_model,
			status, parent_report_id, version, grade, score, winner, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.JobID, r.UserID, r.EvalRunID, r.CompareEvalRunID, r.JudgeModel,
		r.Status, r.ParentReportID, r.Version, r.Grade, r.Score, r.Winner, iso(r.CreatedAt))
	return err
}

// FinishReport records the terminal grade/score/status for a report.
func (j *Judge) FinishReport(ctx context.Context, id string, status models.ReportStatus, grade string, score float64, winner *models.CompareWinner) error {
	_, err := j.s.db.ExecContext(ctx, `
		UPDATE judge_reports SET status = ?, grade = ?, score = ?, winner = ? WHERE id = ?`,
		status, grade, score, winner, id)
	return err
}

// GetReport fetches one report by id.
func (j *Judge) GetReport(ctx context.Context, id string) (*models.JudgeReport, error) {
	row := j.s.db.QueryRowContext(ctx, judgeReportSelect+` WHERE id = ?`, id)
	r, err := scanJudgeReport(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return r, err
}

// ChainForReport returns every report sharing a root with `id`, root first,
// ordered by version ascending (wraps models.VersionChain over the DB rows
// that could plausibly belong to the chain: the root itself and its direct
// children).
func (j *Judge) ChainForReport(ctx context.Context, id string) ([]models.JudgeReport, error) {
	anchor, err := j.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	root := anchor.ID
	if anchor.ParentReportID != nil {
		root = *anchor.ParentReportID
	}
	rows, err := j.s.db.QueryContext(ctx, judgeReportSelect+`
		WHERE id = ? OR parent_report_id = ? ORDER BY version ASC`, root, root)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var chain []models.JudgeReport
	for rows.Next() {
		r, err := scanJudgeReport(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, *r)
	}
	return chain, rows.Err()
}

// ReportsForEvalRun returns every report (across every version chain) judging
// a given eval run, oldest first — callers use this to locate an existing
// chain's root before creating a re-judge child (spec §4.6.6 "Judge report
// versioning").
func (j *Judge) ReportsForEvalRun(ctx context.Context, evalRunID string) ([]models.JudgeReport, error) {
	rows, err := j.s.db.QueryContext(ctx, judgeReportSelect+`
		WHERE eval_run_id = ? AND compare_eval_run_id IS NULL ORDER BY created_at ASC`, evalRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JudgeReport
	for rows.Next() {
		r, err := scanJudgeReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// InsertVerdict appends one per-case judge assessment.
func (j *Judge) InsertVerdict(ctx context.Context, v models.JudgeVerdict) error {
	_, err := j.s.db.ExecContext(ctx, `
		INSERT INTO judge_verdicts (id, report_id, case_result_id, quality_score, verdict, summary,
			reasoning, tool_selection_assessment, param_assessment, judge_override_score, override_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ReportID, v.CaseResultID, v.QualityScore, v.Verdict, v.Summary,
		v.Reasoning, v.ToolSelectionAssessment, v.ParamAssessment, v.JudgeOverrideScore, v.OverrideReason)
	return err
}

// VerdictsForReport returns every per-case verdict belonging to a report.
func (j *Judge) VerdictsForReport(ctx context.Context, reportID string) ([]models.JudgeVerdict, error) {
	rows, err := j.s.db.QueryContext(ctx, `
		SELECT id, report_id, case_result_id, quality_score, verdict, summary, reasoning,
			tool_selection_assessment, param_assessment, judge_override_score, override_reason
		FROM judge_verdicts WHERE report_id = ? ORDER BY rowid ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.JudgeVerdict
	for rows.Next() {
		var v models.JudgeVerdict
		if err := rows.Scan(&v.ID, &v.ReportID, &v.CaseResultID, &v.QualityScore, &v.Verdict, &v.Summary,
			&v.Reasoning, &v.ToolSelectionAssessment, &v.ParamAssessment, &v.JudgeOverrideScore, &v.OverrideReason); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// OverrideVerdictScore records a human override of a judge's quality score
// for one case (spec §4.6.6: human-in-the-loop override).
func (j *Judge) OverrideVerdictScore(ctx context.Context, verdictID string, score float64, reason string) error {
	_, err := j.s.db.ExecContext(ctx, `
		UPDATE judge_verdicts SET judge_override_score = ?, override_reason = ? WHERE id = ?`,
		score, reason, verdictID)
	return err
}
