package models

import (
	"sort"
	"time"
)

// Verdict is the closed set of per-case judge outcomes.
type Verdict string

const (
	VerdictPass     Verdict = "pass"
	VerdictMarginal Verdict = "marginal"
	VerdictFail     Verdict = "fail"
	VerdictError    Verdict = "error"
)

// ReportStatus is the closed set of judge-report lifecycle states.
type ReportStatus string

const (
	ReportStatusRunning ReportStatus = "running"
	ReportStatusDone    ReportStatus = "done"
	ReportStatusError   ReportStatus = "error"
)

// CompareWinner is the closed set of judge-compare outcomes.
type CompareWinner string

const (
	CompareWinnerA    CompareWinner = "model_a"
	CompareWinnerB    CompareWinner = "model_b"
	CompareWinnerTie  CompareWinner = "tie"
)

// JudgeReport is a versioned assessment of an eval run. Reports form a chain
// via ParentReportID + Version; the root is its own parent (or nil), and
// children reference the root only — no grandchildren (spec §4.6.6/§9).
type JudgeReport struct {
	ID             string
	JobID          string
	UserID         string
	EvalRunID      string
	CompareEvalRunID *string // set for judge-compare reports
	JudgeModel     string
	Status         ReportStatus
	ParentReportID *string
	Version        int
	Grade          string
	Score          float64
	Winner         *CompareWinner
	CreatedAt      time.Time
}

// JudgeVerdict is one judge assessment of a single case result.
type JudgeVerdict struct {
	ID                       string
	ReportID                 string
	CaseResultID             string
	QualityScore             float64
	Verdict                  Verdict
	Summary                  string
	Reasoning                string
	ToolSelectionAssessment  string
	ParamAssessment          string
	JudgeOverrideScore       *float64
	OverrideReason           string
}

// VersionChain returns every report in the chain rooted at `root`, including
// root itself, ordered by Version ascending — the shape §4.6.6 queries for.
func VersionChain(reports []JudgeReport, anyInChain JudgeReport) []JudgeReport {
	root := anyInChain.ID
	if anyInChain.ParentReportID != nil {
		root = *anyInChain.ParentReportID
	}
	var chain []JudgeReport
	for _, r := range reports {
		if r.ID == root {
			chain = append(chain, r)
			continue
		}
		if r.ParentReportID != nil && *r.ParentReportID == root {
			chain = append(chain, r)
		}
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Version < chain[j].Version })
	return chain
}
