// Package models holds the data types shared across the store, registry,
// handlers, and API layers.
package models

import "time"

// JobType is the closed set of background workload kinds the registry runs.
type JobType string

const (
	JobTypeBenchmark    JobType = "benchmark"
	JobTypeToolEval     JobType = "tool_eval"
	JobTypeParamTune    JobType = "param_tune"
	JobTypePromptTune   JobType = "prompt_tune"
	JobTypeJudge        JobType = "judge"
	JobTypeJudgeCompare JobType = "judge_compare"
)

// JobStatus is the closed set of lifecycle states a job row may hold.
type JobStatus string

const (
	JobStatusPending     JobStatus = "pending"
	JobStatusQueued      JobStatus = "queued"
	JobStatusRunning     JobStatus = "running"
	JobStatusDone        JobStatus = "done"
	JobStatusFailed      JobStatus = "failed"
	JobStatusCancelled   JobStatus = "cancelled"
	JobStatusInterrupted JobStatus = "interrupted"
)

// IsTerminal reports whether a job in this status will never transition again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCancelled, JobStatusInterrupted:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the allowed status graph from spec §3.
// Anything outside this relation is still written (logged as a warning by the
// caller), per spec: "log warning but accept write."
var validTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusPending: {
		JobStatusQueued:    true,
		JobStatusRunning:   true,
		JobStatusCancelled: true,
	},
	JobStatusQueued: {
		JobStatusRunning:   true,
		JobStatusCancelled: true,
	},
	JobStatusRunning: {
		JobStatusDone:        true,
		JobStatusFailed:      true,
		JobStatusCancelled:   true,
		JobStatusInterrupted: true,
	},
	JobStatusDone:        {},
	JobStatusFailed:      {},
	JobStatusCancelled:   {},
	JobStatusInterrupted: {},
}

// ValidTransition reports whether moving from `from` to `to` is one of the
// allowed edges in spec §3's transition graph.
func ValidTransition(from, to JobStatus) bool {
	edges, ok := validTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Job is the durable row backing every submitted workload (spec §3).
type Job struct {
	ID              string
	UserID          string
	JobType         JobType
	Status          JobStatus
	ProgressPct     int
	ProgressDetail  string
	ParamsJSON      string
	ResultRef       *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	TimeoutAt       *time.Time
	TimeoutSeconds  int
}
