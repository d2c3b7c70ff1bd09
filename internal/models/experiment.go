package models

import "time"

// BestSource is the closed set of run kinds that may set an experiment's
// best config.
type BestSource string

const (
	BestSourceEval       BestSource = "eval"
	BestSourceParamTune  BestSource = "param_tune"
	BestSourcePromptTune BestSource = "prompt_tune"
)

// Experiment ties a suite to a pinned baseline and tracks the running best
// config across any of the four run kinds that declare this ExperimentID.
type Experiment struct {
	ID              string
	UserID          string
	SuiteID         string
	Name            string
	BaselineEvalID  *string
	BaselineScore   *float64
	BestScore       *float64
	BestConfigJSON  string
	BestSource      *BestSource
	BestSourceID    *string
	CreatedAt       time.Time
}

// TimelineEntry is one row of an experiment's assembled history (spec §4.7).
type TimelineEntry struct {
	Kind          BestSource
	SourceID      string
	Score         float64
	Delta         float64 // score - baseline_score
	ConfigSummary string
	Promoted      bool
	Timestamp     time.Time
}

// PublicLeaderboardEntry is one model's aggregated tool-eval performance,
// visible to opted-in users (spec §3/§4.1 leaderboard upsert).
type PublicLeaderboardEntry struct {
	ModelDBID               string
	DisplayName              string
	AvgToolSelectionScore    float64
	AvgParamAccuracy         float64
	AvgOverallScore          float64
	AvgLatencyMs             float64
	SampleCount              int
	UpdatedAt                time.Time
}

// Schedule is a recurring job submission template (spec §3 supporting entity).
type Schedule struct {
	ID         string
	UserID     string
	JobType    JobType
	ParamsJSON string
	CronExpr   string
	Enabled    bool
	LastRunAt  *time.Time
}

// ModelProfile is a named, reusable bundle of target + parameter settings.
type ModelProfile struct {
	ID         string
	UserID     string
	Name       string
	ConfigJSON string
}

// PromptVersion is a named, reusable saved prompt.
type PromptVersion struct {
	ID     string
	UserID string
	Name   string
	Text   string
}
