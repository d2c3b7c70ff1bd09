package models

import "time"

// BenchmarkRun is the header row for one benchmark job (spec §3).
type BenchmarkRun struct {
	ID           string
	JobID        string
	UserID       string
	ExperimentID *string
	CreatedAt    time.Time
}

// BenchmarkResult is one row per (model, tier, run-ordinal).
type BenchmarkResult struct {
	ID                   string
	RunID                string
	ProviderKey          string
	ModelID              string
	Tier                 int
	RunOrdinal           int
	TTFTMs               *int
	TotalTimeS           float64
	OutputTokens         int
	InputTokens          int
	TokensPerSecond      float64
	InputTokensPerSecond float64
	Cost                 float64
	Success              bool
	Error                string
}
