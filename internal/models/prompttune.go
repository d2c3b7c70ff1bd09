package models

import "time"

// PromptTuneMode is the closed set of prompt-tune strategies.
type PromptTuneMode string

const (
	PromptTuneModeQuick        PromptTuneMode = "quick"
	PromptTuneModeEvolutionary PromptTuneMode = "evolutionary"
)

// PromptTuneRun is the header row for one prompt-tune job.
type PromptTuneRun struct {
	ID           string
	JobID        string
	UserID       string
	SuiteID      string
	ExperimentID *string
	Mode         PromptTuneMode
	BasePrompt   string
	Status       RunStatus
	CreatedAt    time.Time
}

// PromptTuneGeneration is one round of candidates.
type PromptTuneGeneration struct {
	ID              string
	TuneRunID       string
	GenerationNumber int
	CreatedAt       time.Time
}

// PromptTuneCandidate is one prompt variant within a generation.
type PromptTuneCandidate struct {
	ID               string
	GenerationID     string
	CandidateIndex   int
	PromptText       string
	Style            string
	MutationType     string
	ParentCandidateID *string
	AvgScore         float64
	Survived         bool
}
