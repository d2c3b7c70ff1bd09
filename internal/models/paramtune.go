package models

import "time"

// ParamTuneMode is the closed set of search strategies.
type ParamTuneMode string

const (
	ParamTuneModeGrid     ParamTuneMode = "grid"
	ParamTuneModeRandom   ParamTuneMode = "random"
	ParamTuneModeBayesian ParamTuneMode = "bayesian"
)

// ParamTuneRun is the header row for one param-tune job.
type ParamTuneRun struct {
	ID           string
	JobID        string
	UserID       string
	SuiteID      string
	ExperimentID *string
	Mode         ParamTuneMode
	Status       RunStatus
	CreatedAt    time.Time
}

// ParamTuneCombo is one tried parameter combination for one target.
type ParamTuneCombo struct {
	ID            string
	TuneRunID     string
	ComboIndex    int
	ProviderKey   string
	ModelID       string
	ConfigJSON    string
	AdjustmentsJSON string
	AccuracyAvg   float64
	LatencyAvgMs  float64
	EvalRunID     *string
}
