package models

import "time"

// ParamScoring is the closed set of parameter-comparison strategies.
type ParamScoring string

const (
	ParamScoringExact    ParamScoring = "exact"
	ParamScoringFuzzy    ParamScoring = "fuzzy"
	ParamScoringContains ParamScoring = "contains"
	ParamScoringSemantic ParamScoring = "semantic"
)

// ToolSuite groups tool definitions and test cases a model is evaluated against.
type ToolSuite struct {
	ID          string
	UserID      string
	Name        string
	Description string
	CreatedAt   time.Time
}

// ToolDefinition is one callable tool in a suite, ordered by SortOrder.
type ToolDefinition struct {
	ID          string
	SuiteID     string
	Name        string
	Description string
	ParamsJSON  string // JSON schema for the tool's parameters
	SortOrder   int
}

// ToolTestCase is one scripted interaction a suite evaluates.
type ToolTestCase struct {
	ID                  string
	SuiteID             string
	Prompt              string
	ExpectedTool        []string // list-expected means any-of
	ExpectedParamsJSON  string
	ParamScoring        ParamScoring
	MultiTurnConfigJSON string
	ScoringConfigJSON   string
	ShouldCallTool      bool
	Category            string
}

// ToolEvalRun is the header row for one tool-eval job.
type ToolEvalRun struct {
	ID           string
	JobID        string
	UserID       string
	SuiteID      string
	ExperimentID *string
	CreatedAt    time.Time
}

// CaseResult is the outcome of one (test_case, model) pairing.
type CaseResult struct {
	ID                string
	RunID             string
	TestCaseID        string
	ProviderKey       string
	ModelID           string
	ToolSelectionScore float64
	ParamAccuracy     *float64
	OverallScore      float64
	IrrelevanceScore  float64
	ActualTool        string
	ActualParamsJSON  string
	Success           bool
	Error             string
	LatencyMs         int
	RawRequest        string
	RawResponse       string

	// Multi-turn extras.
	CompletionScore  *float64
	EfficiencyScore  *float64
	RedundancyPenalty *float64
	DetourPenalty    *float64
	ToolChainJSON    string
}
