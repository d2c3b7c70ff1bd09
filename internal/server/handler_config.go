package server

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

func (s *Server) listProvidersHandler(c *echo.Context) error {
	providers, err := s.store.Users().ListProvidersForUser(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, providers)
}

type upsertProviderRequest struct {
	Key     string `json:"key"`
	Family  string `json:"family"`
	APIBase string `json:"api_base"`
}

func (s *Server) upsertProviderHandler(c *echo.Context) error {
	var req upsertProviderRequest
	if err := c.Bind(&req); err != nil || req.Key == "" || req.Family == "" {
		return mapServiceError(models.NewValidationError("key", "key and family are required"))
	}
	p := models.Provider{
		ID:        store.NewID(),
		UserID:    userIDFromContext(c),
		Key:       req.Key,
		Family:    req.Family,
		APIBase:   req.APIBase,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Users().UpsertProvider(c.Request().Context(), p); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}

type upsertModelRequest struct {
	ProviderID      string   `json:"provider_id"`
	LitellmID       string   `json:"litellm_id"`
	ContextWindow   int      `json:"context_window"`
	MaxOutputTokens *int     `json:"max_output_tokens,omitempty"`
	SkipParams      []string `json:"skip_params,omitempty"`
	DisplayName     string   `json:"display_name"`
}

func (s *Server) upsertModelHandler(c *echo.Context) error {
	var req upsertModelRequest
	if err := c.Bind(&req); err != nil || req.ProviderID == "" || req.LitellmID == "" {
		return mapServiceError(models.NewValidationError("litellm_id", "provider_id and litellm_id are required"))
	}
	m := models.Model{
		ID:              store.NewID(),
		ProviderID:      req.ProviderID,
		LitellmID:       req.LitellmID,
		ContextWindow:   req.ContextWindow,
		MaxOutputTokens: req.MaxOutputTokens,
		SkipParams:      req.SkipParams,
		DisplayName:     req.DisplayName,
	}
	if err := s.store.Users().UpsertModel(c.Request().Context(), m); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) listModelProfilesHandler(c *echo.Context) error {
	profiles, err := s.store.Experiments().ListModelProfiles(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, profiles)
}

type saveModelProfileRequest struct {
	Name       string `json:"name"`
	ConfigJSON string `json:"config_json"`
}

func (s *Server) saveModelProfileHandler(c *echo.Context) error {
	var req saveModelProfileRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return mapServiceError(models.NewValidationError("name", "name is required"))
	}
	p := models.ModelProfile{ID: store.NewID(), UserID: userIDFromContext(c), Name: req.Name, ConfigJSON: req.ConfigJSON}
	if err := s.store.Experiments().SaveModelProfile(c.Request().Context(), p); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) listPromptVersionsHandler(c *echo.Context) error {
	versions, err := s.store.Experiments().ListPromptVersions(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, versions)
}

type savePromptVersionRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (s *Server) savePromptVersionHandler(c *echo.Context) error {
	var req savePromptVersionRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return mapServiceError(models.NewValidationError("name", "name is required"))
	}
	pv := models.PromptVersion{ID: store.NewID(), UserID: userIDFromContext(c), Name: req.Name, Text: req.Text}
	if err := s.store.Experiments().SavePromptVersion(c.Request().Context(), pv); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, pv)
}

func (s *Server) getJudgeSettingsHandler(c *echo.Context) error {
	settings, err := s.store.Users().GetJudgeSettings(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	if settings.DefaultJudgeModel == "" {
		settings.DefaultJudgeModel = s.defaultJudgeModel
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) setJudgeSettingsHandler(c *echo.Context) error {
	var settings models.UserJudgeSettings
	if err := c.Bind(&settings); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	settings.UserID = userIDFromContext(c)
	if err := s.store.Users().SetJudgeSettings(c.Request().Context(), settings); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

func (s *Server) listToolSuitesHandler(c *echo.Context) error {
	suites, err := s.store.ToolEval().ListSuitesForUser(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, suites)
}

type createToolSuiteRequest struct {
	Name            string                    `json:"name"`
	Description     string                    `json:"description"`
	ToolDefinitions []toolDefinitionInput      `json:"tool_definitions,omitempty"`
	TestCases       []testCaseInput            `json:"test_cases,omitempty"`
}

type toolDefinitionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ParamsJSON  string `json:"params_json"`
	SortOrder   int    `json:"sort_order"`
}

type testCaseInput struct {
	Prompt              string               `json:"prompt"`
	ExpectedTool        []string             `json:"expected_tool"`
	ExpectedParamsJSON  string               `json:"expected_params_json"`
	ParamScoring        models.ParamScoring  `json:"param_scoring"`
	MultiTurnConfigJSON string               `json:"multi_turn_config_json,omitempty"`
	ScoringConfigJSON   string               `json:"scoring_config_json,omitempty"`
	ShouldCallTool      bool                 `json:"should_call_tool"`
	Category            string               `json:"category,omitempty"`
}

// createToolSuiteHandler creates a suite and its nested tool
// definitions/test cases in one request, since a suite with neither is not
// useful to any of the six job handlers.
func (s *Server) createToolSuiteHandler(c *echo.Context) error {
	var req createToolSuiteRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return mapServiceError(models.NewValidationError("name", "name is required"))
	}
	ctx := c.Request().Context()
	suite := models.ToolSuite{
		ID:          store.NewID(),
		UserID:      userIDFromContext(c),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.ToolEval().CreateSuite(ctx, suite); err != nil {
		return mapServiceError(err)
	}
	for _, td := range req.ToolDefinitions {
		def := models.ToolDefinition{
			ID: store.NewID(), SuiteID: suite.ID, Name: td.Name,
			Description: td.Description, ParamsJSON: td.ParamsJSON, SortOrder: td.SortOrder,
		}
		if err := s.store.ToolEval().AddToolDefinition(ctx, def); err != nil {
			return mapServiceError(err)
		}
	}
	for _, tc := range req.TestCases {
		testCase := models.ToolTestCase{
			ID: store.NewID(), SuiteID: suite.ID, Prompt: tc.Prompt,
			ExpectedTool: tc.ExpectedTool, ExpectedParamsJSON: tc.ExpectedParamsJSON,
			ParamScoring: tc.ParamScoring, MultiTurnConfigJSON: tc.MultiTurnConfigJSON,
			ScoringConfigJSON: tc.ScoringConfigJSON, ShouldCallTool: tc.ShouldCallTool, Category: tc.Category,
		}
		if err := s.store.ToolEval().AddTestCase(ctx, testCase); err != nil {
			return mapServiceError(err)
		}
	}
	return c.JSON(http.StatusCreated, suite)
}

type setRateLimitOverrideRequest struct {
	BenchmarksPerHour *int `json:"benchmarks_per_hour,omitempty"`
	MaxConcurrent     *int `json:"max_concurrent,omitempty"`
}

func (s *Server) setRateLimitOverrideHandler(c *echo.Context) error {
	var req setRateLimitOverrideRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	override := models.RateLimitOverride{
		UserID:            c.Param("user_id"),
		BenchmarksPerHour: req.BenchmarksPerHour,
		MaxConcurrent:     req.MaxConcurrent,
	}
	if err := s.store.Users().SetRateLimitOverride(c.Request().Context(), override); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
