package server

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
)

type createExperimentRequest struct {
	SuiteID string `json:"suite_id"`
	Name    string `json:"name"`
}

func (s *Server) createExperimentHandler(c *echo.Context) error {
	var req createExperimentRequest
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return mapServiceError(models.NewValidationError("name", "name is required"))
	}
	exp := models.Experiment{
		ID:        store.NewID(),
		UserID:    userIDFromContext(c),
		SuiteID:   req.SuiteID,
		Name:      req.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Experiments().Create(c.Request().Context(), exp); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, exp)
}

func (s *Server) listExperimentsHandler(c *echo.Context) error {
	experiments, err := s.store.Experiments().ListForUser(c.Request().Context(), userIDFromContext(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, experiments)
}

func (s *Server) getExperimentHandler(c *echo.Context) error {
	exp, err := s.store.Experiments().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exp)
}

type pinBaselineRequest struct {
	EvalRunID string  `json:"eval_run_id"`
	Score     float64 `json:"score"`
}

func (s *Server) pinBaselineHandler(c *echo.Context) error {
	var req pinBaselineRequest
	if err := c.Bind(&req); err != nil || req.EvalRunID == "" {
		return mapServiceError(models.NewValidationError("eval_run_id", "eval_run_id is required"))
	}
	ctx := c.Request().Context()
	exp, err := s.store.Experiments().Get(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if err := s.experiment.PinBaseline(ctx, *exp, req.EvalRunID, req.Score); err != nil {
		return mapServiceError(err)
	}
	exp, err = s.store.Experiments().Get(ctx, exp.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, exp)
}

func (s *Server) experimentTimelineHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	exp, err := s.store.Experiments().Get(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	timeline, err := s.experiment.Timeline(ctx, *exp)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, timeline)
}
