package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
)

// jobTypeFromKey maps the route's job-type key to the durable enum.
var jobTypeFromKey = map[string]models.JobType{
	"benchmark":     models.JobTypeBenchmark,
	"tool_eval":     models.JobTypeToolEval,
	"param_tune":    models.JobTypeParamTune,
	"prompt_tune":   models.JobTypePromptTune,
	"judge":         models.JobTypeJudge,
	"judge_compare": models.JobTypeJudgeCompare,
}

type submitJobRequest struct {
	TimeoutSeconds int             `json:"timeout_seconds,omitempty"`
	Params         json.RawMessage `json:"params"`
}

// submitJobHandler builds a POST /jobs/<type> handler: it checks the hourly
// submission quota (spec §4.3 — enforced by the caller, not the registry),
// then hands the raw params straight to the registry, which resolves the
// concurrency quota itself under its own mutex.
func (s *Server) submitJobHandler(jobTypeKey string) echo.HandlerFunc {
	jobType := jobTypeFromKey[jobTypeKey]
	return func(c *echo.Context) error {
		userID := userIDFromContext(c)
		ctx := c.Request().Context()

		var req submitJobRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if len(req.Params) == 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "params is required")
		}

		allowed, err := s.policy.AllowHourly(ctx, userID, time.Now().UTC())
		if err != nil {
			return mapServiceError(err)
		}
		if !allowed {
			return mapServiceError(models.ErrQuotaExceeded)
		}

		job, err := s.registry.Submit(ctx, userID, jobType, req.Params, req.TimeoutSeconds, "")
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusAccepted, job)
	}
}

func (s *Server) listJobsHandler(c *echo.Context) error {
	userID := userIDFromContext(c)
	ctx := c.Request().Context()

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	var statusFilter *models.JobStatus
	if v := c.QueryParam("status"); v != "" {
		st := models.JobStatus(v)
		statusFilter = &st
	}

	jobs, err := s.store.Jobs().ListForUser(ctx, userID, statusFilter, limit)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, jobs)
}

func (s *Server) getJobHandler(c *echo.Context) error {
	job, err := s.store.Jobs().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if job.UserID != userIDFromContext(c) && roleFromContext(c) != models.RoleAdmin {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJobHandler(c *echo.Context) error {
	userID := userIDFromContext(c)
	wasOrphan, err := s.registry.Cancel(c.Request().Context(), c.Param("id"), userID, false)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "was_orphan": wasOrphan})
}

// adminCancelJobHandler bypasses the ownership check (spec §4.4: "admin
// bypasses the ownership check").
func (s *Server) adminCancelJobHandler(c *echo.Context) error {
	wasOrphan, err := s.registry.Cancel(c.Request().Context(), c.Param("id"), userIDFromContext(c), true)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "was_orphan": wasOrphan})
}
