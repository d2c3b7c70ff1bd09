package server

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

func (s *Server) getBenchmarkResultHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.Benchmarks().GetRun(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	results, err := s.store.Benchmarks().ResultsForRun(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "results": results})
}

func (s *Server) getToolEvalResultHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.ToolEval().GetEvalRun(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	results, err := s.store.ToolEval().ResultsForRun(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "results": results})
}

func (s *Server) getParamTuneResultHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.ParamTune().GetRun(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	combos, err := s.store.ParamTune().CombosForRun(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	best, err := s.store.ParamTune().BestCombo(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "combos": combos, "best": best})
}

func (s *Server) getPromptTuneResultHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	run, err := s.store.PromptTune().GetRun(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	generations, err := s.store.PromptTune().GenerationsForRun(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	best, err := s.store.PromptTune().BestCandidateOverall(ctx, run.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"run": run, "generations": generations, "best": best})
}

func (s *Server) getJudgeReportHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	report, err := s.store.Judge().GetReport(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	verdicts, err := s.store.Judge().VerdictsForReport(ctx, report.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"report": report, "verdicts": verdicts})
}

func (s *Server) getJudgeReportChainHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	report, err := s.store.Judge().GetReport(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	chain, err := s.store.Judge().ChainForReport(ctx, report.ID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, chain)
}
