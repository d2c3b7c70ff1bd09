// Package server wires the HTTP/WebSocket surface (spec §6) on top of the
// store, registry, and handlers packages. One thin echo handler per verb,
// grouped one file per resource, following tarsy's pkg/api convention.
//
// Grounded on tarsy's pkg/api/server.go composition-root pattern: a Server
// struct holding every collaborator, a single NewServer constructor, and
// setupRoutes registering the full route table in one place.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/auth"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/experiment"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/ratepolicy"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/wshub"
)

// Server is the HTTP API server (spec §6).
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store      *store.Store
	registry   *registry.Registry
	hub        *wshub.Hub
	policy     *ratepolicy.Policy
	jwtSvc     *auth.JWTService
	experiment *experiment.Coordinator

	defaultJudgeModel string
}

// Deps bundles every collaborator NewServer needs.
type Deps struct {
	Store             *store.Store
	Registry          *registry.Registry
	Hub               *wshub.Hub
	Policy            *ratepolicy.Policy
	JWTService        *auth.JWTService
	DefaultJudgeModel string
}

// NewServer builds the API server and registers every route.
func NewServer(d Deps) *Server {
	e := echo.New()
	s := &Server{
		echo:              e,
		store:             d.Store,
		registry:          d.Registry,
		hub:               d.Hub,
		policy:            d.Policy,
		jwtSvc:            d.JWTService,
		experiment:        experiment.New(d.Store),
		defaultJudgeModel: d.DefaultJudgeModel,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(4 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")

	// Unauthenticated auth endpoints.
	v1.POST("/auth/register", s.registerHandler)
	v1.POST("/auth/login", s.loginHandler)
	v1.POST("/auth/refresh", s.refreshHandler)
	v1.POST("/auth/forgot-password", s.forgotPasswordHandler)
	v1.POST("/auth/reset-password", s.resetPasswordHandler)

	// WebSocket: auth is performed inside wsHandler via ?token= query param
	// because browsers cannot set an Authorization header on an upgrade
	// request.
	v1.GET("/ws", s.wsHandler)

	authed := v1.Group("", requireAuth(s.jwtSvc))

	authed.POST("/auth/logout", s.logoutHandler)
	authed.GET("/auth/me", s.meHandler)
	authed.POST("/auth/onboarding-complete", s.completeOnboardingHandler)
	authed.POST("/auth/leaderboard-opt-in", s.setLeaderboardOptInHandler)

	// Job submission, one route per job type (spec §4.6), plus the shared
	// list/get/cancel surface (spec §4.4).
	authed.POST("/jobs/benchmark", s.submitJobHandler("benchmark"))
	authed.POST("/jobs/tool-eval", s.submitJobHandler("tool_eval"))
	authed.POST("/jobs/param-tune", s.submitJobHandler("param_tune"))
	authed.POST("/jobs/prompt-tune", s.submitJobHandler("prompt_tune"))
	authed.POST("/jobs/judge", s.submitJobHandler("judge"))
	authed.POST("/jobs/judge-compare", s.submitJobHandler("judge_compare"))
	authed.GET("/jobs", s.listJobsHandler)
	authed.GET("/jobs/:id", s.getJobHandler)
	authed.POST("/jobs/:id/cancel", s.cancelJobHandler)

	// History / result retrieval (spec §4.6 result shapes).
	authed.GET("/history/benchmarks/:id", s.getBenchmarkResultHandler)
	authed.GET("/history/tool-evals/:id", s.getToolEvalResultHandler)
	authed.GET("/history/param-tunes/:id", s.getParamTuneResultHandler)
	authed.GET("/history/prompt-tunes/:id", s.getPromptTuneResultHandler)
	authed.GET("/history/judge-reports/:id", s.getJudgeReportHandler)
	authed.GET("/history/judge-reports/:id/chain", s.getJudgeReportChainHandler)

	// Config surface: providers/models/suites/rate overrides.
	authed.GET("/config/providers", s.listProvidersHandler)
	authed.PUT("/config/providers", s.upsertProviderHandler)
	authed.PUT("/config/models", s.upsertModelHandler)
	authed.GET("/config/profiles", s.listModelProfilesHandler)
	authed.PUT("/config/profiles", s.saveModelProfileHandler)
	authed.GET("/config/prompt-versions", s.listPromptVersionsHandler)
	authed.PUT("/config/prompt-versions", s.savePromptVersionHandler)
	authed.GET("/config/judge-settings", s.getJudgeSettingsHandler)
	authed.PUT("/config/judge-settings", s.setJudgeSettingsHandler)
	authed.GET("/tool-suites", s.listToolSuitesHandler)
	authed.POST("/tool-suites", s.createToolSuiteHandler)

	// Experiments (spec §4.7).
	authed.POST("/experiments", s.createExperimentHandler)
	authed.GET("/experiments", s.listExperimentsHandler)
	authed.GET("/experiments/:id", s.getExperimentHandler)
	authed.POST("/experiments/:id/pin-baseline", s.pinBaselineHandler)
	authed.GET("/experiments/:id/timeline", s.experimentTimelineHandler)

	// Leaderboard: public read, opt-in write already covered by
	// /auth/leaderboard-opt-in above.
	v1.GET("/leaderboard", s.leaderboardHandler)

	admin := authed.Group("/admin", requireAdmin())
	admin.PUT("/rate-limits/:user_id", s.setRateLimitOverrideHandler)
	admin.POST("/jobs/:id/cancel", s.adminCancelJobHandler)
}

// Start runs the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// StartWithListener serves on a pre-created listener, for tests that need a
// random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := s.store.DB().PingContext(reqCtx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
