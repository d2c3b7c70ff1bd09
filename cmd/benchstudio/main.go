// Command benchstudio is the LLM Benchmark Studio server: it wires the
// store, rate policy, job registry, WebSocket hub, and HTTP API together and
// serves them until terminated.
//
// Grounded on tarsy's cmd/tarsy/main.go composition-root shape (flag for a
// config path, structured startup logging, ordered dependency wiring,
// graceful shutdown on signal), adapted from tarsy's Gin/Postgres stack to
// this system's echo/SQLite stack.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/auth"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/config"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/handlers"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/llmshim/faketransport"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/models"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/ratepolicy"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/registry"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/server"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/store"
	"github.com/Maheidem/llm-benchmark-studio-sub000/internal/wshub"
)

func main() {
	configPath := flag.String("config", os.Getenv("BENCHSTUDIO_CONFIG"), "path to config YAML (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("benchstudio exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	secret := cfg.JWTSecret()
	if secret == "" {
		return errors.New("JWT secret is empty; set " + cfg.JWTSecretEnv)
	}

	slog.Info("starting benchstudio", "addr", cfg.Addr, "db_path", cfg.DBPath)

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reconcile(ctx); err != nil {
		return err
	}

	policy := ratepolicy.New(st.Jobs(), st.Users())

	// reg and hub are mutually referential (hub delivers client `cancel`
	// frames to the registry; the registry pushes job_* events through the
	// hub), so reg is declared before hub and captured by its closure, then
	// assigned once both exist.
	var reg *registry.Registry
	hub := wshub.New(
		func(ctx context.Context, userID, jobID string) error {
			_, err := reg.Cancel(ctx, jobID, userID, false)
			return err
		},
		func(ctx context.Context, userID string) (active, recent []wshub.JobSnapshot, err error) {
			activeJobs, recentJobs, err := st.Jobs().ActiveAndRecentForUser(ctx, userID, wshub.RecentTerminalLimit)
			if err != nil {
				return nil, nil, err
			}
			return toSnapshots(activeJobs), toSnapshots(recentJobs), nil
		},
	)

	reg = registry.New(st, hub, func(ctx context.Context, userID string) int {
		limits, err := policy.ResolveLimits(ctx, userID)
		if err != nil {
			return ratepolicy.DefaultMaxConcurrent
		}
		return limits.MaxConcurrent
	})

	deps := &handlers.Deps{
		Store: st,
		Hub:   hub,
		Completer: func(handlers.ResolvedTarget) llmshim.Completer {
			// Real network transport is out of scope for this port (spec
			// §1); faketransport keeps the six handlers' control flow,
			// persistence, and WS fan-out fully exercised without a
			// production LiteLLM gateway client.
			return &faketransport.Transport{
				StreamChunks: []llmshim.Chunk{{ContentDelta: "ok"}},
				CallResponse: &llmshim.Response{Content: "ok"},
			}
		},
	}
	reg.RegisterHandler(models.JobTypeBenchmark, deps.Benchmark)
	reg.RegisterHandler(models.JobTypeToolEval, deps.ToolEval)
	reg.RegisterHandler(models.JobTypeParamTune, deps.ParamTune)
	reg.RegisterHandler(models.JobTypePromptTune, deps.PromptTune)
	reg.RegisterHandler(models.JobTypeJudge, deps.Judge)
	reg.RegisterHandler(models.JobTypeJudgeCompare, deps.JudgeCompare)
	reg.Start(ctx)

	srv := server.NewServer(server.Deps{
		Store:             st,
		Registry:          reg,
		Hub:               hub,
		Policy:            policy,
		JWTService:        auth.NewJWTService(secret),
		DefaultJudgeModel: cfg.JudgeDefaults.Model,
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.StartWithListener(ln) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down benchstudio")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	reg.Shutdown(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}

func toSnapshots(jobs []models.Job) []wshub.JobSnapshot {
	out := make([]wshub.JobSnapshot, 0, len(jobs))
	for _, j := range jobs {
		resultRef := ""
		if j.ResultRef != nil {
			resultRef = *j.ResultRef
		}
		out = append(out, wshub.JobSnapshot{
			ID:             j.ID,
			JobType:        string(j.JobType),
			Status:         string(j.Status),
			ProgressPct:    j.ProgressPct,
			ProgressDetail: j.ProgressDetail,
			ResultRef:      resultRef,
		})
	}
	return out
}
