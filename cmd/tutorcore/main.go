// Command tutorcore is the main entry point for the AI tutoring backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/professorai/tutorcore/internal/app"
	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/health"
	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/ingestion"
	"github.com/professorai/tutorcore/internal/jobqueue"
	"github.com/professorai/tutorcore/internal/mcp/mcphost"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/internal/orchestrator"
	"github.com/professorai/tutorcore/internal/retrieval"
	"github.com/professorai/tutorcore/internal/router"
	"github.com/professorai/tutorcore/internal/transcript"
	"github.com/professorai/tutorcore/internal/transcript/llmcorrect"
	"github.com/professorai/tutorcore/internal/transcript/phonetic"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "tutorcore: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "tutorcore: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("tutorcore starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Observability ─────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "tutorcore",
	})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("otel shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to build metrics instruments", "err", err)
		return 1
	}

	// ── Provider registry ──────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application wiring ─────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Semantic router (C5) ───────────────────────────────────────────────
	rtr := router.New(providers.Embeddings, cfg.Router, metrics)
	if providers.Embeddings != nil {
		if err := rtr.Initialize(ctx); err != nil {
			slog.Warn("router: failed to embed reference utterances, falling back to keyword rules only", "err", err)
		}
	} else {
		slog.Warn("no embeddings provider configured; semantic router will rely on keyword rules only")
	}

	// ── Hybrid retriever (C6) and hot-context assembler ────────────────────
	var retriever hotctx.Retriever
	textStore, ok := application.VectorStore().(retrieval.VectorTextStore)
	if ok && providers.Embeddings != nil {
		retriever = retrieval.New(providers.Embeddings, textStore, metrics)
	} else {
		slog.Warn("retrieval disabled: vector store does not support full-text search or no embeddings provider is configured")
	}
	assembler := application.NewAssembler(retriever)

	// ── MCP tool host: register the course-search built-in ─────────────────
	host, ok := application.MCPHost().(*mcphost.Host)
	if ok && retriever != nil {
		if err := host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition:  orchestrator.SearchCourseContentTool,
			Handler:     courseSearchHandler(retriever),
			DeclaredP50: 300,
			DeclaredMax: 2000,
		}); err != nil {
			slog.Error("failed to register search_course_content tool", "err", err)
			return 1
		}
	}

	// ── Chat orchestrator (C7) ──────────────────────────────────────────────
	var orchOpts []orchestrator.Option
	if application.MCPHost() != nil {
		orchOpts = append(orchOpts, orchestrator.WithMCPHost(application.MCPHost()))
	}
	orch := orchestrator.New(rtr, assembler, providers.LLM, application.SessionStore(), metrics, orchOpts...)

	// ── Voice transcript correction pipeline ─────────────────────────────────
	// Corrects STT misrecognition of course-specific vocabulary (instructor
	// terms, course titles) using fast phonetic matching and, when an LLM is
	// configured, a second LLM-assisted pass for low-confidence spans.
	var corrector transcript.Pipeline
	pipelineOpts := []transcript.PipelineOption{transcript.WithPhoneticMatcher(phonetic.New())}
	if providers.LLM != nil {
		pipelineOpts = append(pipelineOpts, transcript.WithLLMCorrector(llmcorrect.New(providers.LLM)))
	}
	corrector = transcript.NewPipeline(pipelineOpts...)

	// ── Background job queue (C11) ──────────────────────────────────────────
	jobs := jobqueue.New(cfg.JobQueue, metrics)

	// ── PDF ingestion pipeline (C12) ────────────────────────────────────────
	var pipeline *ingestion.Pipeline
	if providers.Embeddings != nil && providers.LLM != nil {
		pipeline = ingestion.New(cfg.Ingestion, providers.Embeddings, application.VectorStore(), application.CourseStore(), providers.LLM, metrics)
	} else {
		slog.Warn("course ingestion disabled: requires both an llm and an embeddings provider")
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	healthHandler := health.New(
		health.Checker{Name: "vector_store", Check: func(ctx context.Context) error {
			_, err := application.VectorStore().Count(ctx)
			return err
		}},
	)

	d := &deps{
		app:       application,
		orch:      orch,
		jobs:      jobs,
		ingest:    pipeline,
		corrector: corrector,
		voiceCfg:  cfg.Voice,
		metrics:   metrics,
	}
	mux := newMux(d, healthHandler)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		if err != nil {
			slog.Error("http server error", "err", err)
		}
	}

	// ── Graceful shutdown ────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}
	if err := jobs.Close(); err != nil {
		slog.Warn("job queue shutdown error", "err", err)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("application shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ───────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
