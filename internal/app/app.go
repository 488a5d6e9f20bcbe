// Package app wires the shared tutoring-backend subsystems into a running
// application.
//
// The App struct owns the process-wide subsystems described in the
// concurrency model: the session/message store and vector store (C4/C2),
// the course store, and the MCP tool host. Hot-context assemblers for RAG
// prompts are built on demand over the shared session store by
// [App.NewAssembler]. Per-connection state — a voice session's STT/TTS/mixer pipeline —
// is NOT owned by App; it is created per WebSocket connection by the voice
// session controller, which borrows the shared subsystems exposed here.
//
// New creates and connects all subsystems; Shutdown tears them down in
// reverse order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/mcp"
	"github.com/professorai/tutorcore/internal/mcp/mcphost"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/memory/postgres"
	"github.com/professorai/tutorcore/pkg/provider/embeddings"
	"github.com/professorai/tutorcore/pkg/provider/llm"
	"github.com/professorai/tutorcore/pkg/provider/stt"
	"github.com/professorai/tutorcore/pkg/provider/tts"
	"github.com/professorai/tutorcore/pkg/provider/vad"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
}

// App owns the subsystems shared by every concurrent student session: the
// durable session/message store, the vector store, the course store, and the
// MCP tool host. It does not run a processing loop of its own —
// each accepted WebSocket connection drives its own voice session controller
// against these shared subsystems.
type App struct {
	cfg       *config.Config
	providers *Providers

	mcpHost  mcp.Host
	sessions memory.SessionStore
	vectors  memory.VectorStore
	courses  memory.CourseStore

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionStore injects a session store instead of creating one from config.
func WithSessionStore(s memory.SessionStore) Option {
	return func(a *App) { a.sessions = s }
}

// WithVectorStore injects a vector store instead of creating one from config.
func WithVectorStore(v memory.VectorStore) Option {
	return func(a *App) { a.vectors = v }
}

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// WithCourseStore injects a course store instead of creating one from config.
func WithCourseStore(c memory.CourseStore) Option {
	return func(a *App) { a.courses = c }
}

// New creates an App by wiring all shared subsystems together. The providers
// struct comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: memory store connection and
// MCP server registration + calibration.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initMemory(ctx); err != nil {
		return nil, fmt.Errorf("app: init memory: %w", err)
	}

	if err := a.initMCP(ctx); err != nil {
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}

	return a, nil
}

// NewAssembler builds a hot-context prompt assembler over this App's shared
// session store and the given retriever (C6). The retriever is supplied by
// the caller rather than owned by App because the hybrid retriever is wired
// per chat-orchestrator instance, not as a process-wide singleton.
func (a *App) NewAssembler(retriever hotctx.Retriever, opts ...hotctx.Option) *hotctx.Assembler {
	return hotctx.NewAssembler(a.sessions, retriever, opts...)
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMemory sets up the PostgreSQL-backed session, vector and course stores,
// unless all three were injected via options.
func (a *App) initMemory(ctx context.Context) error {
	if a.sessions != nil && a.vectors != nil && a.courses != nil {
		return nil // all injected
	}

	dsn := a.cfg.Memory.PostgresDSN
	if dsn == "" {
		return fmt.Errorf("memory.postgres_dsn is required when memory stores are not injected")
	}

	dims := a.cfg.Memory.EmbeddingDimensions
	if dims == 0 {
		dims = 1536 // sensible default for OpenAI text-embedding-3-small
	}

	store, err := postgres.NewStore(ctx, dsn, dims)
	if err != nil {
		return err
	}

	if a.sessions == nil {
		a.sessions = store.Sessions()
	}
	if a.vectors == nil {
		a.vectors = store.Vectors()
	}
	if a.courses == nil {
		a.courses = store.Courses()
	}

	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

// initMCP sets up the MCP host, registers servers, and calibrates.
func (a *App) initMCP(ctx context.Context) error {
	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}
	a.closers = append(a.closers, a.mcpHost.Close)

	for _, srv := range a.cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: srv.Transport,
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	if err := a.mcpHost.Calibrate(ctx); err != nil {
		slog.Warn("MCP calibration failed, using declared latencies", "err", err)
	}

	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// SessionStore returns the shared session/message store (C4).
func (a *App) SessionStore() memory.SessionStore { return a.sessions }

// VectorStore returns the shared vector store (C2).
func (a *App) VectorStore() memory.VectorStore { return a.vectors }

// CourseStore returns the shared course store used by the PDF ingestion
// pipeline (C12).
func (a *App) CourseStore() memory.CourseStore { return a.courses }

// MCPHost returns the MCP tool host. New creates an empty host when none is
// injected, so this is non-nil even if no MCP servers are configured.
func (a *App) MCPHost() mcp.Host { return a.mcpHost }

// Providers returns the configured provider set.
func (a *App) Providers() *Providers { return a.providers }

// Config returns the application configuration.
func (a *App) Config() *config.Config { return a.cfg }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
