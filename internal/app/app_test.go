package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/professorai/tutorcore/internal/app"
	"github.com/professorai/tutorcore/internal/config"
	mcpmock "github.com/professorai/tutorcore/internal/mcp/mock"
	"github.com/professorai/tutorcore/pkg/memory"
	memorymock "github.com/professorai/tutorcore/pkg/memory/mock"
	llmmock "github.com/professorai/tutorcore/pkg/provider/llm/mock"
	ttsmock "github.com/professorai/tutorcore/pkg/provider/tts/mock"
)

// testConfig returns a minimal config for tests.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogLevelInfo,
		},
		Memory: config.MemoryConfig{
			PostgresDSN: "postgres://ignored/in-test",
		},
	}
}

// stubCourses is a no-op memory.CourseStore, injected so that New does not
// open a PostgreSQL store for the course tree.
type stubCourses struct{}

func (stubCourses) CreateCourse(context.Context, memory.Course) (int, error) { return 0, nil }
func (stubCourses) DeleteCourse(context.Context, int) error                  { return nil }
func (stubCourses) GetCourse(context.Context, int) (*memory.Course, error)   { return nil, nil }

// testProviders returns providers with mock LLM/TTS.
func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	sessions := &memorymock.SessionStore{}
	vectors := &memorymock.VectorStore{}
	mcpHost := &mcpmock.Host{}

	application, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithSessionStore(sessions),
		app.WithVectorStore(vectors),
		app.WithCourseStore(stubCourses{}),
		app.WithMCPHost(mcpHost),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}

	// MCP host should have been calibrated during New().
	if got := mcpHost.CallCount("Calibrate"); got != 1 {
		t.Errorf("Calibrate call count = %d, want 1", got)
	}
}

func TestNew_RequiresMemoryWhenNotInjected(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Memory.PostgresDSN = ""
	providers := testProviders()
	mcpHost := &mcpmock.Host{}

	_, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithMCPHost(mcpHost),
	)
	if err == nil {
		t.Fatal("expected error when neither memory stores nor postgres_dsn are supplied")
	}
}

func TestApp_Accessors(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	sessions := &memorymock.SessionStore{}
	vectors := &memorymock.VectorStore{}
	mcpHost := &mcpmock.Host{}

	application, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithSessionStore(sessions),
		app.WithVectorStore(vectors),
		app.WithCourseStore(stubCourses{}),
		app.WithMCPHost(mcpHost),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if application.SessionStore() != sessions {
		t.Error("SessionStore() did not return the injected store")
	}
	if application.VectorStore() != vectors {
		t.Error("VectorStore() did not return the injected store")
	}
	if application.MCPHost() != mcpHost {
		t.Error("MCPHost() did not return the injected host")
	}
	if application.Config() != cfg {
		t.Error("Config() did not return the supplied config")
	}
	if application.Providers() != providers {
		t.Error("Providers() did not return the supplied providers")
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	sessions := &memorymock.SessionStore{}
	vectors := &memorymock.VectorStore{}
	mcpHost := &mcpmock.Host{}

	application, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithSessionStore(sessions),
		app.WithVectorStore(vectors),
		app.WithCourseStore(stubCourses{}),
		app.WithMCPHost(mcpHost),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// MCP host Close should have been called during shutdown.
	if got := mcpHost.CallCount("Close"); got != 1 {
		t.Errorf("MCP Host Close call count = %d, want 1", got)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	providers := testProviders()
	sessions := &memorymock.SessionStore{}
	vectors := &memorymock.VectorStore{}
	mcpHost := &mcpmock.Host{}

	application, err := app.New(
		context.Background(),
		cfg,
		providers,
		app.WithSessionStore(sessions),
		app.WithVectorStore(vectors),
		app.WithCourseStore(stubCourses{}),
		app.WithMCPHost(mcpHost),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
	if got := mcpHost.CallCount("Close"); got != 1 {
		t.Errorf("MCP Host Close call count = %d, want 1 (Shutdown must be idempotent)", got)
	}
}
