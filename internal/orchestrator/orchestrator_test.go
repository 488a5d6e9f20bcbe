package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/mcp"
	"github.com/professorai/tutorcore/internal/router"
	"github.com/professorai/tutorcore/pkg/memory"
	memmock "github.com/professorai/tutorcore/pkg/memory/mock"
	"github.com/professorai/tutorcore/pkg/provider/llm"
	"github.com/professorai/tutorcore/pkg/types"
)

// sequencedLLM is a fake llm.Provider that returns a different response on
// each successive Complete call, needed to test the two-round tool-calling
// path (mock.Provider only supports one fixed response).
type sequencedLLM struct {
	responses []*llm.CompletionResponse
	errs      []error
	calls     []llm.CompletionRequest
	i         int
}

func (s *sequencedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls = append(s.calls, req)
	idx := s.i
	s.i++
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	if idx < len(s.responses) {
		return s.responses[idx], err
	}
	return &llm.CompletionResponse{}, err
}

func (s *sequencedLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}
func (s *sequencedLLM) CountTokens(messages []types.Message) (int, error) { return 0, nil }
func (s *sequencedLLM) Capabilities() types.ModelCapabilities             { return types.ModelCapabilities{} }

var _ llm.Provider = (*sequencedLLM)(nil)

// fakeRetriever returns a fixed chunk list regardless of query.
type fakeRetriever struct {
	results []memory.ChunkResult
	err     error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, courseID int) ([]memory.ChunkResult, error) {
	return f.results, f.err
}

var _ hotctx.Retriever = (*fakeRetriever)(nil)

// fakeHost is a minimal mcp.Host double for tool-round tests.
type fakeHost struct {
	toolResult *mcp.ToolResult
	toolErr    error
	executed   []string
}

func (f *fakeHost) RegisterServer(ctx context.Context, cfg mcp.ServerConfig) error { return nil }
func (f *fakeHost) AvailableTools(tier mcp.BudgetTier) []types.ToolDefinition      { return nil }
func (f *fakeHost) ExecuteTool(ctx context.Context, name, args string) (*mcp.ToolResult, error) {
	f.executed = append(f.executed, name)
	return f.toolResult, f.toolErr
}
func (f *fakeHost) Calibrate(ctx context.Context) error { return nil }
func (f *fakeHost) Close() error                        { return nil }

var _ mcp.Host = (*fakeHost)(nil)

func newTestOrchestrator(t *testing.T, llmClient llm.Provider, retriever hotctx.Retriever, sessions *memmock.SessionStore, opts ...Option) *Orchestrator {
	t.Helper()
	rtr := router.New(nil, config.RouterConfig{}, nil)
	assembler := hotctx.NewAssembler(sessions, retriever)
	return New(rtr, assembler, llmClient, sessions, nil, opts...)
}

func TestAsk_Greeting_NoLLMCall(t *testing.T) {
	sessions := &memmock.SessionStore{}
	llmClient := &sequencedLLM{}
	o := newTestOrchestrator(t, llmClient, nil, sessions)

	ans, err := o.Ask(context.Background(), Request{UserID: "u1", SessionID: "s1", Query: "hi", Language: "en"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Route != string(router.RouteGreeting) {
		t.Fatalf("route = %q, want greeting", ans.Route)
	}
	if len(llmClient.calls) != 0 {
		t.Errorf("expected no LLM calls for a greeting, got %d", len(llmClient.calls))
	}
	if sessions.CallCount("AppendMessage") != 2 {
		t.Errorf("expected 2 AppendMessage calls (user+assistant), got %d", sessions.CallCount("AppendMessage"))
	}
}

func TestAsk_CourseRAG_HappyPath(t *testing.T) {
	sessions := &memmock.SessionStore{}
	retriever := &fakeRetriever{results: []memory.ChunkResult{
		{Chunk: memory.ChunkRecord{ID: "c1", CourseID: 5, Title: "Intro", Content: "Course content about derivatives and limits in depth."}},
	}}
	llmClient := &sequencedLLM{responses: []*llm.CompletionResponse{
		{Content: "A derivative measures the rate of change of a function at a point."},
	}}
	o := newTestOrchestrator(t, llmClient, retriever, sessions)

	ans, err := o.Ask(context.Background(), Request{
		UserID: "u1", SessionID: "s1", Query: "what does the course say about derivatives",
		Course: hotctx.CourseDetails{ID: 5, Name: "Calculus I"},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Route != string(router.RouteCourse) {
		t.Fatalf("route = %q, want course", ans.Route)
	}
	if len(ans.Sources) != 1 || ans.Sources[0] != "Intro" {
		t.Errorf("sources = %v, want [Intro]", ans.Sources)
	}
	if len(llmClient.calls) != 1 {
		t.Errorf("expected exactly one completion round, got %d", len(llmClient.calls))
	}
}

func TestAsk_OffTopicWithCourseFilter_FallsBackToGeneral(t *testing.T) {
	sessions := &memmock.SessionStore{}
	llmClient := &sequencedLLM{responses: []*llm.CompletionResponse{
		{Content: "Today's weather depends on your location; I can't check that directly."},
	}}
	o := newTestOrchestrator(t, llmClient, &fakeRetriever{}, sessions)

	ans, err := o.Ask(context.Background(), Request{
		UserID: "u1", SessionID: "s1", Query: "what's the weather like today",
		Course: hotctx.CourseDetails{ID: 5, Name: "Calculus I"},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Route != string(router.RouteGeneral) {
		t.Fatalf("route = %q, want general", ans.Route)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("expected no sources for an off-topic answer, got %v", ans.Sources)
	}
}

func TestAsk_GarbageResponse_RecoversWithGeneralFallback(t *testing.T) {
	sessions := &memmock.SessionStore{}
	retriever := &fakeRetriever{results: []memory.ChunkResult{
		{Chunk: memory.ChunkRecord{ID: "c1", CourseID: 5, Title: "Intro", Content: "some content"}},
	}}
	llmClient := &sequencedLLM{responses: []*llm.CompletionResponse{
		{Content: strings.Repeat("a ", 200)}, // triggers the repeating-window rule
		{Content: "Here is a clean general-knowledge answer about your question."},
	}}
	o := newTestOrchestrator(t, llmClient, retriever, sessions)

	ans, err := o.Ask(context.Background(), Request{
		UserID: "u1", SessionID: "s1", Query: "what does the course say about module content",
		Course: hotctx.CourseDetails{ID: 5, Name: "Calculus I"},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(llmClient.calls) != 2 {
		t.Fatalf("expected a RAG call followed by a general fallback call, got %d calls", len(llmClient.calls))
	}
	if !strings.Contains(ans.Text, "clean general-knowledge answer") {
		t.Errorf("expected the fallback answer text, got %q", ans.Text)
	}
}

func TestAsk_ToolRound_ExecutesAndReturnsFinalAnswer(t *testing.T) {
	sessions := &memmock.SessionStore{}
	retriever := &fakeRetriever{}
	llmClient := &sequencedLLM{responses: []*llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "call1", Name: "search_course_content", Arguments: `{"query":"derivatives"}`}}},
		{Content: "Based on the additional search, a derivative is the instantaneous rate of change."},
	}}
	host := &fakeHost{toolResult: &mcp.ToolResult{Content: "relevant passage about derivatives"}}
	o := newTestOrchestrator(t, llmClient, retriever, sessions, WithMCPHost(host))

	ans, err := o.Ask(context.Background(), Request{
		UserID: "u1", SessionID: "s1", Query: "what does the course material say about module topics",
		Course: hotctx.CourseDetails{ID: 5, Name: "Calculus I"},
	})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(host.executed) != 1 || host.executed[0] != "search_course_content" {
		t.Fatalf("expected search_course_content to be executed, got %v", host.executed)
	}
	if len(llmClient.calls) != 2 {
		t.Fatalf("expected two completion rounds (tool call + final), got %d", len(llmClient.calls))
	}
	if !strings.Contains(ans.Text, "instantaneous rate of change") {
		t.Errorf("unexpected final answer: %q", ans.Text)
	}
}

func TestAsk_EmptyQueryRejected(t *testing.T) {
	sessions := &memmock.SessionStore{}
	o := newTestOrchestrator(t, &sequencedLLM{}, nil, sessions)

	if _, err := o.Ask(context.Background(), Request{UserID: "u1", SessionID: "s1", Query: "   "}); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if sessions.CallCount("AppendMessage") != 0 {
		t.Errorf("expected no message persisted for a rejected empty query")
	}
}

func TestNormalizeForSpeech(t *testing.T) {
	got := normalizeForSpeech("AI and ML are parts of this course, worth 50% of the grade.")
	for _, want := range []string{"Artificial Intelligence", "Machine Learning", "and", "percent"} {
		if !strings.Contains(got, want) {
			t.Errorf("normalizeForSpeech result %q missing %q", got, want)
		}
	}
}

func TestIsGarbage(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"too short", "hi", true},
		{"clean", "A derivative measures how a function's output changes as its input changes.", false},
		{"repeating window", strings.Repeat("the cat sat ", 25), true},
	}
	for _, tt := range tests {
		_, dirty := isGarbage(tt.text)
		if dirty != tt.want {
			t.Errorf("isGarbage(%s) = %v, want %v", tt.name, dirty, tt.want)
		}
	}
}
