// Package orchestrator implements the chat orchestrator: the single
// component that owns every session side effect for a text turn. Given a
// user query it classifies the route, optionally retrieves course content,
// calls the LLM, validates the answer, and persists both sides of the
// exchange — on every path, including fallbacks.
//
// The orchestrator is deliberately the only place (besides the voice
// controller) that translates an internal failure into a user-facing
// message; every leaf client (embeddings, vector store, LLM) raises typed
// errors and never decides a fallback on its own.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/mcp"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/internal/router"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/provider/llm"
	"github.com/professorai/tutorcore/pkg/types"
)

// chatTimeout is the hard per-turn LLM budget. When exceeded, the
// orchestrator returns the canned "taking too long" apology rather than
// letting the caller hang indefinitely.
const chatTimeout = 60 * time.Second

// SearchCourseContentTool is the tool definition offered to the model on the
// course RAG path, alongside the already-composed prompt, so the model can
// pull in additional context beyond what was pre-retrieved.
var SearchCourseContentTool = types.ToolDefinition{
	Name:        "search_course_content",
	Description: "Search the current course's indexed material for passages relevant to a short query. Use this when the pre-supplied context does not cover the student's question.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "A short search query describing what to look up.",
			},
		},
		"required": []string{"query"},
	},
	EstimatedDurationMs: 300,
	MaxDurationMs:       2000,
	Idempotent:          true,
}

// Request carries everything needed to answer a single chat turn.
type Request struct {
	// UserID identifies the asking user.
	UserID string

	// SessionID identifies the conversation this turn belongs to.
	SessionID string

	// Query is the user's question, verbatim.
	Query string

	// Language is a BCP-47 tag used for canned-greeting localisation.
	Language string

	// Course is the currently selected course, if any. Course.ID == 0 means
	// no course is selected and retrieval is skipped regardless of route.
	Course hotctx.CourseDetails
}

// Answer is the orchestrator's response to a [Request].
type Answer struct {
	// Text is the reply to show (or speak) to the user.
	Text string

	// Route is the [router.Route] the query was classified into, or
	// "fallback" when the answer was produced by error-recovery rather than
	// the normal routed path.
	Route string

	// Confidence is the router's classification confidence. Zero on
	// fallback answers.
	Confidence float64

	// Sources lists the titles of any chunks consulted to produce Text.
	// Empty when retrieval was not used.
	Sources []string

	// SessionID echoes the request's session, for convenience.
	SessionID string
}

// ErrEmptyQuery is returned when Request.Query is empty or all whitespace.
var ErrEmptyQuery = fmt.Errorf("orchestrator: query must not be empty")

// Orchestrator answers chat turns by classifying, optionally retrieving, and
// calling the LLM, persisting both sides of the exchange along the way.
//
// An Orchestrator is safe for concurrent use provided its dependencies are.
type Orchestrator struct {
	router    *router.Router
	assembler *hotctx.Assembler
	llmClient llm.Provider
	sessions  memory.SessionStore
	mcpHost   mcp.Host
	metrics   *observe.Metrics

	toolTier mcp.BudgetTier
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMCPHost installs an MCP host so the RAG path can offer
// search_course_content as a tool. Without one, the orchestrator answers
// purely from the pre-assembled context.
func WithMCPHost(host mcp.Host) Option {
	return func(o *Orchestrator) { o.mcpHost = host }
}

// WithToolTier overrides the budget tier stored on the orchestrator.
// Defaults to [mcp.BudgetStandard]. The RAG path does not read it: it never
// lists the host's available tools and offers only search_course_content
// whenever an MCP host is installed.
func WithToolTier(tier mcp.BudgetTier) Option {
	return func(o *Orchestrator) { o.toolTier = tier }
}

// New creates an Orchestrator. rtr classifies routes, assembler composes the
// RAG prompt, llmClient answers, sessions persists both sides of every
// exchange. metrics may be nil.
func New(rtr *router.Router, assembler *hotctx.Assembler, llmClient llm.Provider, sessions memory.SessionStore, metrics *observe.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		router:    rtr,
		assembler: assembler,
		llmClient: llmClient,
		sessions:  sessions,
		metrics:   metrics,
		toolTier:  mcp.BudgetStandard,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ask answers a single chat turn, persisting the user message before any LLM
// call and the assistant's reply after, on every path including fallbacks.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()
	defer func() {
		if o.metrics != nil {
			o.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
		}
	}()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	if _, err := o.sessions.AppendMessage(ctx, req.UserID, req.SessionID, "user", query, "text", nil); err != nil {
		return nil, fmt.Errorf("orchestrator: append user message: %w", err)
	}

	answer, err := o.route(ctx, req, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			answer = &Answer{
				Text:      "Sorry, that's taking longer than expected. Could you try asking again?",
				Route:     "fallback",
				SessionID: req.SessionID,
			}
		} else {
			return nil, err
		}
	}

	answer.Text = normalizeForSpeech(answer.Text)
	answer.SessionID = req.SessionID

	metadata := map[string]any{"route": answer.Route, "confidence": answer.Confidence}
	if len(answer.Sources) > 0 {
		metadata["sources"] = answer.Sources
	}
	if _, err := o.sessions.AppendMessage(ctx, req.UserID, req.SessionID, "assistant", answer.Text, "text", metadata); err != nil {
		return nil, fmt.Errorf("orchestrator: append assistant message: %w", err)
	}

	return answer, nil
}

// route dispatches to the greeting, general, or course-RAG handler based on
// the router's classification.
func (o *Orchestrator) route(ctx context.Context, req Request, query string) (*Answer, error) {
	decision := o.router.Classify(ctx, query)

	switch decision.Route {
	case router.RouteGreeting:
		return &Answer{
			Text:       o.router.CannedGreeting(query, req.Language),
			Route:      string(decision.Route),
			Confidence: decision.Confidence,
		}, nil

	case router.RouteCourse:
		if req.Course.ID != 0 && o.router.IsCourseSpecific(query) {
			return o.answerWithRAG(ctx, req, query, decision)
		}
		// Routed to course but either no course is selected or the query
		// turned out not to be about it: answer generally instead, and
		// report the route actually taken rather than the initial guess.
		offTopic := router.Decision{Route: router.RouteGeneral, Confidence: decision.Confidence}
		return o.answerGeneral(ctx, req, query, offTopic)

	default: // router.RouteGeneral
		return o.answerGeneral(ctx, req, query, decision)
	}
}

// answerGeneral answers from the LLM's general knowledge, with no retrieval
// and no tool offer, using the conversation history alone.
func (o *Orchestrator) answerGeneral(ctx context.Context, req Request, query string, decision router.Decision) (*Answer, error) {
	content, err := o.completeGeneral(ctx, req, query)
	if err != nil {
		return nil, err
	}
	return &Answer{
		Text:       content,
		Route:      string(decision.Route),
		Confidence: decision.Confidence,
	}, nil
}

// completeGeneral runs a plain general-knowledge completion over the
// session's recent history plus query, with no retrieval and no tool offer.
func (o *Orchestrator) completeGeneral(ctx context.Context, req Request, query string) (string, error) {
	history, err := o.sessions.GetConversationHistory(ctx, req.SessionID, 5)
	if err != nil {
		return "", fmt.Errorf("orchestrator: get history: %w", err)
	}

	messages := historyToMessages(history)
	messages = append(messages, types.Message{Role: "user", Content: query})

	resp, err := o.llmClient.Complete(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: "You are a helpful tutor. Answer from general knowledge; spell out abbreviations since your answer may be read aloud.",
	})
	if err != nil {
		return "", fmt.Errorf("orchestrator: general completion: %w", err)
	}
	return resp.Content, nil
}

// answerWithRAG assembles retrieval context, optionally lets the model call
// search_course_content for supplementary lookups, and falls back to a
// general answer when the result fails the garbage check.
func (o *Orchestrator) answerWithRAG(ctx context.Context, req Request, query string, decision router.Decision) (*Answer, error) {
	pc, err := o.assembler.Assemble(ctx, req.SessionID, query, req.Course)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: assemble: %w", err)
	}

	prompt := hotctx.FormatPrompt(pc)
	messages := []types.Message{{Role: "user", Content: prompt}}

	var tools []types.ToolDefinition
	if o.mcpHost != nil {
		tools = append(tools, SearchCourseContentTool)
	}

	resp, err := o.llmClient.Complete(ctx, llm.CompletionRequest{
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: rag completion: %w", err)
	}

	if o.mcpHost != nil && len(resp.ToolCalls) > 0 {
		resp, err = o.runToolRound(ctx, messages, resp)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: tool round: %w", err)
		}
	}

	if reason, dirty := isGarbage(resp.Content); dirty {
		if o.metrics != nil {
			o.metrics.RecordGarbageDetection(ctx, reason)
		}
		content, err := o.completeGeneral(ctx, req, query)
		if err != nil {
			return nil, err
		}
		return &Answer{Text: content, Route: "fallback", Confidence: decision.Confidence}, nil
	}

	sources := make([]string, 0, len(pc.RetrievedChunks))
	for _, c := range pc.RetrievedChunks {
		sources = append(sources, c.Chunk.Title)
	}

	return &Answer{
		Text:       resp.Content,
		Route:      string(decision.Route),
		Confidence: decision.Confidence,
		Sources:    sources,
	}, nil
}

// runToolRound executes every tool call the model requested and performs one
// more completion round with the tool results appended, so the model can
// produce its final answer with the supplementary context in hand.
func (o *Orchestrator) runToolRound(ctx context.Context, messages []types.Message, first *llm.CompletionResponse) (*llm.CompletionResponse, error) {
	messages = append(messages, types.Message{
		Role:      "assistant",
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	for _, call := range first.ToolCalls {
		result, err := o.mcpHost.ExecuteTool(ctx, call.Name, call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("execute tool %q: %w", call.Name, err)
		}
		messages = append(messages, types.Message{
			Role:       "tool",
			Content:    result.Content,
			ToolCallID: call.ID,
		})
	}

	return o.llmClient.Complete(ctx, llm.CompletionRequest{Messages: messages})
}

// historyToMessages converts persisted conversation history into the LLM
// message shape, dropping the metadata fields the LLM client doesn't need.
func historyToMessages(history memory.ConversationHistory) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		out = append(out, types.Message{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt})
	}
	return out
}

// acronymReplacements rewrites common abbreviations and symbols so spoken
// output (via TTS) doesn't read them as letters or symbols. Applied to every
// answer regardless of whether the caller is a text or voice client, so the
// same answer text works unmodified on either transport.
var acronymReplacements = []struct {
	from string
	to   string
}{
	{"AI", "Artificial Intelligence"},
	{"ML", "Machine Learning"},
	{"API", "Application Programming Interface"},
	{"%", " percent "},
	{"&", " and "},
}

// normalizeForSpeech rewrites acronyms and symbols in text per
// acronymReplacements. Replacement is whole-word for alphabetic entries to
// avoid mangling ordinary words that happen to contain the letters.
func normalizeForSpeech(text string) string {
	for _, r := range acronymReplacements {
		if r.from == "%" || r.from == "&" {
			text = strings.ReplaceAll(text, r.from, r.to)
			continue
		}
		text = replaceWholeWord(text, r.from, r.to)
	}
	return strings.Join(strings.Fields(text), " ")
}

// replaceWholeWord replaces each standalone occurrence of from in text with
// to, leaving from untouched when it appears as part of a longer word.
func replaceWholeWord(text, from, to string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		trimmed := strings.Trim(f, ".,!?;:")
		if trimmed == from {
			fields[i] = strings.Replace(f, from, to, 1)
		}
	}
	return strings.Join(fields, " ")
}

// Garbage detector thresholds, applied in isGarbage.
const (
	minAnswerLength        = 10
	maxTokenWindowRepeats   = 20
	maxSingleCharRunMatches = 100
	minSingleCharUnique     = 10
	maxLengthForRatioCheck  = 5000
	minUniqueTokenRatio     = 0.1
)

// isGarbage applies the fixed rule set that flags a generated answer as
// unsuitable to show the user, returning the name of the first rule that
// matched. A clean answer returns ("", false).
func isGarbage(text string) (reason string, dirty bool) {
	if len(text) < minAnswerLength {
		return "too_short", true
	}

	tokens := strings.Fields(text)

	if repeatingThreeTokenWindow(tokens) {
		return "repeating_window", true
	}

	if singleCharSpam(text) {
		return "single_char_spam", true
	}

	if len(text) > maxLengthForRatioCheck && uniqueTokenRatio(tokens) < minUniqueTokenRatio {
		return "low_unique_ratio", true
	}

	return "", false
}

// repeatingThreeTokenWindow reports whether any contiguous 3-token window
// appears more than maxTokenWindowRepeats times in tokens.
func repeatingThreeTokenWindow(tokens []string) bool {
	if len(tokens) < 3 {
		return false
	}
	counts := make(map[string]int)
	for i := 0; i+3 <= len(tokens); i++ {
		window := strings.Join(tokens[i:i+3], " ")
		counts[window]++
		if counts[window] > maxTokenWindowRepeats {
			return true
		}
	}
	return false
}

// singleCharSpam reports whether text contains more than
// maxSingleCharRunMatches occurrences of a lone non-space character followed
// by whitespace, drawn from fewer than minSingleCharUnique distinct
// characters — the signature of garbled token-by-token output ("a b c a b
// c...").
func singleCharSpam(text string) bool {
	runes := []rune(text)
	matches := 0
	unique := make(map[rune]struct{})
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] != ' ' && (runes[i+1] == ' ' || runes[i+1] == '\n') {
			isIsolated := i == 0 || runes[i-1] == ' ' || runes[i-1] == '\n'
			if isIsolated {
				matches++
				unique[runes[i]] = struct{}{}
			}
		}
	}
	return matches > maxSingleCharRunMatches && len(unique) < minSingleCharUnique
}

// uniqueTokenRatio returns the fraction of distinct tokens among tokens.
func uniqueTokenRatio(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		seen[t] = struct{}{}
	}
	return float64(len(seen)) / float64(len(tokens))
}

