// Package router implements the semantic classifier that decides, for each
// incoming chat query, whether it is a social greeting, a general-knowledge
// question, or a question about course material.
//
// Classification runs in two tiers: an embedding-similarity comparison
// against a small bank of reference utterances per route (fast, shares the
// embedding backend with the rest of the memory layer), falling back to a
// deterministic keyword rule set when the embedder is unavailable or the
// similarity score is inconclusive. The fallback always prefers the safer
// "course" route, since triggering retrieval needlessly is cheaper than
// silently skipping it.
package router

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/pkg/provider/embeddings"
)

// Route identifies the classifier's decision for a query.
type Route string

const (
	// RouteGreeting is a social opener carrying no content request.
	RouteGreeting Route = "greeting"

	// RouteGeneral is a question answerable from world knowledge, with no
	// need to consult course material.
	RouteGeneral Route = "general"

	// RouteCourse is a question about course material; the orchestrator
	// should invoke retrieval.
	RouteCourse Route = "course"
)

// Decision is the classifier's output for a single query.
type Decision struct {
	// Route is the chosen route.
	Route Route

	// Confidence is the similarity score (or a fixed value for keyword-rule
	// decisions) backing this decision, in [0, 1].
	Confidence float64

	// ShouldUseRAG reports whether the orchestrator should invoke retrieval
	// for this query. True only for [RouteCourse].
	ShouldUseRAG bool
}

// defaultSimilarityThreshold is used when config.RouterConfig.SimilarityThreshold
// is zero.
const defaultSimilarityThreshold = 0.6

// greetingTokenLimit bounds canned-greeting eligibility: a message longer than
// this many whitespace-separated tokens is never treated as a bare greeting,
// even if it happens to start with one ("hi, can you explain derivatives?").
const greetingTokenLimit = 5

// referenceUtterances seeds the embedding-similarity bank. These are embedded
// once at startup via the shared embeddings provider; classify compares each
// query's embedding against the centroid of each route's vectors.
var referenceUtterances = map[Route][]string{
	RouteGreeting: {
		"hi", "hello", "hey there", "good morning", "good afternoon",
		"how are you", "what's up", "thanks, bye", "see you later",
	},
	RouteGeneral: {
		"what is the capital of france", "who won the world cup last year",
		"what's the weather like today", "tell me a joke",
		"what time is it", "how old is the earth",
	},
	RouteCourse: {
		"what does this formula mean", "can you explain the lecture again",
		"what did the professor say about this topic", "summarize module two",
		"I don't understand the assignment", "what is covered in week three",
	},
}

// keywordStems is the built-in fallback keyword set recognised as
// course-specific when config.RouterConfig.CourseKeywords is empty.
var keywordStems = []string{
	"course", "module", "week", "lecture", "assignment", "syllabus",
	"topic", "chapter", "exam", "quiz", "professor", "textbook",
}

// Router classifies chat queries into greeting/general/course routes.
//
// A Router must be initialised via [Router.Initialize] before [Router.Classify]
// is called; Initialize embeds the reference utterance bank once and computes
// per-route centroids. All methods are safe for concurrent use.
type Router struct {
	embedder embeddings.Provider
	cfg      config.RouterConfig
	metrics  *observe.Metrics

	mu         sync.RWMutex
	centroids  map[Route][]float32
	ready      bool
	courseKeys []string
}

// New creates a Router backed by embedder for similarity classification. cfg
// supplies the similarity threshold and course-keyword fallback list; metrics
// may be nil, in which case classifications are not recorded.
func New(embedder embeddings.Provider, cfg config.RouterConfig, metrics *observe.Metrics) *Router {
	keys := cfg.CourseKeywords
	if len(keys) == 0 {
		keys = keywordStems
	}
	return &Router{
		embedder:   embedder,
		cfg:        cfg,
		metrics:    metrics,
		centroids:  make(map[Route][]float32),
		courseKeys: keys,
	}
}

// Initialize embeds every reference utterance and stores the per-route
// centroid (mean vector). Call once at startup; Classify works without it but
// falls back to the keyword rule set exclusively until Initialize succeeds.
func (r *Router) Initialize(ctx context.Context) error {
	if r.embedder == nil {
		return fmt.Errorf("router: initialize: no embeddings provider configured")
	}

	centroids := make(map[Route][]float32, len(referenceUtterances))
	for route, utterances := range referenceUtterances {
		vecs, err := r.embedder.EmbedBatch(ctx, utterances)
		if err != nil {
			return fmt.Errorf("router: initialize: embed %s utterances: %w", route, err)
		}
		centroids[route] = centroid(vecs)
	}

	r.mu.Lock()
	r.centroids = centroids
	r.ready = true
	r.mu.Unlock()
	return nil
}

// Classify determines the route for query. It first attempts
// embedding-similarity classification; if that is unavailable or the best
// match's confidence is below the configured threshold, it falls back to the
// deterministic keyword rule set, which always defaults to [RouteCourse] when
// inconclusive (triggering retrieval is the safer failure mode).
func (r *Router) Classify(ctx context.Context, query string) Decision {
	query = strings.TrimSpace(query)
	threshold := r.cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = defaultSimilarityThreshold
	}

	if decision, ok := r.classifyBySimilarity(ctx, query, threshold); ok {
		r.record(ctx, decision.Route)
		return decision
	}

	decision := r.classifyByKeyword(query)
	r.record(ctx, decision.Route)
	return decision
}

// classifyBySimilarity scores query against every route centroid and returns
// the best match when its score clears threshold. ok is false when the
// embedder is not ready, the embed call fails, or no route clears threshold.
func (r *Router) classifyBySimilarity(ctx context.Context, query string, threshold float64) (Decision, bool) {
	r.mu.RLock()
	ready := r.ready
	centroids := r.centroids
	r.mu.RUnlock()

	if !ready || r.embedder == nil || query == "" {
		return Decision{}, false
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return Decision{}, false
	}

	var best Route
	bestScore := -1.0
	for route, c := range centroids {
		score := cosineSimilarity(vec, c)
		if score > bestScore {
			bestScore = score
			best = route
		}
	}

	if bestScore < threshold {
		return Decision{}, false
	}

	return routeDecision(best, bestScore), true
}

// classifyByKeyword applies the deterministic fallback rule set: greeting
// tokens bypassed for long messages, then a course-keyword scan, defaulting
// to [RouteCourse] when neither greeting nor keyword rules match.
func (r *Router) classifyByKeyword(query string) Decision {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)

	if len(tokens) <= greetingTokenLimit && isGreetingText(lower) {
		return routeDecision(RouteGreeting, 1.0)
	}

	for _, kw := range r.courseKeys {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return routeDecision(RouteCourse, 1.0)
		}
	}

	// No positive course signal and not a greeting: still default to course,
	// the safer path that triggers retrieval rather than risking an
	// under-informed general answer.
	return routeDecision(RouteCourse, 0.5)
}

// record increments the router-decision counter, if metrics are configured.
func (r *Router) record(ctx context.Context, route Route) {
	if r.metrics != nil {
		r.metrics.RecordRouterDecision(ctx, string(route))
	}
}

// IsCourseSpecific is an independent validator, distinct from Classify, used
// by the orchestrator to decide whether a course_id filter should actually be
// applied once a query has already been routed to [RouteCourse]. It exists
// because a query can reach the course branch (no greeting, no clear general
// match) while still being obviously off-topic relative to any course
// ("what is the weather today").
func (r *Router) IsCourseSpecific(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range r.courseKeys {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return !isObviouslyOffTopic(lower)
}

// offTopicPhrases are generic conversational fillers that signal a query is
// not about course material even when it contains none of the recognised
// course keywords.
var offTopicPhrases = []string{
	"weather", "joke", "sports score", "stock price", "news today",
}

func isObviouslyOffTopic(lower string) bool {
	for _, p := range offTopicPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// greetingWords are bare social openers recognised by the keyword fallback.
var greetingWords = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "bye", "goodbye", "see you",
}

func isGreetingText(lower string) bool {
	for _, g := range greetingWords {
		if strings.Contains(lower, g) {
			return true
		}
	}
	return false
}

// cannedGreetings maps a BCP-47-ish language tag prefix to a greeting line.
// Unrecognised or empty language values fall back to English.
var cannedGreetings = map[string]string{
	"en": "Hi! I'm your course tutor — what would you like to go over today?",
	"es": "¡Hola! Soy tu tutor del curso. ¿Qué te gustaría repasar hoy?",
	"fr": "Bonjour ! Je suis votre tuteur de cours. Que souhaitez-vous revoir aujourd'hui ?",
	"de": "Hallo! Ich bin dein Kursbetreuer. Was möchtest du heute durchgehen?",
	"hi": "नमस्ते! मैं आपका कोर्स ट्यूटर हूं — आज आप क्या सीखना चाहेंगे?",
}

// CannedGreeting returns a locale-specific greeting reply for query without
// invoking the LLM client. language is a BCP-47 tag (e.g. "en-IN", "es"); only
// the primary subtag is consulted. Unknown or empty languages fall back to
// English.
func (r *Router) CannedGreeting(query, language string) string {
	_ = query // reserved for future greeting-style personalisation
	tag := strings.ToLower(language)
	if i := strings.IndexByte(tag, '-'); i >= 0 {
		tag = tag[:i]
	}
	if greeting, ok := cannedGreetings[tag]; ok {
		return greeting
	}
	return cannedGreetings["en"]
}

// routeDecision builds a Decision for route with the given confidence,
// setting ShouldUseRAG to true only for [RouteCourse].
func routeDecision(route Route, confidence float64) Decision {
	return Decision{
		Route:        route,
		Confidence:   confidence,
		ShouldUseRAG: route == RouteCourse,
	}
}

// centroid computes the element-wise mean of a set of equal-length vectors.
// Returns nil if vecs is empty.
func centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	sum := make([]float64, dim)
	for _, v := range vecs {
		for i, x := range v {
			if i < dim {
				sum[i] += float64(x)
			}
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vecs)))
	}
	return out
}

// cosineSimilarity computes the cosine similarity of two equal-length
// vectors. Returns 0 if either vector is empty, has zero norm, or the lengths
// differ.
func cosineSimilarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range n {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
