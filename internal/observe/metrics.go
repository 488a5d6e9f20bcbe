// Package observe provides application-wide observability primitives for
// tutorcore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all tutorcore metrics.
const meterName = "github.com/professorai/tutorcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// EmbeddingDuration tracks embedding-generation latency (C1).
	EmbeddingDuration metric.Float64Histogram

	// RetrievalDuration tracks hybrid-retrieval query latency (C6).
	RetrievalDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency (C8).
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency (C3).
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency (C9).
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks end-to-end chat-orchestrator turn latency (C7):
	// classify through persisted answer.
	TurnDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// JobDuration tracks background job execution latency (C11), by queue name.
	JobDuration metric.Float64Histogram

	// IngestionDuration tracks end-to-end PDF ingestion latency (C12).
	IngestionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// RouterDecisions counts semantic-router classifications (C5). Use with
	// attribute: attribute.String("route", ...)
	RouterDecisions metric.Int64Counter

	// GarbageDetections counts chat-orchestrator answers rejected by the
	// garbage detector before being sent to the user (C7).
	GarbageDetections metric.Int64Counter

	// FallbackInvocations counts resilience fallback-chain activations. Use
	// with attributes: attribute.String("kind", ...), attribute.String("provider", ...)
	FallbackInvocations metric.Int64Counter

	// ChunksIngested counts chunk rows written by the ingestion pipeline (C12).
	ChunksIngested metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat/voice sessions (C4/C10).
	ActiveSessions metric.Int64UpDownCounter

	// ActiveVoiceSessions tracks the number of live voice-controller
	// connections (C10), a subset of ActiveSessions.
	ActiveVoiceSessions metric.Int64UpDownCounter

	// JobQueueDepth tracks the number of pending jobs per named queue (C11).
	// Use with attribute: attribute.String("queue", ...)
	JobQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive chat/voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// jobLatencyBuckets covers the much wider latency range of background jobs
// (PDF ingestion, quiz generation), which run in seconds to minutes rather
// than milliseconds.
var jobLatencyBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EmbeddingDuration, err = m.Float64Histogram("tutorcore.embedding.duration",
		metric.WithDescription("Latency of embedding generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("tutorcore.retrieval.duration",
		metric.WithDescription("Latency of hybrid retrieval queries."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("tutorcore.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("tutorcore.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("tutorcore.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("tutorcore.turn.duration",
		metric.WithDescription("End-to-end chat-orchestrator turn latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("tutorcore.tool_execution.duration",
		metric.WithDescription("Latency of MCP tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("tutorcore.job.duration",
		metric.WithDescription("Latency of background job execution, by queue."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.IngestionDuration, err = m.Float64Histogram("tutorcore.ingestion.duration",
		metric.WithDescription("End-to-end PDF ingestion latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobLatencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("tutorcore.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("tutorcore.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.RouterDecisions, err = m.Int64Counter("tutorcore.router.decisions",
		metric.WithDescription("Total semantic-router classifications by route."),
	); err != nil {
		return nil, err
	}
	if met.GarbageDetections, err = m.Int64Counter("tutorcore.garbage_detections",
		metric.WithDescription("Total orchestrator answers rejected by the garbage detector."),
	); err != nil {
		return nil, err
	}
	if met.FallbackInvocations, err = m.Int64Counter("tutorcore.fallback.invocations",
		metric.WithDescription("Total resilience fallback-chain activations by kind and provider."),
	); err != nil {
		return nil, err
	}
	if met.ChunksIngested, err = m.Int64Counter("tutorcore.chunks_ingested",
		metric.WithDescription("Total chunk rows written by the ingestion pipeline."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("tutorcore.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tutorcore.active_sessions",
		metric.WithDescription("Number of live chat/voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveVoiceSessions, err = m.Int64UpDownCounter("tutorcore.active_voice_sessions",
		metric.WithDescription("Number of live voice-controller connections."),
	); err != nil {
		return nil, err
	}
	if met.JobQueueDepth, err = m.Int64UpDownCounter("tutorcore.job_queue_depth",
		metric.WithDescription("Number of pending jobs per named queue."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tutorcore.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordRouterDecision is a convenience method that records a semantic-router
// classification counter increment.
func (m *Metrics) RecordRouterDecision(ctx context.Context, route string) {
	m.RouterDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("route", route)),
	)
}

// RecordGarbageDetection is a convenience method that records a chat-answer
// rejection counter increment, tagged with the rule that triggered it.
func (m *Metrics) RecordGarbageDetection(ctx context.Context, reason string) {
	m.GarbageDetections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordActiveVoiceSessionDelta is a convenience method that adjusts the
// live voice-controller session count. delta is +1 when a session starts
// and -1 when it ends.
func (m *Metrics) RecordActiveVoiceSessionDelta(ctx context.Context, delta int64) {
	m.ActiveVoiceSessions.Add(ctx, delta)
}

// RecordJobDuration is a convenience method that records a background job's
// execution latency, by queue name.
func (m *Metrics) RecordJobDuration(ctx context.Context, queue string, seconds float64) {
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordJobQueueDepthDelta is a convenience method that adjusts the pending
// job count for a named queue. delta is +1 on enqueue, -1 once a worker has
// dequeued the job.
func (m *Metrics) RecordJobQueueDepthDelta(ctx context.Context, queue string, delta int64) {
	m.JobQueueDepth.Add(ctx, delta,
		metric.WithAttributes(attribute.String("queue", queue)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFallback is a convenience method that records a fallback-chain
// activation counter increment.
func (m *Metrics) RecordFallback(ctx context.Context, kind, provider string) {
	m.FallbackInvocations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("provider", provider),
		),
	)
}
