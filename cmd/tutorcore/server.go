package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/professorai/tutorcore/internal/app"
	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/health"
	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/ingestion"
	"github.com/professorai/tutorcore/internal/jobqueue"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/internal/orchestrator"
	"github.com/professorai/tutorcore/internal/transcript"
	"github.com/professorai/tutorcore/internal/voice"
	"github.com/professorai/tutorcore/pkg/provider/tts"
)

// deps bundles everything an HTTP handler needs to serve a request, so the
// handler funcs below stay thin closures over one struct instead of a long
// parameter list apiece.
type deps struct {
	app       *app.App
	orch      *orchestrator.Orchestrator
	jobs      *jobqueue.Pool
	ingest    *ingestion.Pipeline
	corrector transcript.Pipeline
	voiceCfg  config.VoiceConfig
	metrics   *observe.Metrics
}

// newMux assembles the HTTP surface: health/readiness probes, a Prometheus
// scrape endpoint, the voice WebSocket upgrade, and the PDF ingestion job
// submission endpoint.
func newMux(d *deps, healthHandler *health.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/voice", d.handleVoiceWS)
	mux.HandleFunc("/v1/courses/ingest", d.handleIngestUpload)
	mux.HandleFunc("/v1/jobs/", d.handleJobStatus)
	return mux
}

// handleVoiceWS upgrades the connection and drives one voice session to
// completion. The handler blocks for the lifetime of the session — the HTTP
// server already runs each request on its own goroutine, so this needs no
// additional goroutine of its own.
func (d *deps) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id query parameter is required", http.StatusBadRequest)
		return
	}

	providers := d.app.Providers()
	if providers.STT == nil || providers.TTS == nil {
		http.Error(w, "voice session requires both an stt and a tts provider to be configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("voice: websocket accept failed", "error", err)
		return
	}

	voices, err := providers.TTS.ListVoices(r.Context())
	var voice0 tts.VoiceProfile
	if err != nil || len(voices) == 0 {
		slog.Warn("voice: no voices available from tts provider, using zero-value profile", "error", err)
	} else {
		voice0 = voices[0]
	}

	var voiceOpts []voice.Option
	if d.corrector != nil {
		voiceOpts = append(voiceOpts, voice.WithTranscriptCorrection(d.corrector, d.app.CourseStore()))
	}
	ctrl := voice.New(conn, userID, providers.STT, providers.TTS, voice0, d.orch, d.app.SessionStore(), d.voiceCfg, d.metrics, voiceOpts...)
	if err := ctrl.Run(r.Context()); err != nil {
		slog.Warn("voice: session ended with error", "user_id", userID, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// ingestRequest is the wire shape for a course-material upload.
type ingestRequest struct {
	CourseTitle string           `json:"course_title"`
	Country     string           `json:"country"`
	TeacherID   string           `json:"teacher_id"`
	Force       bool             `json:"force"`
	Files       []ingestFileSpec `json:"files"`
}

type ingestFileSpec struct {
	Filename      string `json:"filename"`
	Base64Content string `json:"content_base64"`
}

// handleIngestUpload submits a PDF ingestion run as a background job and
// returns its task ID immediately; progress is polled via handleJobStatus.
func (d *deps) handleIngestUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if d.ingest == nil {
		http.Error(w, "ingestion pipeline is not configured (missing llm or embeddings provider)", http.StatusServiceUnavailable)
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Files) == 0 {
		http.Error(w, "at least one file is required", http.StatusBadRequest)
		return
	}
	for _, f := range req.Files {
		if _, err := base64.StdEncoding.DecodeString(f.Base64Content); err != nil {
			http.Error(w, "file "+f.Filename+": content_base64 is not valid base64", http.StatusBadRequest)
			return
		}
	}

	files := make([]ingestion.SourceFile, len(req.Files))
	for i, f := range req.Files {
		files[i] = ingestion.SourceFile{Filename: f.Filename, Base64Content: f.Base64Content}
	}

	pipelineReq := ingestion.Request{
		Files:       files,
		CourseTitle: req.CourseTitle,
		Country:     req.Country,
		TeacherID:   req.TeacherID,
		Force:       req.Force,
	}

	taskID, err := d.jobs.Submit(jobqueue.Job{
		Queue:      "pdf_processing",
		Priority:   5,
		MaxRetries: 1,
		Run: func(ctx context.Context, progress func(pct int, message string)) (any, error) {
			return d.ingest.Run(ctx, pipelineReq, ingestion.Progress(progress))
		},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"task_id": taskID})
}

// handleJobStatus reports a background job's current lifecycle state,
// served at /v1/jobs/{task_id}.
func (d *deps) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Path[len("/v1/jobs/"):]
	if taskID == "" {
		http.Error(w, "task id is required", http.StatusBadRequest)
		return
	}
	info, ok := d.jobs.GetState(taskID)
	if !ok {
		http.Error(w, "unknown task id", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

// courseSearchHandler returns the built-in "search_course_content" tool
// handler the orchestrator offers to the model on the course RAG path. It
// closes over the retriever so the MCP host can execute the tool in-process.
func courseSearchHandler(retriever hotctx.Retriever) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var parsed struct {
			Query    string `json:"query"`
			CourseID int    `json:"course_id"`
		}
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return "", errors.New("search_course_content: arguments must be a JSON object with a \"query\" string")
		}
		if parsed.Query == "" {
			return "", errors.New("search_course_content: query must not be empty")
		}

		results, err := retriever.Retrieve(ctx, parsed.Query, parsed.CourseID)
		if err != nil {
			return "", err
		}
		if len(results) == 0 {
			return "No matching course content was found.", nil
		}

		out, err := json.Marshal(results)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
