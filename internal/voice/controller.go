// Package voice implements the per-WebSocket-connection voice session
// controller (C10): it bridges a single student's live audio connection to
// speech-to-text, the chat orchestrator, and text-to-speech, mixing
// generated speech through a priority mixer and cancelling in-flight
// synthesis when the student barges in.
package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/professorai/tutorcore/internal/config"
	"github.com/professorai/tutorcore/internal/hotctx"
	"github.com/professorai/tutorcore/internal/observe"
	"github.com/professorai/tutorcore/internal/orchestrator"
	"github.com/professorai/tutorcore/internal/transcript"
	"github.com/professorai/tutorcore/pkg/audio"
	"github.com/professorai/tutorcore/pkg/audio/mixer"
	"github.com/professorai/tutorcore/pkg/memory"
	"github.com/professorai/tutorcore/pkg/provider/stt"
	"github.com/professorai/tutorcore/pkg/provider/tts"
	"github.com/professorai/tutorcore/pkg/types"
)

// State is a voice session's lifecycle stage.
type State string

const (
	StateIdle          State = "idle"
	StateInitializing  State = "initializing"
	StateTeaching      State = "teaching"
	StateListening     State = "listening"
	StateAnswering     State = "answering"
	StateClosed        State = "closed"
)

// answerPriority is the mixer priority assigned to chat-orchestrator
// answers; higher than ordinary lecture narration so an answer to an
// interrupting question preempts it.
const answerPriority = 5

// partialBargeInMinChars is the shortest partial transcript that is treated
// as evidence the student has started speaking over tutor audio; very short
// partials are often VAD noise rather than real speech.
const partialBargeInMinChars = 3

// ttsSampleRate and ttsChannels describe the PCM format produced by the
// configured tts.Provider and fed to the mixer; every provider wired behind
// tts.Provider in this deployment resamples to this format.
const (
	ttsSampleRate = 24000
	ttsChannels   = 1
)

// Conn is the minimal surface the controller needs from a WebSocket
// connection, satisfied by *websocket.Conn. Declaring it locally lets tests
// supply a fake without opening a real socket.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Conn = (*websocket.Conn)(nil)

// Controller owns one voice session's entire lifecycle from WebSocket
// "open" to "close". It is not safe to reuse across connections.
type Controller struct {
	conn      Conn
	userID    string
	stt       stt.Provider
	tts       tts.Provider
	voice     tts.VoiceProfile
	orch      *orchestrator.Orchestrator
	sessions  memory.SessionStore
	cfg       config.VoiceConfig
	metrics   *observe.Metrics

	mu           sync.Mutex
	state        State
	sessionID    string
	course       hotctx.CourseDetails
	entities     []string
	language     string
	answerCancel context.CancelFunc
	sttHandle    stt.SessionHandle

	corrector transcript.Pipeline
	courses   memory.CourseStore

	writeMu sync.Mutex
	mixer   *mixer.PriorityMixer
}

// Option configures optional Controller behavior not required by every
// deployment.
type Option func(*Controller)

// WithTranscriptCorrection attaches a transcript correction pipeline and the
// course store it draws entity vocabulary from. When set, every final STT
// transcript is corrected against the selected course's module and topic
// titles before it reaches the orchestrator. Without this option transcripts
// are passed through unmodified.
func WithTranscriptCorrection(pipeline transcript.Pipeline, courses memory.CourseStore) Option {
	return func(c *Controller) {
		c.corrector = pipeline
		c.courses = courses
	}
}

// New creates a Controller for one accepted WebSocket connection. userID
// identifies the caller, already authenticated by the HTTP layer.
func New(conn Conn, userID string, sttProvider stt.Provider, ttsProvider tts.Provider, voice tts.VoiceProfile, orch *orchestrator.Orchestrator, sessions memory.SessionStore, cfg config.VoiceConfig, metrics *observe.Metrics, opts ...Option) *Controller {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = 5 * time.Minute
	}
	if cfg.BargeInCancelBudget <= 0 {
		cfg.BargeInCancelBudget = 2 * time.Second
	}
	c := &Controller{
		conn:     conn,
		userID:   userID,
		stt:      sttProvider,
		tts:      ttsProvider,
		voice:    voice,
		orch:     orch,
		sessions: sessions,
		cfg:      cfg,
		metrics:  metrics,
		state:    StateIdle,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run drives the session until the connection closes, ctx is cancelled, or
// the inactivity timeout elapses. It always returns with every background
// goroutine it started stopped and every resource it opened released.
func (c *Controller) Run(ctx context.Context) error {
	c.setState(StateInitializing)
	if c.metrics != nil {
		c.metrics.RecordActiveVoiceSessionDelta(ctx, 1)
		defer c.metrics.RecordActiveVoiceSessionDelta(ctx, -1)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := c.sessions.GetOrCreateSession(sessCtx, c.userID, nil)
	if err != nil {
		return fmt.Errorf("voice: get or create session: %w", err)
	}
	c.sessionID = sess.ID

	sttHandle, err := c.stt.StartStream(sessCtx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   c.language,
	})
	if err != nil {
		return fmt.Errorf("voice: start stt stream: %w", err)
	}
	c.mu.Lock()
	c.sttHandle = sttHandle
	c.mu.Unlock()

	m := mixer.New(c.writeAudioOut)
	c.mu.Lock()
	c.mixer = m
	c.mu.Unlock()
	defer m.Close()
	m.OnBargeIn(c.onBargeIn)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.consumeFinals(sessCtx, sttHandle)
	}()
	go func() {
		defer wg.Done()
		c.consumePartials(sttHandle)
	}()
	// Closing the handle unblocks Finals()/Partials(), which is what lets
	// the two consumer goroutines above exit; it must happen before we wait
	// on them, so both steps are one deferred call registered last (LIFO).
	defer func() {
		sttHandle.Close()
		wg.Wait()
	}()

	c.setState(StateListening)
	c.sendState(sessCtx, StateListening)

	idleTimer := time.AfterFunc(c.cfg.InactivityTimeout, cancel)
	defer idleTimer.Stop()

	for {
		typ, data, err := c.conn.Read(sessCtx)
		if err != nil {
			if sessCtx.Err() != nil {
				return nil
			}
			return fmt.Errorf("voice: read: %w", err)
		}
		idleTimer.Reset(c.cfg.InactivityTimeout)

		switch typ {
		case websocket.MessageBinary:
			if err := sttHandle.SendAudio(data); err != nil {
				slog.Warn("voice: send audio to stt failed", "session_id", c.sessionID, "error", err)
			}
		case websocket.MessageText:
			var in Inbound
			if err := json.Unmarshal(data, &in); err != nil {
				c.sendError(sessCtx, "malformed message")
				continue
			}
			if done := c.handleInbound(sessCtx, in); done {
				return nil
			}
		}
	}
}

// handleInbound dispatches one parsed Inbound control message. It returns
// true when the session should end.
func (c *Controller) handleInbound(ctx context.Context, in Inbound) bool {
	switch in.Type {
	case InboundStart:
		c.mu.Lock()
		c.language = in.Language
		c.mu.Unlock()
		c.setState(StateTeaching)
		c.sendState(ctx, StateTeaching)
	case InboundSelectCourse:
		c.mu.Lock()
		c.course = hotctx.CourseDetails{ID: in.CourseID}
		c.mu.Unlock()
		c.loadCourseVocabulary(ctx, in.CourseID)
	case InboundAudio:
		// Clients that cannot open a binary frame (some browser WebSocket
		// shims) may instead send audio as a base64-encoded text message.
		chunk, err := base64.StdEncoding.DecodeString(in.AudioBase64)
		if err != nil {
			c.sendError(ctx, "invalid base64 audio")
			return false
		}
		c.mu.Lock()
		handle := c.sttHandle
		c.mu.Unlock()
		if handle != nil {
			if err := handle.SendAudio(chunk); err != nil {
				slog.Warn("voice: send audio to stt failed", "session_id", c.sessionID, "error", err)
			}
		}
	case InboundEnd:
		return true
	default:
		c.sendError(ctx, "unknown message type")
	}
	return false
}

// consumeFinals reads authoritative transcripts and drives one chat turn
// per final utterance.
func (c *Controller) consumeFinals(ctx context.Context, handle stt.SessionHandle) {
	for t := range handle.Finals() {
		if t.Text == "" {
			continue
		}
		text := c.correctTranscript(ctx, t)
		c.sendTranscript(ctx, OutboundTranscriptFinal, text)
		c.answerTurn(ctx, text)
	}
}

// correctTranscript runs the configured transcript correction pipeline (if
// any) against the active course's vocabulary and returns the corrected
// text. On pipeline failure, or when no pipeline is configured, the original
// text is returned unchanged — correction is a quality improvement, never a
// requirement for the turn to proceed.
func (c *Controller) correctTranscript(ctx context.Context, t types.Transcript) string {
	if c.corrector == nil {
		return t.Text
	}
	c.mu.Lock()
	entities := c.entities
	c.mu.Unlock()
	if len(entities) == 0 {
		return t.Text
	}
	corrected, err := c.corrector.Correct(ctx, t, entities)
	if err != nil {
		slog.Warn("voice: transcript correction failed", "session_id", c.sessionID, "error", err)
		return t.Text
	}
	return corrected.Corrected
}

// loadCourseVocabulary fetches courseID's module and topic titles to use as
// the entity list for transcript correction. Runs best-effort: a missing
// course store, an unknown course, or a lookup error just leaves correction
// disabled for this session.
func (c *Controller) loadCourseVocabulary(ctx context.Context, courseID int) {
	if c.courses == nil || courseID == 0 {
		return
	}
	course, err := c.courses.GetCourse(ctx, courseID)
	if err != nil {
		slog.Warn("voice: failed to load course vocabulary", "course_id", courseID, "error", err)
		return
	}
	if course == nil {
		return
	}
	entities := make([]string, 0, len(course.Modules)*2)
	for _, m := range course.Modules {
		if m.Title != "" {
			entities = append(entities, m.Title)
		}
		for _, topic := range m.Topics {
			if topic.Title != "" {
				entities = append(entities, topic.Title)
			}
		}
	}
	c.mu.Lock()
	c.entities = entities
	c.mu.Unlock()
}

// consumePartials watches low-latency partials to detect the student
// speaking over tutor playback and trigger barge-in.
func (c *Controller) consumePartials(handle stt.SessionHandle) {
	for t := range handle.Partials() {
		if len(t.Text) < partialBargeInMinChars {
			continue
		}
		c.sendTranscript(context.Background(), OutboundTranscriptPartial, t.Text)
		c.mu.Lock()
		m := c.mixer
		c.mu.Unlock()
		if m != nil {
			m.BargeIn()
		}
	}
}

// onBargeIn is registered with the mixer and fires when student speech is
// detected during tutor playback: it cancels whatever answer generation or
// synthesis is in flight so the student is not talked over.
func (c *Controller) onBargeIn() {
	c.mu.Lock()
	cancel := c.answerCancel
	c.answerCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.setState(StateListening)
}

// answerTurn runs one orchestrator round for utterance and, on success,
// synthesizes and enqueues the spoken answer. It is cancellable via
// onBargeIn through c.answerCancel.
func (c *Controller) answerTurn(ctx context.Context, utterance string) {
	answerCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.answerCancel = cancel
	course := c.course
	c.mu.Unlock()
	defer cancel()

	c.setState(StateAnswering)

	ans, err := c.orch.Ask(answerCtx, orchestrator.Request{
		UserID:    c.userID,
		SessionID: c.sessionID,
		Query:     utterance,
		Language:  c.language,
		Course:    course,
	})
	if err != nil {
		if answerCtx.Err() != nil {
			return // cancelled by barge-in; say nothing
		}
		c.sendError(ctx, "failed to produce an answer")
		c.setState(StateListening)
		return
	}

	c.sendAnswerText(ctx, ans)

	textCh := make(chan string, 1)
	textCh <- ans.Text
	close(textCh)

	audioCh, err := c.tts.SynthesizeStream(answerCtx, textCh, c.voice)
	if err != nil {
		slog.Warn("voice: synthesize stream failed", "session_id", c.sessionID, "error", err)
		c.setState(StateListening)
		return
	}

	segment := &audio.AudioSegment{
		Kind:       "answer",
		Audio:      audioCh,
		SampleRate: ttsSampleRate,
		Channels:   ttsChannels,
		Priority:   answerPriority,
	}

	c.mu.Lock()
	m := c.mixer
	c.mu.Unlock()
	if m != nil {
		m.Enqueue(segment, answerPriority)
	}
	c.setState(StateListening)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the controller's current lifecycle stage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) writeAudioOut(chunk []byte) {
	c.writeJSON(context.Background(), Outbound{
		Type:        OutboundAudio,
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
	})
}

func (c *Controller) sendState(ctx context.Context, s State) {
	c.writeJSON(ctx, Outbound{Type: OutboundState, State: string(s)})
}

func (c *Controller) sendTranscript(ctx context.Context, kind, text string) {
	c.writeJSON(ctx, Outbound{Type: kind, Text: text})
}

func (c *Controller) sendAnswerText(ctx context.Context, ans *orchestrator.Answer) {
	c.writeJSON(ctx, Outbound{
		Type:       OutboundAnswerText,
		Text:       ans.Text,
		Route:      ans.Route,
		Confidence: ans.Confidence,
	})
}

func (c *Controller) sendError(ctx context.Context, message string) {
	c.writeJSON(ctx, Outbound{Type: OutboundError, Message: message})
}

func (c *Controller) writeJSON(ctx context.Context, out Outbound) {
	data, err := json.Marshal(out)
	if err != nil {
		slog.Error("voice: marshal outbound message", "error", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("voice: write to connection failed", "session_id", c.sessionID, "error", err)
	}
}
