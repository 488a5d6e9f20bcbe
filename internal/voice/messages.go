package voice

// Inbound is a client-to-server voice message. The Type field discriminates
// which of the other fields are populated; unknown types are rejected by
// the controller's read loop.
type Inbound struct {
	Type string `json:"type"`

	// AudioBase64 carries a raw PCM chunk for the "audio" message type.
	AudioBase64 string `json:"audio,omitempty"`

	// CourseID selects the active course for subsequent RAG answers, for
	// the "select_course" message type.
	CourseID int `json:"course_id,omitempty"`

	// Language is a BCP-47 tag passed to the orchestrator for the canned
	// greeting, for the "start" message type. The STT stream is opened
	// before any inbound message is read, so it starts without this tag.
	Language string `json:"language,omitempty"`
}

const (
	InboundStart         = "start"
	InboundAudio         = "audio"
	InboundSelectCourse  = "select_course"
	InboundEnd           = "end"
)

// Outbound is a server-to-client voice message.
type Outbound struct {
	Type string `json:"type"`

	// Text carries transcript or answer text for "transcript_partial",
	// "transcript_final", and "answer_text" message types.
	Text string `json:"text,omitempty"`

	// AudioBase64 carries a synthesized PCM chunk for the "audio" type.
	AudioBase64 string `json:"audio,omitempty"`

	// State reports a controller state transition, for the "state" type.
	State string `json:"state,omitempty"`

	// Route and Confidence echo the orchestrator's routing decision,
	// alongside "answer_text".
	Route      string  `json:"route,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	// Message carries a human-readable error description for the "error"
	// type.
	Message string `json:"message,omitempty"`
}

const (
	OutboundState            = "state"
	OutboundTranscriptPartial = "transcript_partial"
	OutboundTranscriptFinal   = "transcript_final"
	OutboundAnswerText        = "answer_text"
	OutboundAudio             = "audio"
	OutboundError             = "error"
)
