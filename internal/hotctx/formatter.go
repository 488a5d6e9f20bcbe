package hotctx

import (
	"fmt"
	"strings"

	"github.com/professorai/tutorcore/pkg/memory"
)

// promptTemplate instructs the model to answer from the retrieved context
// when possible, fall back to general knowledge otherwise, spell out
// abbreviations for downstream TTS, and preserve conversational continuity.
const promptTemplate = `You are a course tutor. Answer the student's question using the course context below when it is relevant; otherwise answer from general knowledge and say so.

Spell out abbreviations and acronyms (e.g. say "Artificial Intelligence" instead of "AI") since your answer may be read aloud. Keep the conversation natural and continuous with what came before.

%s

## Conversation so far
%s

## Course context
%s

## Question
%s`

// FormatPrompt converts a [PromptContext] into the final prompt string ready
// for LLM injection (C3). Empty sections render as a short placeholder line
// rather than being silently omitted, so the template's slot structure is
// always intact.
//
// The formatter is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use.
func FormatPrompt(pc *PromptContext) string {
	if pc == nil {
		return fmt.Sprintf(promptTemplate, "", "(no prior conversation)", "(no course selected)", "")
	}

	return fmt.Sprintf(promptTemplate,
		formatCourseDetails(pc.Course),
		formatHistory(pc.History),
		formatChunks(pc.RetrievedChunks),
		pc.Question,
	)
}

// formatCourseDetails renders the "selected_course_details" slot.
func formatCourseDetails(c CourseDetails) string {
	if c.ID == 0 && c.Name == "" {
		return "(no course selected)"
	}
	if c.Description == "" {
		return fmt.Sprintf("Course: %s", c.Name)
	}
	return fmt.Sprintf("Course: %s\n%s", c.Name, c.Description)
}

// formatHistory renders the "conversation_history" slot as alternating
// "role: content" lines, oldest first.
func formatHistory(history memory.ConversationHistory) string {
	if len(history) == 0 {
		return "(no prior conversation)"
	}
	var lines []string
	for _, m := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

// formatChunks renders the "context" slot: retrieved chunks joined by a blank
// line, most relevant first.
func formatChunks(results []memory.ChunkResult) string {
	if len(results) == 0 {
		return "(no matching course content found)"
	}
	var parts []string
	for _, r := range results {
		parts = append(parts, strings.TrimSpace(r.Chunk.Content))
	}
	return strings.Join(parts, "\n\n")
}
