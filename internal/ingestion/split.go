package ingestion

import "strings"

// defaultChunkSize and defaultChunkOverlap apply when the configured
// IngestionConfig leaves the corresponding field at zero. These target
// roughly 500 tokens / 100 tokens of overlap at ~4 characters per token.
const (
	defaultChunkSize    = 2000
	defaultChunkOverlap = 400
	hardChunkCapChars   = 3200 // ~800 tokens
)

// SplitIntoChunks normalizes text into overlapping chunks of approximately
// size characters with overlap characters shared between adjacent chunks,
// breaking on whitespace where possible so words are not split mid-token.
// No chunk ever exceeds hardChunkCapChars regardless of the configured size.
func SplitIntoChunks(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = defaultChunkSize
	}
	if size > hardChunkCapChars {
		size = hardChunkCapChars
	}
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 4
		}
	}

	var chunks []string
	runes := []rune(text)
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back off to the nearest preceding whitespace so words aren't
			// split mid-token, as long as that doesn't shrink the chunk to
			// nothing.
			cut := end
			for cut > start && !isBreakable(runes[cut]) {
				cut--
			}
			if cut > start {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func isBreakable(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}
