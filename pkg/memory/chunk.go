package memory

import (
	"strconv"
	"strings"
)

// MaxChunkBytes is the hard per-chunk payload cap (15 KB UTF-8) enforced by
// [SplitChunk] before content ever reaches [VectorStore.Upsert].
const MaxChunkBytes = 15 * 1024

// SplitChunk splits content into payloads no larger than MaxChunkBytes,
// preserving order and never producing an empty chunk.
//
// It first walks paragraphs ("\n\n"-separated). Any paragraph that alone
// exceeds the cap is further split on ". " sentence boundaries. Paragraphs
// (or sentences) are then greedily packed into successive chunks without
// exceeding the cap.
//
// If content fits within MaxChunkBytes it is returned as a single-element
// slice.
func SplitChunk(content string) []string {
	if len(content) <= MaxChunkBytes {
		if strings.TrimSpace(content) == "" {
			return nil
		}
		return []string{content}
	}

	var units []string
	for _, para := range strings.Split(content, "\n\n") {
		if para == "" {
			continue
		}
		if len(para) <= MaxChunkBytes {
			units = append(units, para)
			continue
		}
		units = append(units, splitSentences(para)...)
	}

	var chunks []string
	var cur strings.Builder
	for _, u := range units {
		sep := ""
		if cur.Len() > 0 {
			sep = "\n\n"
		}
		if cur.Len()+len(sep)+len(u) > MaxChunkBytes {
			if cur.Len() > 0 {
				chunks = append(chunks, cur.String())
				cur.Reset()
			}
			if len(u) > MaxChunkBytes {
				// A single sentence still exceeds the cap (pathological, no
				// spaces); hard-split on byte boundaries as a last resort.
				chunks = append(chunks, hardSplit(u)...)
				continue
			}
			cur.WriteString(u)
			continue
		}
		cur.WriteString(sep)
		cur.WriteString(u)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitSentences splits a single oversized paragraph on ". " boundaries,
// re-appending the delimiter to every sentence but the last.
func splitSentences(para string) []string {
	parts := strings.Split(para, ". ")
	sentences := make([]string, 0, len(parts))
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i < len(parts)-1 {
			p += "."
		}
		sentences = append(sentences, p)
	}
	return sentences
}

// hardSplit is the last-resort fallback for a single unbroken run of text
// (no paragraph or sentence boundaries) that still exceeds MaxChunkBytes.
func hardSplit(s string) []string {
	var out []string
	for len(s) > MaxChunkBytes {
		out = append(out, s[:MaxChunkBytes])
		s = s[MaxChunkBytes:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// TitleForPart returns the chunk title for part index i (0-based) of a
// multi-chunk split: the base title unchanged for i == 0, and suffixed
// " (Part n)" with the 1-based part number n = i+1 for i >= 1 (so i == 1
// gives " (Part 2)"), per the C2 chunking algorithm.
func TitleForPart(baseTitle string, i int) string {
	if i == 0 {
		return baseTitle
	}
	return baseTitle + " (Part " + strconv.Itoa(i+1) + ")"
}
