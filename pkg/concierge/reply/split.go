package reply

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage splits text into chunks of at most limit bytes each,
// preferring paragraph boundaries, then line boundaries, then a hard
// cut at a rune boundary. Chunks are trimmed of surrounding whitespace;
// text already under the limit comes back as a single chunk.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 {
		limit = 1
	}
	if len(text) <= limit {
		return []string{text}
	}

	var (
		chunks []string
		b      strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			chunks = append(chunks, s)
		}
		b.Reset()
	}
	add := func(seg string) {
		if b.Len()+len(seg) > limit {
			flush()
		}
		b.WriteString(seg)
	}

	// SplitAfter keeps separators attached, so nothing is lost between
	// segments and concatenation order is preserved.
	for _, para := range strings.SplitAfter(text, "\n\n") {
		if len(para) <= limit {
			add(para)
			continue
		}
		for _, line := range strings.SplitAfter(para, "\n") {
			if len(line) <= limit {
				add(line)
				continue
			}
			// Hard cut at rune boundaries.
			flush()
			for len(line) > limit {
				cut := limit
				for cut > 0 && !utf8.RuneStart(line[cut]) {
					cut--
				}
				if cut == 0 {
					cut = limit
				}
				chunks = append(chunks, strings.TrimSpace(line[:cut]))
				line = line[cut:]
			}
			add(line)
		}
	}
	flush()
	return chunks
}
