package reply

import (
	"strings"
	"testing"
)

func TestSplitMessageShortTextIsOneChunk(t *testing.T) {
	chunks := SplitMessage("hello world", 100)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("got %q", chunks)
	}
}

func TestSplitMessagePrefersParagraphs(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n\n" + strings.Repeat("b", 60)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("a", 60) || chunks[1] != strings.Repeat("b", 60) {
		t.Fatalf("paragraph split wrong: %q", chunks)
	}
}

func TestSplitMessageFallsBackToLines(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60) + "\n" + strings.Repeat("c", 60)
	chunks := SplitMessage(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk over limit: %d bytes", len(c))
		}
	}
}

func TestSplitMessageHardCutsLongRuns(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := SplitMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c) > 100 {
			t.Fatalf("chunk over limit: %d bytes", len(c))
		}
		total += len(c)
	}
	if total != 250 {
		t.Fatalf("lost bytes: got %d, want 250", total)
	}
}

func TestSplitMessageDoesNotCutRunes(t *testing.T) {
	text := strings.Repeat("é", 100) // 2 bytes each
	for _, c := range SplitMessage(text, 51) {
		for _, r := range c {
			if r != 'é' {
				t.Fatalf("rune mangled: %q", c)
			}
		}
	}
}
