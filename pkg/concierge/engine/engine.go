// Package engine defines the answering-engine contract. The engine is
// consumed as an opaque asynchronous function: ask a question with
// conversation context, get text back, optionally streamed. How it
// reasons is out of scope.
package engine

import (
	"context"
	"fmt"
)

// Turn is one message of conversation context handed to the engine.
type Turn struct {
	Speaker string
	Text    string
}

// StreamFunc receives the cumulative answer text as it grows. It is
// always called with the full text so far, never a delta.
type StreamFunc func(accumulated string)

// Engine is the answering-engine contract.
type Engine interface {
	// Ask returns the final answer text for a question.
	Ask(ctx context.Context, question string, history []Turn) (string, error)

	// AskStream is the streaming variant: onUpdate is invoked with the
	// cumulative text while the run is in flight, and the final text is
	// returned when it completes.
	AskStream(ctx context.Context, question string, history []Turn, onUpdate StreamFunc) (string, error)
}

// RunError reports an engine run that terminated abnormally. The detail
// is for logs; users get a generic apology.
type RunError struct {
	Status string
	Detail string
}

func (e *RunError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("engine: run failed: %s (%s)", e.Status, e.Detail)
	}
	return fmt.Sprintf("engine: run failed: %s", e.Status)
}
