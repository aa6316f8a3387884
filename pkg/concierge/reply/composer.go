// Package reply implements the streaming reply composer: a placeholder
// message that is progressively edited as the answering engine streams
// partial output, then replaced by the final text (split into multiple
// messages when it exceeds the platform limit).
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
)

const (
	// placeholderText is shown until the first real text arrives.
	placeholderText = "working on it… :hourglass:"

	// counterInterval is how often the elapsed-time counter edits the
	// placeholder before the first real text arrives.
	counterInterval = 2 * time.Second

	// updateEveryWords throttles streaming edits: one outgoing edit per
	// roughly this many additional words of accumulated text.
	updateEveryWords = 40

	// safetyMargin is subtracted from the platform limit when splitting
	// the final text, leaving room for markup the server may add.
	safetyMargin = 256
)

type composerState int

const (
	stateActive composerState = iota
	stateFinalized
	stateCancelled
)

// Composer manages one streaming reply from placeholder to final text.
// All methods are safe for concurrent use; Update, Finalize and Cancel
// are no-ops once the composer has terminated.
type Composer struct {
	client  gateway.Client
	channel string
	topic   string
	maxLen  int
	logger  *slog.Logger

	mu           sync.Mutex
	messageID    int64
	state        composerState
	sawText      bool
	flushedWords int

	counterDone chan struct{}
	started     time.Time
}

// Start posts the placeholder message in (channel, topic) and begins
// the elapsed-time counter.
func Start(ctx context.Context, client gateway.Client, channel, topic string, maxLen int, logger *slog.Logger) (*Composer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	id, err := client.SendMessage(ctx, channel, topic, placeholderText)
	if err != nil {
		return nil, fmt.Errorf("post placeholder: %w", err)
	}

	c := &Composer{
		client:      client,
		channel:     channel,
		topic:       topic,
		maxLen:      maxLen,
		logger:      logger.With("component", "composer", "message_id", id),
		messageID:   id,
		counterDone: make(chan struct{}),
		started:     time.Now(),
	}
	go c.runCounter()
	return c, nil
}

// runCounter edits the placeholder with the elapsed time every tick
// until the first real text arrives or the composer terminates.
func (c *Composer) runCounter() {
	ticker := time.NewTicker(counterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.counterDone:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != stateActive || c.sawText {
			c.mu.Unlock()
			return
		}
		elapsed := int(time.Since(c.started).Seconds())
		id := c.messageID
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.client.UpdateMessage(ctx, id, fmt.Sprintf("%s (%ds)", placeholderText, elapsed))
		cancel()
		if err != nil {
			c.logger.Debug("counter edit failed", "error", err)
		}
	}
}

// stopCounter is called with c.mu held.
func (c *Composer) stopCounter() {
	select {
	case <-c.counterDone:
	default:
		close(c.counterDone)
	}
}

// Update feeds the full accumulated answer text so far. Edits are
// throttled to roughly every updateEveryWords additional words.
func (c *Composer) Update(ctx context.Context, accumulated string) {
	if strings.TrimSpace(accumulated) == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}
	if !c.sawText {
		c.sawText = true
		c.stopCounter()
	}

	words := len(strings.Fields(accumulated))
	if words-c.flushedWords < updateEveryWords {
		return
	}
	c.flushedWords = words

	if err := c.client.UpdateMessage(ctx, c.messageID, accumulated); err != nil {
		c.logger.Debug("streaming edit failed", "error", err)
	}
}

// Finalize performs the terminal write. Text that fits in one message
// (with safety margin) replaces the placeholder in place; longer text is
// split at paragraph boundaries, the first chunk replacing the
// placeholder and the rest posted in order.
func (c *Composer) Finalize(ctx context.Context, full string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return nil
	}
	c.state = stateFinalized
	c.stopCounter()

	if strings.TrimSpace(full) == "" {
		// Nothing to show: remove the placeholder instead.
		if err := c.client.DeleteMessage(ctx, c.messageID); err != nil {
			c.logger.Debug("delete empty placeholder failed", "error", err)
		}
		return nil
	}

	chunks := SplitMessage(full, c.maxLen-safetyMargin)
	if err := c.client.UpdateMessage(ctx, c.messageID, chunks[0]); err != nil {
		return fmt.Errorf("finalize edit: %w", err)
	}
	for _, chunk := range chunks[1:] {
		if _, err := c.client.SendMessage(ctx, c.channel, c.topic, chunk); err != nil {
			return fmt.Errorf("post continuation: %w", err)
		}
	}
	return nil
}

// Cancel deletes the placeholder outright. Used when the question was
// empty or an error occurred before any useful content was shown.
func (c *Composer) Cancel(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}
	c.state = stateCancelled
	c.stopCounter()

	if err := c.client.DeleteMessage(ctx, c.messageID); err != nil {
		c.logger.Debug("cancel delete failed", "error", err)
	}
}
