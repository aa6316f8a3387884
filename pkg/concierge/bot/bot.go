// Package bot runs the event loop: it registers an event queue with the
// platform, long-polls it, and fans incoming mentions and reactions out
// to the service chain. Each event is handled in its own goroutine so a
// slow handler never stalls the poll.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/engine"
	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
)

// defaultBackoff is the pause after an unexpected poll failure.
const defaultBackoff = 5 * time.Second

// Bot owns the event loop.
type Bot struct {
	env      *services.Env
	registry *services.Registry
	engine   engine.Engine
	logger   *slog.Logger

	// backoff is overridable in tests.
	backoff time.Duration
}

// New builds the bot.
func New(env *services.Env, registry *services.Registry, eng engine.Engine) *Bot {
	return &Bot{
		env:      env,
		registry: registry,
		engine:   eng,
		logger:   env.Logger.With("component", "bot"),
		backoff:  defaultBackoff,
	}
}

// Run drives the poll loop until ctx is cancelled. Queue expiry is
// recovered by registering a fresh queue immediately; any other poll
// failure keeps the cursor and retries after a backoff.
func (b *Bot) Run(ctx context.Context) error {
	queue, err := b.register(ctx)
	if err != nil {
		return err
	}
	b.logger.Info("event loop started", "queue_id", queue.ID, "cursor", queue.LastEventID)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, err := b.env.Client.Events(ctx, queue.ID, queue.LastEventID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, gateway.ErrQueueInvalid) {
				// Expected when the server restarts or GCs the queue.
				// Events delivered while unregistered are lost; the new
				// queue starts at the server's current position.
				b.logger.Warn("event queue expired, re-registering")
				fresh, err := b.register(ctx)
				if err != nil {
					// Keep the expired queue; the next poll fails the same
					// way and re-registration is attempted again.
					b.logger.Error("queue re-registration failed", "error", err)
					b.sleep(ctx)
					continue
				}
				queue = fresh
				continue
			}
			b.logger.Error("event poll failed", "error", err)
			b.sleep(ctx)
			continue
		}

		for i := range events {
			ev := events[i]
			if ev.ID > queue.LastEventID {
				queue.LastEventID = ev.ID
			}
			b.handleEvent(ctx, &ev)
		}
	}
}

func (b *Bot) register(ctx context.Context) (gateway.Queue, error) {
	return b.env.Client.RegisterQueue(ctx, []string{gateway.EventMessage, gateway.EventReaction})
}

func (b *Bot) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(b.backoff):
	}
}

// handleEvent routes one queue event. Handlers run in their own
// goroutines; the gate below decides which events are worth one.
func (b *Bot) handleEvent(ctx context.Context, ev *gateway.Event) {
	switch {
	case ev.Message != nil:
		msg := ev.Message
		if !msg.IsStream() || msg.SenderID == b.env.Self.ID || !ev.HasFlag("mentioned") {
			return
		}
		go b.safely("mention", func() { b.handleMention(ctx, msg) })

	case ev.Reaction != nil:
		re := ev.Reaction
		if re.UserID == b.env.Self.ID {
			return
		}
		for _, h := range b.registry.ReactionHandlers() {
			h := h
			go b.safely("reaction", func() {
				if err := h.OnReaction(ctx, re); err != nil {
					b.logger.Error("reaction handler failed",
						"message_id", re.MessageID, "emoji", re.EmojiName, "error", err)
				}
			})
		}
	}
}

// safely runs fn, containing panics to the one event that caused them.
func (b *Bot) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				"kind", kind, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
