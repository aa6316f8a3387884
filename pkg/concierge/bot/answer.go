package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/conciergebot/concierge/pkg/concierge/engine"
	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/reply"
)

// handleMention strips the bot mention, runs the service chain, and
// falls back to an engine answer when no service claims the message.
func (b *Bot) handleMention(ctx context.Context, msg *gateway.Message) {
	log := b.logger.With("request_id", uuid.NewString()[:8],
		"channel", msg.Channel, "topic", msg.Topic, "message_id", msg.ID)

	command := b.stripSelfMention(msg.Content)
	if strings.TrimSpace(command) == "" {
		b.env.Reply(ctx, msg, "Yes? Ask me a question, or try `help`.")
		return
	}

	if b.registry.Dispatch(ctx, msg, command) {
		return
	}

	log.Info("answering via engine", "words", len(strings.Fields(command)))
	b.answer(ctx, msg, command, log.With("component", "answer"))
}

// answer streams an engine response through the composer: placeholder
// first, throttled edits while text arrives, final split-and-post.
func (b *Bot) answer(ctx context.Context, msg *gateway.Message, question string, log *slog.Logger) {
	history := b.history(ctx, msg)

	comp, err := reply.Start(ctx, b.env.Client, msg.Channel, msg.Topic,
		b.env.Config.Gateway.MaxMessageLen, b.env.Logger)
	if err != nil {
		log.Error("placeholder post failed", "error", err)
		b.env.Reply(ctx, msg, "Sorry, I couldn't start a reply just now.")
		return
	}

	final, err := b.engine.AskStream(ctx, question, history, func(accumulated string) {
		comp.Update(ctx, accumulated)
	})
	if err != nil {
		log.Error("engine run failed", "error", err)
		comp.Cancel(ctx)
		b.env.Reply(ctx, msg, "Sorry, I hit a snag answering that. Please try again.")
		return
	}

	if err := comp.Finalize(ctx, final); err != nil {
		log.Error("finalize failed", "error", err)
	}
}

// history loads recent topic messages as conversation turns, excluding
// the triggering mention itself (the engine gets it as the question).
func (b *Bot) history(ctx context.Context, msg *gateway.Message) []engine.Turn {
	depth := b.env.Config.Engine.HistoryDepth
	if depth <= 0 {
		return nil
	}
	msgs, err := b.env.Client.RecentMessages(ctx, msg.Channel, msg.Topic, depth)
	if err != nil {
		b.logger.Warn("history fetch failed", "channel", msg.Channel, "topic", msg.Topic, "error", err)
		return nil
	}

	turns := make([]engine.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == msg.ID {
			continue
		}
		turns = append(turns, engine.Turn{Speaker: m.SenderFullName, Text: m.Content})
	}
	return turns
}

// stripSelfMention removes the leading mention of the bot from a
// message, leaving the command text.
func (b *Bot) stripSelfMention(content string) string {
	pat := fmt.Sprintf(`^\s*@\*\*%s(\|\d+)?\*\*:?\s*`, regexp.QuoteMeta(b.env.Self.FullName))
	re, err := regexp.Compile(pat)
	if err != nil {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(re.ReplaceAllString(content, ""))
}
