// Package tasks implements the task lifecycle service: promoting chat
// messages into tracked tasks, keeping each task's card message edited
// in place as its state changes, and toggling completion through emoji
// reactions.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// Service handles the "task", "tasks", "assign" and "unassign" commands
// plus the promote/done reaction flows.
type Service struct {
	env    *services.Env
	logger *slog.Logger
}

// New builds the task service.
func New(env *services.Env) *Service {
	return &Service{
		env:    env,
		logger: env.Logger.With("component", "tasks"),
	}
}

// Name implements services.Service.
func (s *Service) Name() string { return "tasks" }

// OnMessage implements services.Service.
func (s *Service) OnMessage(ctx context.Context, msg *gateway.Message, command string) (bool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "task":
		s.handlePromote(ctx, msg, command)
	case "tasks":
		s.handleList(ctx, msg, strings.TrimSpace(strings.TrimPrefix(command, "tasks")))
	case "assign":
		s.handleAssign(ctx, msg, command, true)
	case "unassign":
		s.handleAssign(ctx, msg, command, false)
	default:
		return false, nil
	}
	return true, nil
}

// handlePromote services "task": promote the quote-replied message into
// a tracked task. Mentions outside the quote become assignees; the
// "--topic" flag gives the card a dedicated topic.
func (s *Service) handlePromote(ctx context.Context, msg *gateway.Message, command string) {
	sourceID, ok := quotedMessageID(msg.Content)
	if !ok {
		s.env.Reply(ctx, msg, "Quote-reply the message you want tracked, then mention me with `task`.")
		return
	}
	source, err := s.env.Client.GetMessage(ctx, sourceID)
	if err != nil {
		s.logger.Warn("quoted message lookup failed", "message_id", sourceID, "error", err)
		s.env.Reply(ctx, msg, "I couldn't fetch the quoted message; it may have been deleted.")
		return
	}
	if !source.IsStream() {
		s.env.Reply(ctx, msg, "Only channel messages can be tracked as tasks.")
		return
	}

	outside := stripQuoteBlocks(command)
	opts := promoteOpts{
		creator:   gateway.User{ID: msg.SenderID, Email: msg.SenderEmail, FullName: msg.SenderFullName},
		assignees: mentionedNames(outside, s.env.Self.FullName),
		ownTopic:  strings.Contains(outside, "--topic"),
	}

	t, err := s.promote(ctx, source, opts)
	switch {
	case errors.Is(err, store.ErrTaskExists):
		s.env.Reply(ctx, msg, "That message is already tracked as a task.")
	case err != nil:
		s.logger.Error("promotion failed", "message_id", sourceID, "error", err)
		s.env.Reply(ctx, msg, "Sorry, I couldn't create the task: "+err.Error())
	default:
		s.env.Reply(ctx, msg, fmt.Sprintf("Tracking it in #**%s>%s**.", t.CardChannel, t.CardTopic))
	}
}

// handleList services "tasks [name]": the caller's (or the named
// user's) open and done tasks, grouped into assigned and created.
func (s *Service) handleList(ctx context.Context, msg *gateway.Message, arg string) {
	name := msg.SenderFullName
	if m := mentionRE.FindStringSubmatch(arg); m != nil {
		name = strings.TrimSpace(m[1])
	} else if arg != "" {
		name = arg
	}

	assigned, created, err := s.env.Store.TasksFor(ctx, name)
	if err != nil {
		s.logger.Error("task listing failed", "user", name, "error", err)
		s.env.Reply(ctx, msg, "Sorry, I couldn't load the task list.")
		return
	}
	if len(assigned) == 0 && len(created) == 0 {
		s.env.Reply(ctx, msg, fmt.Sprintf("No tasks for %s.", name))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Tasks for %s**\n", name)
	if len(assigned) > 0 {
		b.WriteString("\nAssigned:\n")
		for _, tw := range assigned {
			b.WriteString(taskLine(tw) + "\n")
		}
	}
	if len(created) > 0 {
		b.WriteString("\nCreated:\n")
		for _, tw := range created {
			b.WriteString(taskLine(tw) + "\n")
		}
	}
	s.env.Reply(ctx, msg, strings.TrimRight(b.String(), "\n"))
}

// handleAssign services "assign"/"unassign": quote-reply to a task card
// and mention the users to add or remove.
func (s *Service) handleAssign(ctx context.Context, msg *gateway.Message, command string, add bool) {
	verb := "assign"
	if !add {
		verb = "unassign"
	}

	cardID, ok := quotedMessageID(msg.Content)
	if !ok {
		s.env.Reply(ctx, msg, fmt.Sprintf("Quote-reply the task card you want to %s on.", verb))
		return
	}
	t, err := s.env.Store.TaskByCard(ctx, cardID)
	if errors.Is(err, store.ErrTaskNotFound) {
		s.env.Reply(ctx, msg, "The quoted message isn't a task card I know about.")
		return
	}
	if err != nil {
		s.logger.Error("card lookup failed", "message_id", cardID, "error", err)
		s.env.Reply(ctx, msg, "Sorry, something went wrong looking up that task.")
		return
	}

	names := mentionedNames(stripQuoteBlocks(command), s.env.Self.FullName)
	if len(names) == 0 {
		s.env.Reply(ctx, msg, fmt.Sprintf("Mention who to %s.", verb))
		return
	}

	if add {
		err = s.env.Store.AddAssignees(ctx, t.ID, names)
	} else {
		for _, n := range names {
			if err = s.env.Store.RemoveAssignee(ctx, t.ID, n); err != nil {
				break
			}
		}
	}
	if err != nil {
		s.logger.Error("assignee update failed", "task", t.ID, "error", err)
		s.env.Reply(ctx, msg, "Sorry, I couldn't update the assignees.")
		return
	}

	s.refreshCard(ctx, &t)
	s.env.Reply(ctx, msg, fmt.Sprintf("Done, %sed %s.", verb, strings.Join(names, ", ")))
}

// OnReaction implements services.ReactionHandler. Two flows hang off
// reactions: the promote emoji on any channel message creates a task
// with the reactor as creator and sole assignee, and the done emoji on
// a task card toggles completion.
func (s *Service) OnReaction(ctx context.Context, ev *gateway.ReactionEvent) error {
	if ev.UserID == s.env.Self.ID {
		return nil
	}
	cfg := s.env.Config.Tasks

	if ev.EmojiName == cfg.DoneEmoji {
		t, err := s.env.Store.TaskByCard(ctx, ev.MessageID)
		if err == nil {
			return s.toggleDone(ctx, &t, ev)
		}
		if !errors.Is(err, store.ErrTaskNotFound) {
			return err
		}
	}

	if ev.EmojiName == cfg.PromoteEmoji && ev.Added() {
		return s.promoteByReaction(ctx, ev)
	}
	return nil
}

// toggleDone flips a task's completion to follow the done reaction.
// Repeated adds or removes in the same state are no-ops.
func (s *Service) toggleDone(ctx context.Context, t *store.Task, ev *gateway.ReactionEvent) error {
	if ev.Added() {
		if t.Status == store.StatusDone {
			return nil
		}
		who := s.reactorName(ctx, ev.UserID)
		if err := s.env.Store.CompleteTask(ctx, t.ID, who, time.Now()); err != nil {
			return err
		}
		t.Status = store.StatusDone
		t.CompletedBy = who
		s.logger.Info("task completed", "task", t.ID, "by", who)
	} else {
		if t.Status == store.StatusOpen {
			return nil
		}
		if err := s.env.Store.ReopenTask(ctx, t.ID); err != nil {
			return err
		}
		t.Status = store.StatusOpen
		t.CompletedBy = ""
		s.logger.Info("task reopened", "task", t.ID)
	}
	s.refreshCard(ctx, t)
	return nil
}

// promoteByReaction promotes the reacted-on message with the reactor as
// creator and sole assignee. Already-tracked messages are left alone.
func (s *Service) promoteByReaction(ctx context.Context, ev *gateway.ReactionEvent) error {
	source, err := s.env.Client.GetMessage(ctx, ev.MessageID)
	if err != nil {
		if errors.Is(err, gateway.ErrMessageGone) {
			return nil
		}
		return fmt.Errorf("fetch reacted message: %w", err)
	}
	if !source.IsStream() || source.SenderID == s.env.Self.ID {
		return nil
	}

	reactor, err := s.env.Client.GetUser(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("fetch reactor: %w", err)
	}

	t, err := s.promote(ctx, source, promoteOpts{
		creator:   reactor,
		assignees: []string{reactor.FullName},
	})
	if errors.Is(err, store.ErrTaskExists) {
		return nil
	}
	if err != nil {
		return err
	}

	// The same confirmation the explicit command gives, in the source
	// topic; the reactor otherwise gets no feedback at all.
	confirmation := fmt.Sprintf("%s is tracking this in #**%s>%s**.",
		mentionOf(reactor.FullName), t.CardChannel, t.CardTopic)
	if _, err := s.env.Client.SendMessage(ctx, source.Channel, source.Topic, confirmation); err != nil {
		s.logger.Warn("promotion confirmation failed", "task", t.ID, "error", err)
	}
	return nil
}

// reactorName resolves a user id to a display name, falling back to the
// id when the lookup fails.
func (s *Service) reactorName(ctx context.Context, userID int64) string {
	u, err := s.env.Client.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn("reactor lookup failed", "user_id", userID, "error", err)
		return fmt.Sprintf("user %d", userID)
	}
	return u.FullName
}
