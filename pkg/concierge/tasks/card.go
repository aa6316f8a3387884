package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// renderCard produces the card message body for a task. The card is the
// single surface the bot keeps edited in place as the task changes state.
func (s *Service) renderCard(t *store.Task, assignees []store.Assignee) string {
	var b strings.Builder

	excerpt := plainExcerpt(t.Content)
	if t.Status == store.StatusDone {
		fmt.Fprintf(&b, ":%s: ~~%s~~\n", s.env.Config.Tasks.DoneEmoji, excerpt)
	} else {
		fmt.Fprintf(&b, ":%s: **%s**\n", s.env.Config.Tasks.MarkerEmoji, excerpt)
	}

	fmt.Fprintf(&b, "\nfrom #**%s>%s**, created by %s on %s\n",
		t.SourceChannel, t.SourceTopic, t.CreatorName, t.CreatedAt.Format("2006-01-02"))

	if len(assignees) > 0 {
		parts := make([]string, len(assignees))
		for i, a := range assignees {
			parts[i] = mentionOf(a.UserName)
		}
		fmt.Fprintf(&b, "assigned to %s\n", strings.Join(parts, ", "))
	} else {
		b.WriteString("unassigned\n")
	}

	if t.Status == store.StatusDone && t.CompletedBy != "" {
		fmt.Fprintf(&b, "completed by %s\n", t.CompletedBy)
	}

	fmt.Fprintf(&b, "\nreact with :%s: to mark done, remove it to reopen",
		s.env.Config.Tasks.DoneEmoji)
	return b.String()
}

// refreshCard re-renders a task's card message after a state change.
// A missing card is tolerated: the task row stays valid even if someone
// deleted the card by hand.
func (s *Service) refreshCard(ctx context.Context, t *store.Task) {
	if t.CardMessageID == 0 {
		return
	}
	assignees, err := s.env.Store.Assignees(ctx, t.ID)
	if err != nil {
		s.logger.Error("load assignees for card refresh", "task", t.ID, "error", err)
		return
	}
	if err := s.env.Client.UpdateMessage(ctx, t.CardMessageID, s.renderCard(t, assignees)); err != nil {
		s.logger.Warn("card refresh failed",
			"task", t.ID, "message_id", t.CardMessageID, "error", err)
	}
}

// taskLine is the one-line summary used by the "tasks" listing.
func taskLine(tw store.TaskWithAssignees) string {
	var b strings.Builder
	excerpt := plainExcerpt(tw.Task.Content)
	if r := []rune(excerpt); len(r) > 120 {
		excerpt = string(r[:120]) + "…"
	}
	if tw.Task.Status == store.StatusDone {
		fmt.Fprintf(&b, "- ~~%s~~", excerpt)
	} else {
		fmt.Fprintf(&b, "- %s", excerpt)
	}
	if tw.Task.CardChannel != "" {
		fmt.Fprintf(&b, " (#**%s>%s**)", tw.Task.CardChannel, tw.Task.CardTopic)
	}
	return b.String()
}
