package tasks

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/conciergebot/concierge/pkg/concierge/config"
	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/gateway/gatewaytest"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

func testService(t *testing.T) (*Service, *gatewaytest.Fake, *services.Env) {
	t.Helper()
	fake := gatewaytest.New()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &services.Env{
		Client: fake,
		Config: config.Default(),
		Store:  st,
		Self:   fake.Self,
		Logger: slog.New(slog.DiscardHandler),
	}
	return New(env), fake, env
}

func seedSource(fake *gatewaytest.Fake) gateway.Message {
	src := gateway.Message{
		ID: 42, SenderID: 7, SenderFullName: "Ada", Type: "stream",
		Channel: "dev", Topic: "ci", Content: "fix the build",
	}
	fake.AddMessage(src)
	fake.Channels = append(fake.Channels, gateway.Channel{ID: 5, Name: "dev"})
	fake.Members["dev"] = []string{"ada@example.com", "bob@example.com"}
	return src
}

func promoteCommand() (*gateway.Message, string) {
	content := "@**Concierge** task @**Bob**\n" +
		"@_**Ada|7** [said](https://chat.example.com/#narrow/channel/5-dev/topic/ci/near/42):\n" +
		"```quote\nfix the build\n```"
	msg := &gateway.Message{
		ID: 60, SenderID: 7, SenderFullName: "Ada", Type: "stream",
		Channel: "dev", Topic: "ci", Content: content,
	}
	return msg, strings.TrimPrefix(content, "@**Concierge** ")
}

func TestPromoteByCommand(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()
	src := seedSource(fake)
	msg, command := promoteCommand()

	claimed, err := s.OnMessage(ctx, msg, command)
	if err != nil || !claimed {
		t.Fatalf("on message: claimed=%v err=%v", claimed, err)
	}

	task, err := env.Store.TaskBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("task not stored: %v", err)
	}
	if task.CreatorName != "Ada" || task.Content != "fix the build" {
		t.Fatalf("task fields: %+v", task)
	}

	// Derived channel created with the source's subscribers.
	if len(fake.Created) != 1 || fake.Created[0].Name != "tasks-dev" {
		t.Fatalf("created channels: %+v", fake.Created)
	}
	if len(fake.Created[0].Subscribers) != 2 {
		t.Fatalf("subscribers not copied: %+v", fake.Created[0])
	}

	if task.CardChannel != "tasks-dev" || task.CardMessageID == 0 {
		t.Fatalf("card not recorded: %+v", task)
	}

	as, _ := env.Store.Assignees(ctx, task.ID)
	if len(as) != 1 || as[0].UserName != "Bob" {
		t.Fatalf("assignees: %+v", as)
	}

	// Marker reaction on the source message.
	if len(fake.Reactions) != 1 || fake.Reactions[0].MessageID != src.ID {
		t.Fatalf("marker reaction: %+v", fake.Reactions)
	}

	// Card plus a confirmation reply in the source topic.
	if fake.SentCount() != 2 {
		t.Fatalf("sent %d messages, want card + confirmation", fake.SentCount())
	}
	if got := fake.LastSent(); got.Channel != "dev" || got.Topic != "ci" {
		t.Fatalf("confirmation went to %s>%s", got.Channel, got.Topic)
	}
}

func TestPromoteDuplicateIsRejected(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()
	src := seedSource(fake)
	msg, command := promoteCommand()

	s.OnMessage(ctx, msg, command)
	first, _ := env.Store.TaskBySource(ctx, src.ID)

	s.OnMessage(ctx, msg, command)
	second, err := env.Store.TaskBySource(ctx, src.ID)
	if err != nil || second.ID != first.ID {
		t.Fatalf("duplicate promotion changed state: %+v %v", second, err)
	}
	if got := fake.LastSent(); !strings.Contains(got.Content, "already tracked") {
		t.Fatalf("expected duplicate notice, got %q", got.Content)
	}
}

func TestPromoteWithoutQuoteExplains(t *testing.T) {
	s, fake, _ := testService(t)
	msg := &gateway.Message{ID: 61, SenderID: 7, Type: "stream",
		Channel: "dev", Topic: "ci", Content: "@**Concierge** task"}

	claimed, err := s.OnMessage(context.Background(), msg, "task")
	if err != nil || !claimed {
		t.Fatalf("claimed=%v err=%v", claimed, err)
	}
	if got := fake.LastSent(); !strings.Contains(got.Content, "Quote-reply") {
		t.Fatalf("expected usage hint, got %q", got.Content)
	}
}

func TestPromoteByReaction(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()
	src := seedSource(fake)
	fake.Users = []gateway.User{{ID: 9, FullName: "Carol"}}

	ev := &gateway.ReactionEvent{Op: "add", UserID: 9,
		EmojiName: env.Config.Tasks.PromoteEmoji, MessageID: src.ID}
	if err := s.OnReaction(ctx, ev); err != nil {
		t.Fatalf("on reaction: %v", err)
	}

	task, err := env.Store.TaskBySource(ctx, src.ID)
	if err != nil {
		t.Fatalf("task not stored: %v", err)
	}
	if task.CreatorName != "Carol" {
		t.Fatalf("creator: %+v", task)
	}
	as, _ := env.Store.Assignees(ctx, task.ID)
	if len(as) != 1 || as[0].UserName != "Carol" {
		t.Fatalf("reactor should be sole assignee: %+v", as)
	}

	// The reactor gets the same confirmation the command gives, posted
	// back into the source topic.
	last := fake.LastSent()
	if last.Channel != src.Channel || last.Topic != src.Topic {
		t.Fatalf("confirmation went to %s>%s, want %s>%s", last.Channel, last.Topic, src.Channel, src.Topic)
	}
	if !strings.Contains(last.Content, "@**Carol**") || !strings.Contains(last.Content, task.CardChannel) {
		t.Fatalf("confirmation content: %q", last.Content)
	}
	sent := fake.SentCount()

	// A second reaction must not create another task, confirm again, or error.
	if err := s.OnReaction(ctx, ev); err != nil {
		t.Fatalf("repeat reaction: %v", err)
	}
	if fake.SentCount() != sent {
		t.Fatalf("repeat reaction sent %d extra messages", fake.SentCount()-sent)
	}
}

func TestDoneReactionToggles(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()
	src := seedSource(fake)
	fake.Users = []gateway.User{{ID: 9, FullName: "Carol"}}

	task, err := s.promote(ctx, src, promoteOpts{creator: gateway.User{ID: 7, FullName: "Ada"}})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	done := &gateway.ReactionEvent{Op: "add", UserID: 9,
		EmojiName: env.Config.Tasks.DoneEmoji, MessageID: task.CardMessageID}
	if err := s.OnReaction(ctx, done); err != nil {
		t.Fatalf("done reaction: %v", err)
	}
	got, _ := env.Store.GetTask(ctx, task.ID)
	if got.Status != store.StatusDone || got.CompletedBy != "Carol" {
		t.Fatalf("after done: %+v", got)
	}

	edits := fake.UpdateCount()

	// Re-adding in the same state is a no-op.
	if err := s.OnReaction(ctx, done); err != nil {
		t.Fatalf("repeat done: %v", err)
	}
	if fake.UpdateCount() != edits {
		t.Fatal("no-op toggle re-rendered the card")
	}

	undo := &gateway.ReactionEvent{Op: "remove", UserID: 9,
		EmojiName: env.Config.Tasks.DoneEmoji, MessageID: task.CardMessageID}
	if err := s.OnReaction(ctx, undo); err != nil {
		t.Fatalf("undo reaction: %v", err)
	}
	got, _ = env.Store.GetTask(ctx, task.ID)
	if got.Status != store.StatusOpen || got.CompletedBy != "" {
		t.Fatalf("after undo: %+v", got)
	}
}

func TestAssignByCommand(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()
	src := seedSource(fake)

	task, err := s.promote(ctx, src, promoteOpts{creator: gateway.User{ID: 7, FullName: "Ada"}})
	if err != nil {
		t.Fatalf("promote: %v", err)
	}

	content := "@**Concierge** assign @**Bob**\n" +
		"@_**Concierge** [said](https://chat.example.com/#narrow/channel/9-tasks-dev/topic/tasks/near/" +
		"103):\n```quote\ncard\n```"

	msg := &gateway.Message{ID: 70, SenderID: 7, SenderFullName: "Ada", Type: "stream",
		Channel: task.CardChannel, Topic: task.CardTopic,
		Content: strings.Replace(content, "103", strconv.FormatInt(task.CardMessageID, 10), 1)}

	claimed, err := s.OnMessage(ctx, msg, "assign @**Bob**")
	if err != nil || !claimed {
		t.Fatalf("claimed=%v err=%v", claimed, err)
	}
	as, _ := env.Store.Assignees(ctx, task.ID)
	if len(as) != 1 || as[0].UserName != "Bob" {
		t.Fatalf("assignees: %+v", as)
	}

	msg.Content = strings.Replace(strings.Replace(content, "103", strconv.FormatInt(task.CardMessageID, 10), 1),
		"assign", "unassign", 1)
	claimed, err = s.OnMessage(ctx, msg, "unassign @**Bob**")
	if err != nil || !claimed {
		t.Fatalf("unassign: claimed=%v err=%v", claimed, err)
	}
	as, _ = env.Store.Assignees(ctx, task.ID)
	if len(as) != 0 {
		t.Fatalf("assignees after unassign: %+v", as)
	}
}

func TestTasksListing(t *testing.T) {
	s, fake, _ := testService(t)
	ctx := context.Background()
	src := seedSource(fake)

	if _, err := s.promote(ctx, src, promoteOpts{
		creator: gateway.User{ID: 7, FullName: "Ada"}, assignees: []string{"Ada"},
	}); err != nil {
		t.Fatalf("promote: %v", err)
	}

	msg := &gateway.Message{ID: 80, SenderID: 7, SenderFullName: "Ada", Type: "stream",
		Channel: "dev", Topic: "ci", Content: "@**Concierge** tasks"}
	claimed, err := s.OnMessage(ctx, msg, "tasks")
	if err != nil || !claimed {
		t.Fatalf("claimed=%v err=%v", claimed, err)
	}
	got := fake.LastSent()
	if !strings.Contains(got.Content, "Tasks for Ada") || !strings.Contains(got.Content, "fix the build") {
		t.Fatalf("listing content: %q", got.Content)
	}
}

func TestDestinationPolicy(t *testing.T) {
	s, fake, env := testService(t)
	ctx := context.Background()

	// A message already in a tasks channel stays put.
	got, err := s.destination(ctx, "tasks-dev")
	if err != nil || got != "tasks-dev" {
		t.Fatalf("tasks channel: %q %v", got, err)
	}

	// Folder colocation reuses the folder's tasks channel.
	env.Config.Tasks.FolderColocate = true
	fake.Channels = []gateway.Channel{
		{ID: 1, Name: "eng-chat", FolderID: 9, FolderName: "Engineering"},
		{ID: 2, Name: "tasks-engineering", FolderID: 9},
	}
	got, err = s.destination(ctx, "eng-chat")
	if err != nil || got != "tasks-engineering" {
		t.Fatalf("folder reuse: %q %v", got, err)
	}
	if len(fake.Created) != 0 {
		t.Fatalf("should not create when reusing: %+v", fake.Created)
	}

	// Without an existing channel the folder one is created inside the folder.
	fake.Channels = []gateway.Channel{
		{ID: 1, Name: "design-chat", FolderID: 11, FolderName: "Design Team"},
	}
	fake.Members["design-chat"] = []string{"d@example.com"}
	got, err = s.destination(ctx, "design-chat")
	if err != nil || got != "tasks-design-team" {
		t.Fatalf("folder create: %q %v", got, err)
	}
	if len(fake.Created) != 1 || fake.Created[0].FolderID != 11 {
		t.Fatalf("created: %+v", fake.Created)
	}
}
