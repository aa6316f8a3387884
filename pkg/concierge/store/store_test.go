package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.DiscardHandler)

	s1, err := Open(path, logger)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := Open(path, logger)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	s2.Close()
}

func TestCreateTaskDuplicateSource(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	task := Task{
		Content: "fix the build", CreatorName: "Ada", CreatorID: 7,
		SourceChannel: "dev", SourceTopic: "ci", SourceMessageID: 42,
	}
	if err := s.CreateTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == 0 {
		t.Fatal("expected task id to be set")
	}

	dup := Task{
		Content: "fix the build again", CreatorName: "Bob", CreatorID: 8,
		SourceChannel: "dev", SourceTopic: "ci", SourceMessageID: 42,
	}
	if err := s.CreateTask(ctx, &dup); !errors.Is(err, ErrTaskExists) {
		t.Fatalf("duplicate source: got %v, want ErrTaskExists", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	task := Task{
		Content: "write release notes", CreatorName: "Ada", CreatorID: 7,
		SourceChannel: "dev", SourceTopic: "release", SourceMessageID: 1, OwnTopic: true,
	}
	if err := s.CreateTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.SetTaskCard(ctx, task.ID, "tasks-dev", "tasks", 500); err != nil {
		t.Fatalf("set card: %v", err)
	}

	got, err := s.TaskByCard(ctx, 500)
	if err != nil {
		t.Fatalf("by card: %v", err)
	}
	if got.ID != task.ID || !got.OwnTopic || got.CardChannel != "tasks-dev" {
		t.Fatalf("by card mismatch: %+v", got)
	}

	if err := s.CompleteTask(ctx, task.ID, "Bob", time.Now()); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Status != StatusDone || got.CompletedBy != "Bob" || got.CompletedAt == nil {
		t.Fatalf("after complete: %+v", got)
	}

	if err := s.ReopenTask(ctx, task.ID); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Status != StatusOpen || got.CompletedBy != "" || got.CompletedAt != nil {
		t.Fatalf("after reopen: %+v", got)
	}
}

func TestAssigneesAreUniquePerTask(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	task := Task{Content: "x", CreatorName: "Ada", CreatorID: 7,
		SourceChannel: "dev", SourceTopic: "t", SourceMessageID: 2}
	if err := s.CreateTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.AddAssignees(ctx, task.ID, []string{"Bob", "Carol"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.AddAssignees(ctx, task.ID, []string{"Bob"}); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	as, err := s.Assignees(ctx, task.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(as) != 2 {
		t.Fatalf("got %d assignees, want 2", len(as))
	}

	if err := s.RemoveAssignee(ctx, task.ID, "Carol"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveAssignee(ctx, task.ID, "Nobody"); err != nil {
		t.Fatalf("remove absent should be a no-op: %v", err)
	}
	as, _ = s.Assignees(ctx, task.ID)
	if len(as) != 1 || as[0].UserName != "Bob" {
		t.Fatalf("after removals: %+v", as)
	}
}

func TestTasksForGroupsAndCase(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	mk := func(srcID int64, creator string) Task {
		task := Task{Content: "c", CreatorName: creator, CreatorID: 1,
			SourceChannel: "dev", SourceTopic: "t", SourceMessageID: srcID}
		if err := s.CreateTask(ctx, &task); err != nil {
			t.Fatalf("create %d: %v", srcID, err)
		}
		return task
	}

	assignedOnly := mk(10, "Someone Else")
	createdAndAssigned := mk(11, "Ada")
	createdOnly := mk(12, "Ada")
	mk(13, "Unrelated")

	s.AddAssignees(ctx, assignedOnly.ID, []string{"ada"})
	s.AddAssignees(ctx, createdAndAssigned.ID, []string{"Ada"})

	assigned, created, err := s.TasksFor(ctx, "ADA")
	if err != nil {
		t.Fatalf("tasks for: %v", err)
	}
	if len(assigned) != 2 {
		t.Fatalf("assigned group: got %d, want 2", len(assigned))
	}
	if len(created) != 1 || created[0].Task.ID != createdOnly.ID {
		t.Fatalf("created group: %+v", created)
	}
}

func TestDashboardSeenMarkers(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	d := Dashboard{Name: "rss", Channel: "news", Topic: "feed",
		MessageID: 900, Interval: 15 * time.Minute, Params: "https://example.com/rss"}
	if err := s.CreateDashboard(ctx, &d); err != nil {
		t.Fatalf("create dashboard: %v", err)
	}

	first, err := s.MarkSeen(ctx, d.ID, "guid-1")
	if err != nil || !first {
		t.Fatalf("first mark: %v %v", first, err)
	}
	again, err := s.MarkSeen(ctx, d.ID, "guid-1")
	if err != nil || again {
		t.Fatalf("second mark should not be new: %v %v", again, err)
	}

	n, err := s.SeenCount(ctx, d.ID)
	if err != nil || n != 1 {
		t.Fatalf("seen count: %d %v", n, err)
	}

	// Deleting the dashboard cascades to its markers.
	if err := s.DeleteDashboard(ctx, d.ID); err != nil {
		t.Fatalf("delete dashboard: %v", err)
	}
	n, err = s.SeenCount(ctx, d.ID)
	if err != nil || n != 0 {
		t.Fatalf("seen count after delete: %d %v", n, err)
	}
}

func TestDashboardsInFilters(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	mk := func(name, channel, topic string) Dashboard {
		d := Dashboard{Name: name, Channel: channel, Topic: topic,
			MessageID: 1, Interval: time.Minute}
		if err := s.CreateDashboard(ctx, &d); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return d
	}
	mk("rss", "news", "feed")
	mk("weather", "news", "feed")
	mk("rss", "other", "feed")

	all, err := s.DashboardsIn(ctx, "news", "feed", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("all in topic: %d %v", len(all), err)
	}
	one, err := s.DashboardsIn(ctx, "news", "feed", "rss")
	if err != nil || len(one) != 1 || one[0].Name != "rss" {
		t.Fatalf("named in topic: %+v %v", one, err)
	}

	dup := Dashboard{Name: "rss", Channel: "news", Topic: "feed", MessageID: 2, Interval: time.Minute}
	if err := s.CreateDashboard(ctx, &dup); !errors.Is(err, ErrDashboardExists) {
		t.Fatalf("duplicate dashboard: got %v, want ErrDashboardExists", err)
	}
}
