package tasks

import (
	"reflect"
	"testing"
)

const quoted = "task --topic @**Bob** @**Carol Díaz**\n" +
	"@_**Ada|7** [said](https://chat.example.com/#narrow/channel/5-dev/topic/ci/near/42):\n" +
	"```quote\nfix the build @**Dave**\n```"

func TestQuotedMessageID(t *testing.T) {
	id, ok := quotedMessageID(quoted)
	if !ok || id != 42 {
		t.Fatalf("got %d %v, want 42 true", id, ok)
	}
	if _, ok := quotedMessageID("no quote here"); ok {
		t.Fatal("found a quote in plain text")
	}
}

func TestMentionedNamesSkipQuoteAndSelf(t *testing.T) {
	names := mentionedNames(stripQuoteBlocks(quoted), "Concierge")
	want := []string{"Bob", "Carol Díaz"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("got %v, want %v", names, want)
	}
}

func TestMentionedNamesDedup(t *testing.T) {
	names := mentionedNames("@**Bob** @**bob** @**Bob|12**", "Concierge")
	if !reflect.DeepEqual(names, []string{"Bob"}) {
		t.Fatalf("got %v", names)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Engineering":     "engineering",
		"Core Infra":      "core-infra",
		"R&D / Platform":  "r-d-platform",
		"  Design  Team ": "design-team",
	}
	for in, want := range cases {
		if got := slug(in); got != want {
			t.Errorf("slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTopicForTask(t *testing.T) {
	got := topicForTask("fix the flaky integration test on main before release")
	if got != "✔ fix the flaky integration test on" {
		t.Fatalf("got %q", got)
	}
	if topicForTask("") != "✔ task" {
		t.Fatalf("empty content: %q", topicForTask(""))
	}
}
