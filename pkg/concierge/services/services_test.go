package services

import (
	"context"
	"errors"
	"testing"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
)

type stubService struct {
	name   string
	claim  bool
	err    error
	called int
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) OnMessage(ctx context.Context, msg *gateway.Message, command string) (bool, error) {
	s.called++
	return s.claim, s.err
}

func TestDispatchFirstClaimWins(t *testing.T) {
	first := &stubService{name: "first"}
	second := &stubService{name: "second", claim: true}
	third := &stubService{name: "third", claim: true}
	r := NewRegistry(nil, nil, first, second, third)

	claimed := r.Dispatch(context.Background(), &gateway.Message{ID: 1}, "hello")
	if !claimed {
		t.Fatal("expected the message to be claimed")
	}
	if first.called != 1 || second.called != 1 {
		t.Fatalf("call counts: first=%d second=%d", first.called, second.called)
	}
	if third.called != 0 {
		t.Fatal("chain did not stop at the first claimer")
	}
}

func TestDispatchTreatsErrorAsNotClaimed(t *testing.T) {
	failing := &stubService{name: "failing", claim: true, err: errors.New("boom")}
	fallback := &stubService{name: "fallback", claim: true}
	r := NewRegistry(nil, nil, failing, fallback)

	if !r.Dispatch(context.Background(), &gateway.Message{ID: 2}, "hello") {
		t.Fatal("expected fallback to claim")
	}
	if fallback.called != 1 {
		t.Fatal("fallback was not reached after the error")
	}
}

func TestDispatchUnclaimed(t *testing.T) {
	r := NewRegistry(nil, nil, &stubService{name: "quiet"})
	if r.Dispatch(context.Background(), &gateway.Message{ID: 3}, "hello") {
		t.Fatal("nothing should have claimed")
	}
}

func TestDisabledServicesAreDropped(t *testing.T) {
	off := &stubService{name: "off", claim: true}
	on := &stubService{name: "on", claim: true}
	r := NewRegistry(nil, []string{"off"}, off, on)

	if got := len(r.Services()); got != 1 {
		t.Fatalf("chain length: got %d, want 1", got)
	}
	r.Dispatch(context.Background(), &gateway.Message{ID: 4}, "hello")
	if off.called != 0 {
		t.Fatal("disabled service was dispatched to")
	}
}
