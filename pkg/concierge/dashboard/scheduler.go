package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// ErrUnknownProducer is returned when a start command names a producer
// that is not registered.
var ErrUnknownProducer = errors.New("dashboard: unknown producer")

// tickTimeout bounds one cron-fired render cycle.
const tickTimeout = 60 * time.Second

// Scheduler owns the producer registry and the per-instance timers.
// Timer handles live here, keyed by instance id, and every mutation
// path keeps them consistent with the persisted rows: a row without a
// timer, or a timer without a row, is the bug class this guards against.
type Scheduler struct {
	env    *services.Env
	cron   *cron.Cron
	logger *slog.Logger

	producers map[string]Producer
	order     []string

	mu      sync.Mutex
	entries map[int64]cron.EntryID
}

// NewScheduler builds a scheduler with the given producers, dropping
// any whose name is in disabled.
func NewScheduler(env *services.Env, disabled []string, producers ...Producer) *Scheduler {
	off := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		off[d] = true
	}

	s := &Scheduler{
		env:       env,
		cron:      cron.New(),
		logger:    env.Logger.With("component", "dashboard"),
		producers: make(map[string]Producer),
		entries:   make(map[int64]cron.EntryID),
	}
	for _, p := range producers {
		if off[p.Name()] {
			s.logger.Info("producer disabled", "producer", p.Name())
			continue
		}
		s.producers[p.Name()] = p
		s.order = append(s.order, p.Name())
	}
	return s
}

// Producers returns the registered producer names in registration order.
func (s *Scheduler) Producers() []string {
	return append([]string(nil), s.order...)
}

// Start creates and boots a new dashboard instance: placeholder message,
// persisted row, one synchronous bootstrap tick, then a recurring timer.
// Unknown names, invalid params and duplicate (name, location) pairs are
// rejected before any side effect.
func (s *Scheduler) Start(ctx context.Context, name, params, channel, topic string, interval time.Duration) error {
	p, ok := s.producers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProducer, name)
	}
	if err := p.Validate(params); err != nil {
		return fmt.Errorf("invalid parameters for %q: %w", name, err)
	}

	existing, err := s.env.Store.DashboardsIn(ctx, channel, topic, name)
	if err != nil {
		return fmt.Errorf("check existing dashboards: %w", err)
	}
	if len(existing) > 0 {
		return store.ErrDashboardExists
	}

	msgID, err := s.env.Client.SendMessage(ctx, channel, topic,
		fmt.Sprintf("*setting up %s dashboard…*", name))
	if err != nil {
		return fmt.Errorf("post placeholder: %w", err)
	}

	d := &store.Dashboard{
		Name:      name,
		Channel:   channel,
		Topic:     topic,
		MessageID: msgID,
		Interval:  interval,
		Params:    params,
	}
	if err := s.env.Store.CreateDashboard(ctx, d); err != nil {
		// Lost a race on the unique constraint: clean up the placeholder.
		if delErr := s.env.Client.DeleteMessage(ctx, msgID); delErr != nil {
			s.logger.Debug("placeholder cleanup failed", "error", delErr)
		}
		return err
	}

	// Bootstrap tick: obtains real content and seeds seen state without
	// announcing individual items.
	s.tick(ctx, d.ID)

	s.armTimer(*d)
	s.logger.Info("dashboard started",
		"producer", name, "channel", channel, "topic", topic,
		"interval", interval, "instance", d.ID)
	return nil
}

// Stop tears down the named instance (or all instances when name is
// empty) in (channel, topic). The pinned messages are deleted best
// effort; teardown happens regardless. Returns how many were stopped.
func (s *Scheduler) Stop(ctx context.Context, name, channel, topic string) (int, error) {
	rows, err := s.env.Store.DashboardsIn(ctx, channel, topic, name)
	if err != nil {
		return 0, fmt.Errorf("list dashboards: %w", err)
	}
	for _, d := range rows {
		if err := s.env.Client.DeleteMessage(ctx, d.MessageID); err != nil {
			s.logger.Debug("pinned message delete failed",
				"instance", d.ID, "error", err)
		}
		s.teardown(ctx, d.ID, "stopped")
	}
	return len(rows), nil
}

// Refresh forces an out-of-cycle tick for the named instance (or all
// instances when name is empty) in (channel, topic) without touching
// the timers. Returns how many were refreshed.
func (s *Scheduler) Refresh(ctx context.Context, name, channel, topic string) (int, error) {
	rows, err := s.env.Store.DashboardsIn(ctx, channel, topic, name)
	if err != nil {
		return 0, fmt.Errorf("list dashboards: %w", err)
	}
	for _, d := range rows {
		s.tick(ctx, d.ID)
	}
	return len(rows), nil
}

// Resume restores persisted instances on process start: each valid row
// gets one immediate tick and a re-armed timer; a row whose producer
// name is no longer registered is orphaned and deleted instead.
func (s *Scheduler) Resume(ctx context.Context) error {
	s.cron.Start()

	rows, err := s.env.Store.ListDashboards(ctx)
	if err != nil {
		return fmt.Errorf("load dashboards: %w", err)
	}
	for _, d := range rows {
		if _, ok := s.producers[d.Name]; !ok {
			s.logger.Warn("deleting orphaned dashboard",
				"instance", d.ID, "producer", d.Name)
			if err := s.env.Store.DeleteDashboard(ctx, d.ID); err != nil {
				s.logger.Error("orphan delete failed", "instance", d.ID, "error", err)
			}
			continue
		}
		s.tick(ctx, d.ID)
		s.armTimer(d)
		s.logger.Info("dashboard resumed",
			"producer", d.Name, "instance", d.ID, "interval", d.Interval)
	}
	return nil
}

// Shutdown stops all timers. Rows stay persisted for the next start.
func (s *Scheduler) Shutdown() {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("dashboard shutdown timed out")
	}
}

// EntryCount returns how many timers are armed.
func (s *Scheduler) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// armTimer registers the recurring tick for an instance, replacing any
// previous entry for the same id.
func (s *Scheduler) armTimer(d store.Dashboard) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[d.ID]; ok {
		s.cron.Remove(old)
		delete(s.entries, d.ID)
	}

	id := d.ID
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %s", d.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
		defer cancel()
		s.tick(ctx, id)
	})
	if err != nil {
		// Interval came from our own row; a parse failure here means the
		// row is corrupt. Leave it timer-less and visible in the logs.
		s.logger.Error("failed to arm dashboard timer",
			"instance", d.ID, "interval", d.Interval, "error", err)
		return
	}
	s.entries[d.ID] = entry
}

// removeTimer drops the cron entry for an instance if present.
func (s *Scheduler) removeTimer(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// teardown cancels the timer and deletes the row (markers cascade).
func (s *Scheduler) teardown(ctx context.Context, id int64, reason string) {
	s.removeTimer(id)
	if err := s.env.Store.DeleteDashboard(ctx, id); err != nil {
		s.logger.Error("dashboard row delete failed", "instance", id, "error", err)
		return
	}
	s.logger.Info("dashboard torn down", "instance", id, "reason", reason)
}

// tick runs one render-and-patch cycle. Failures are swallowed and
// logged so the next tick can retry; the one exception is a confirmed
// missing pinned message, which tears the instance down.
func (s *Scheduler) tick(ctx context.Context, id int64) {
	d, err := s.env.Store.GetDashboard(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrDashboardNotFound) {
			// Row already gone; drop the stray timer.
			s.removeTimer(id)
			return
		}
		s.logger.Error("dashboard load failed", "instance", id, "error", err)
		return
	}

	p, ok := s.producers[d.Name]
	if !ok {
		s.logger.Warn("tick for unregistered producer, tearing down",
			"instance", id, "producer", d.Name)
		s.teardown(ctx, id, "producer unregistered")
		return
	}

	content, err := p.Render(ctx, &Tick{
		Instance:  d,
		Bootstrap: !d.Bootstrapped,
		Env:       s.env,
	})
	if err != nil {
		s.logger.Warn("dashboard tick failed",
			"instance", id, "producer", d.Name, "error", err)
		return
	}

	if err := s.env.Client.UpdateMessage(ctx, d.MessageID, content); err != nil {
		if errors.Is(err, gateway.ErrMessageGone) {
			s.teardown(ctx, id, "pinned message gone")
			return
		}
		s.logger.Warn("pinned message update failed",
			"instance", id, "error", err)
		return
	}

	if !d.Bootstrapped {
		if err := s.env.Store.MarkBootstrapped(ctx, id); err != nil {
			s.logger.Error("mark bootstrapped failed", "instance", id, "error", err)
		}
	}
}
