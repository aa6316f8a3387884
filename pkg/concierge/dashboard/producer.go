// Package dashboard implements self-refreshing pinned messages. A
// dashboard instance is a persisted row plus a recurring timer that
// re-renders a named producer's content and patches the pinned message.
package dashboard

import (
	"context"

	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// Tick carries everything a producer needs for one render cycle.
type Tick struct {
	// Instance is the persisted dashboard row being rendered.
	Instance store.Dashboard

	// Bootstrap is true on the instance's first tick. A producer may
	// seed its seen-item state during bootstrap but must not announce
	// individual items.
	Bootstrap bool

	// Env gives producers access to the store (seen markers) and the
	// messaging client (per-item announcements).
	Env *services.Env
}

// Producer renders content for one kind of dashboard.
type Producer interface {
	// Name is the registry name users start the dashboard by.
	Name() string

	// Validate checks the free-form parameter string before any side
	// effect happens.
	Validate(params string) error

	// Render produces the pinned-message content for one tick. On
	// non-bootstrap ticks a producer may additionally post standalone
	// messages (e.g. per new feed item) through tick.Env.
	Render(ctx context.Context, tick *Tick) (string, error)
}
