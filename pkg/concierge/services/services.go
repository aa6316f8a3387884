// Package services defines the pluggable handler chain for incoming
// mentions. Services are declared statically in a fixed order; the first
// one to claim a message wins and the chain stops. A service may also
// expose reaction handling and an init hook through optional interfaces.
package services

import (
	"context"
	"log/slog"

	"github.com/conciergebot/concierge/pkg/concierge/config"
	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// Env bundles the process-wide handles every service needs: the
// messaging client, configuration, persistence and the bot's own
// identity. Built once at startup; never mutated afterwards.
type Env struct {
	Client gateway.Client
	Config *config.Config
	Store  *store.Store
	Self   gateway.User
	Logger *slog.Logger
}

// Reply posts a plain reply into the topic a message came from.
// Send failures are logged, not propagated: a reply that cannot be
// delivered must not take down the caller.
func (e *Env) Reply(ctx context.Context, msg *gateway.Message, text string) {
	if _, err := e.Client.SendMessage(ctx, msg.Channel, msg.Topic, text); err != nil {
		e.Logger.Error("failed to send reply",
			"channel", msg.Channel, "topic", msg.Topic, "error", err)
	}
}

// Service is one member of the dispatch chain.
type Service interface {
	// Name returns the service identifier used in config and logs.
	Name() string

	// OnMessage inspects a mention and returns true if it claimed it.
	// The command text arrives with the bot mention already stripped.
	OnMessage(ctx context.Context, msg *gateway.Message, command string) (bool, error)
}

// Initializer is implemented by services that need a startup hook.
type Initializer interface {
	Init(ctx context.Context) error
}

// ReactionHandler is implemented by services that react to emoji
// reaction events.
type ReactionHandler interface {
	OnReaction(ctx context.Context, ev *gateway.ReactionEvent) error
}

// Registry is the ordered dispatch chain.
type Registry struct {
	services []Service
	logger   *slog.Logger
}

// NewRegistry builds the chain from the given services, preserving
// order and dropping any whose name is in disabled.
func NewRegistry(logger *slog.Logger, disabled []string, svcs ...Service) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	off := make(map[string]bool, len(disabled))
	for _, d := range disabled {
		off[d] = true
	}

	r := &Registry{logger: logger.With("component", "services")}
	for _, svc := range svcs {
		if off[svc.Name()] {
			r.logger.Info("service disabled", "service", svc.Name())
			continue
		}
		r.services = append(r.services, svc)
	}
	return r
}

// Init runs the init hook of every service that has one. A failing
// init disables nothing: the error is logged and startup continues,
// matching the per-handler isolation policy.
func (r *Registry) Init(ctx context.Context) {
	for _, svc := range r.services {
		if ini, ok := svc.(Initializer); ok {
			if err := ini.Init(ctx); err != nil {
				r.logger.Error("service init failed", "service", svc.Name(), "error", err)
				continue
			}
		}
		r.logger.Info("service activated", "service", svc.Name())
	}
}

// Dispatch runs the chain. The first service whose OnMessage returns
// true short-circuits it. A service that errors is treated as "did not
// claim": the error is logged and the chain continues.
func (r *Registry) Dispatch(ctx context.Context, msg *gateway.Message, command string) bool {
	for _, svc := range r.services {
		claimed, err := svc.OnMessage(ctx, msg, command)
		if err != nil {
			r.logger.Error("service handler failed",
				"service", svc.Name(), "message_id", msg.ID, "error", err)
			continue
		}
		if claimed {
			r.logger.Debug("message claimed", "service", svc.Name(), "message_id", msg.ID)
			return true
		}
	}
	return false
}

// ReactionHandlers returns the chain members that handle reactions,
// in chain order.
func (r *Registry) ReactionHandlers() []ReactionHandler {
	var out []ReactionHandler
	for _, svc := range r.services {
		if rh, ok := svc.(ReactionHandler); ok {
			out = append(out, rh)
		}
	}
	return out
}

// Services returns the chain members in order.
func (r *Registry) Services() []Service {
	return append([]Service(nil), r.services...)
}
