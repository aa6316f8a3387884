package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
)

// Service is the dispatch-chain member exposing the dashboard commands:
//
//	dashboard start <name> [params…] [every <interval>]
//	dashboard stop <name|all>
//	dashboard refresh <name|all>
//	dashboard list
type Service struct {
	env   *services.Env
	sched *Scheduler
}

// NewService wires the command surface to a scheduler.
func NewService(env *services.Env, sched *Scheduler) *Service {
	return &Service{env: env, sched: sched}
}

// Name implements services.Service.
func (s *Service) Name() string { return "dashboard" }

// Init resumes persisted instances on startup.
func (s *Service) Init(ctx context.Context) error {
	return s.sched.Resume(ctx)
}

// OnMessage implements services.Service.
func (s *Service) OnMessage(ctx context.Context, msg *gateway.Message, command string) (bool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "dashboard" {
		return false, nil
	}

	if len(fields) < 2 {
		s.env.Reply(ctx, msg, s.usage())
		return true, nil
	}

	switch fields[1] {
	case "start":
		s.handleStart(ctx, msg, fields[2:])
	case "stop":
		s.handleStop(ctx, msg, fields[2:])
	case "refresh":
		s.handleRefresh(ctx, msg, fields[2:])
	case "list":
		s.handleList(ctx, msg)
	default:
		s.env.Reply(ctx, msg, fmt.Sprintf("Unknown dashboard command %q.\n%s", fields[1], s.usage()))
	}
	return true, nil
}

func (s *Service) usage() string {
	return fmt.Sprintf("Usage: `dashboard start <name> [params] [every <interval>]` | "+
		"`dashboard stop <name|all>` | `dashboard refresh <name|all>` | `dashboard list`\n"+
		"Available dashboards: %s", strings.Join(s.sched.Producers(), ", "))
}

func (s *Service) handleStart(ctx context.Context, msg *gateway.Message, args []string) {
	if len(args) == 0 {
		s.env.Reply(ctx, msg, "Which dashboard? "+s.usage())
		return
	}
	name := args[0]
	rest := args[1:]

	interval := s.env.Config.Dashboards.DefaultInterval
	if len(rest) >= 2 && rest[len(rest)-2] == "every" {
		d, err := time.ParseDuration(rest[len(rest)-1])
		if err != nil {
			s.env.Reply(ctx, msg, fmt.Sprintf("I can't parse the interval %q (try e.g. `every 15m`).", rest[len(rest)-1]))
			return
		}
		interval = d
		rest = rest[:len(rest)-2]
	}
	params := strings.Join(rest, " ")

	err := s.sched.Start(ctx, name, params, msg.Channel, msg.Topic, interval)
	switch {
	case errors.Is(err, ErrUnknownProducer):
		s.env.Reply(ctx, msg, fmt.Sprintf("I don't know a dashboard called %q. Available: %s",
			name, strings.Join(s.sched.Producers(), ", ")))
	case errors.Is(err, store.ErrDashboardExists):
		s.env.Reply(ctx, msg, fmt.Sprintf("A %q dashboard is already running here. Use `dashboard refresh %s` or stop it first.", name, name))
	case err != nil:
		s.env.Reply(ctx, msg, fmt.Sprintf("Couldn't start the %q dashboard: %v", name, err))
	}
}

// stopName maps the "all" keyword onto the empty filter.
func stopName(args []string) string {
	if len(args) == 0 || args[0] == "all" {
		return ""
	}
	return args[0]
}

func (s *Service) handleStop(ctx context.Context, msg *gateway.Message, args []string) {
	n, err := s.sched.Stop(ctx, stopName(args), msg.Channel, msg.Topic)
	if err != nil {
		s.env.Reply(ctx, msg, fmt.Sprintf("Couldn't stop dashboards: %v", err))
		return
	}
	if n == 0 {
		s.env.Reply(ctx, msg, "No matching dashboard is running in this topic.")
		return
	}
	s.env.Reply(ctx, msg, fmt.Sprintf("Stopped %d dashboard(s).", n))
}

func (s *Service) handleRefresh(ctx context.Context, msg *gateway.Message, args []string) {
	n, err := s.sched.Refresh(ctx, stopName(args), msg.Channel, msg.Topic)
	if err != nil {
		s.env.Reply(ctx, msg, fmt.Sprintf("Couldn't refresh dashboards: %v", err))
		return
	}
	if n == 0 {
		s.env.Reply(ctx, msg, "No matching dashboard is running in this topic.")
	}
}

func (s *Service) handleList(ctx context.Context, msg *gateway.Message) {
	rows, err := s.env.Store.ListDashboards(ctx)
	if err != nil {
		s.env.Reply(ctx, msg, fmt.Sprintf("Couldn't list dashboards: %v", err))
		return
	}
	if len(rows) == 0 {
		s.env.Reply(ctx, msg, "No dashboards are running.")
		return
	}
	var b strings.Builder
	b.WriteString("Running dashboards:\n")
	for _, d := range rows {
		fmt.Fprintf(&b, "- **%s** in #**%s>%s** (every %s)\n", d.Name, d.Channel, d.Topic, d.Interval)
	}
	s.env.Reply(ctx, msg, b.String())
}

var _ services.Service = (*Service)(nil)
var _ services.Initializer = (*Service)(nil)
