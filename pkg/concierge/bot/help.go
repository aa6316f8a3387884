package bot

import (
	"context"
	"strings"

	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
)

const helpText = "**What I can do**\n\n" +
	"Tasks:\n" +
	"- `task [--topic] [@**who** …]` — quote-reply a message to track it as a task\n" +
	"- `tasks [name]` — list someone's tasks (yours by default)\n" +
	"- `assign @**who**` / `unassign @**who**` — quote-reply a task card\n" +
	"- react with the promote emoji on any message to track it in one step\n\n" +
	"Dashboards:\n" +
	"- `dashboard start <producer> [params…] [every <interval>]`\n" +
	"- `dashboard stop <name|all>`, `dashboard refresh <name|all>`, `dashboard list`\n\n" +
	"Anything else you mention me with goes to the answering engine."

// HelpService answers "help" with the command overview.
type HelpService struct {
	env *services.Env
}

// NewHelp builds the help service.
func NewHelp(env *services.Env) *HelpService {
	return &HelpService{env: env}
}

// Name implements services.Service.
func (h *HelpService) Name() string { return "help" }

// OnMessage implements services.Service.
func (h *HelpService) OnMessage(ctx context.Context, msg *gateway.Message, command string) (bool, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != "help" {
		return false, nil
	}
	h.env.Reply(ctx, msg, helpText)
	return true, nil
}
