package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conciergebot/concierge/pkg/concierge/bot"
	"github.com/conciergebot/concierge/pkg/concierge/config"
	"github.com/conciergebot/concierge/pkg/concierge/dashboard"
	"github.com/conciergebot/concierge/pkg/concierge/dashboard/rss"
	"github.com/conciergebot/concierge/pkg/concierge/engine"
	"github.com/conciergebot/concierge/pkg/concierge/gateway"
	"github.com/conciergebot/concierge/pkg/concierge/services"
	"github.com/conciergebot/concierge/pkg/concierge/store"
	"github.com/conciergebot/concierge/pkg/concierge/tasks"
)

// newServeCmd creates the `concierge serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant daemon",
		Long: `Connect to the messaging platform, register the event queue and
process mentions and reactions until interrupted.

Examples:
  concierge serve
  concierge serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cmd, cfg)

	st, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	client := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Email, cfg.Gateway.APIKey)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	self, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("verify platform credentials: %w", err)
	}
	logger.Info("connected", "bot", self.FullName, "email", self.Email)

	env := &services.Env{
		Client: client,
		Config: cfg,
		Store:  st,
		Self:   self,
		Logger: logger,
	}

	eng := engine.NewClient(cfg.Engine, logger)

	sched := dashboard.NewScheduler(env, cfg.Dashboards.Disabled,
		rss.New(cfg.Dashboards.RSS, logger))
	defer sched.Shutdown()

	registry := services.NewRegistry(logger, cfg.Services.Disabled,
		bot.NewHelp(env),
		tasks.New(env),
		dashboard.NewService(env, sched),
	)
	registry.Init(ctx)

	b := bot.New(env, registry, eng)
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutting down")
	return nil
}

// resolveConfig loads configuration from --config, falling back to the
// default search path.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from config plus the --verbose flag.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := logLevel(cfg.Logging.Level)
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// logLevel maps the configured level name to a slog level. Unknown
// names fall back to info.
func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
