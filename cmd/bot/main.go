package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"

	"ai-relay-bot/internal/bot"
	"ai-relay-bot/internal/config"
	"ai-relay-bot/internal/monitor"
	"ai-relay-bot/internal/service"
)

// shutdownTimeout bounds how long pending persistence writes may delay exit
const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. Running it without a subcommand starts the bot.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ai-relay-bot",
		Short: "Discord bot relaying slash commands to AI providers",
		Long: `A Discord bot that relays slash commands to a hosted chat model, a local
Ollama server, image generation, text to speech and a crypto price API,
then records the results through the backend persistence API.

Configuration is read from the environment.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start the bot (default)",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBot(cmd.Context())
			},
		},
		newHealthcheckCmd(),
		newModelsCmd(),
		newMigrateFailuresCmd(),
	)

	return root
}

// loadConfig reads the environment and builds the process logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runBot(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("AI relay bot starting up", "config", cfg)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize dead letter store: %w", err)
	}
	if store != nil {
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Error closing dead letter store", "error", err)
			}
		}()
		logger.Info("Dead letter store initialized", "driver", cfg.StorageDriver)
	} else {
		logger.Info("Dead letter store disabled")
	}

	svc := newServices(cfg, store, logger)

	session := bot.NewSession(cfg.DiscordToken, logger)
	if err := session.IsTokenValid(); err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}

	var failures bot.FailureLister
	if store != nil {
		failures = store
	}

	handler := bot.NewHandler(bot.HandlerDeps{
		Orchestrator: svc.orchestrator,
		Sessions:     svc.sessions,
		Images:       svc.backend,
		HostedModels: svc.hosted,
		LocalModels:  svc.ollama,
		Quoter:       svc.quoter,
		Fetcher:      bot.NewAttachmentFetcher(nil),
		Logger:       logger,
	})

	var dispatcher *bot.Dispatcher
	admin := bot.NewAdminCommands(failures, cfg.GuildID, func() []*discordgo.ApplicationCommand {
		return dispatcher.Definitions()
	}, logger)
	dispatcher = bot.NewDispatcher(ctx, append(handler.Commands(), admin.Commands()...), cfg, logger)

	if err := session.Open(dispatcher); err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Error("Error during Discord session cleanup", "error", err)
		} else {
			logger.Info("Discord session closed successfully")
		}
	}()

	if _, err := session.RegisterCommands(cfg.GuildID, dispatcher.Definitions()); err != nil {
		logger.Warn("Slash command registration failed, use /synccommands to retry", "error", err)
	}

	if cfg.StatusUpdateEnabled {
		statusManager := startPresence(ctx, cfg, session, svc.ollama, logger)
		defer statusManager.Stop()
	} else {
		logger.Info("Status management disabled by configuration")
	}

	logger.Info("Bot is now running. Press CTRL+C to exit.")
	<-ctx.Done()
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.recorder.Shutdown()
	}()

	select {
	case <-done:
		logger.Info("Pending writes flushed, bot shutdown completed successfully")
	case <-time.After(shutdownTimeout):
		logger.Warn("Shutdown timeout exceeded, pending writes abandoned")
	}

	return nil
}

// startPresence ties the bot's presence to local model liveness
func startPresence(ctx context.Context, cfg *config.Config, session bot.BotSession, prober monitor.Prober, logger *slog.Logger) *bot.StatusManager {
	statusManager := bot.NewStatusManager(session, logger)
	statusManager.SetDebounceInterval(cfg.StatusUpdateInterval)

	health := monitor.NewHealthMonitor(service.ProviderLocal, prober, cfg.StatusUpdateInterval, logger)
	health.RegisterStatusCallback(func(providerID, status string) {
		if err := statusManager.UpdateStatusFromHealth(providerID, status); err != nil {
			logger.Warn("Failed to update Discord status from health",
				"provider", providerID,
				"status", status,
				"error", err)
		}
	})

	if err := statusManager.SetIdle(bot.ActivityChecking); err != nil {
		logger.Warn("Failed to set initial Discord status", "error", err)
	}

	go health.Run(ctx)

	logger.Info("Status management initialized successfully",
		"interval", cfg.StatusUpdateInterval)
	return statusManager
}
