package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ai-relay-bot/internal/service"
	"ai-relay-bot/internal/storage"
)

// probeTimeout bounds each check run by the healthcheck command
const probeTimeout = 10 * time.Second

func newHealthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check that the bot's dependencies are reachable",
		Long: `Check the health of the bot by verifying:
  • Configuration loads and validates
  • The local Ollama server answers
  • The hosted provider lists models
  • The dead letter store is usable (when enabled)

Exits non-zero when any check fails. Suitable as a container health check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "❌ dead letter store: %v\n", err)
				return fmt.Errorf("health check failed")
			}
			if store != nil {
				defer store.Close()
			}

			return runHealthcheck(cmd.Context(), cmd.OutOrStdout(), newServices(cfg, store, logger), store)
		},
	}
}

// runHealthcheck probes each dependency and reports every result before failing
func runHealthcheck(ctx context.Context, out io.Writer, svc *services, store storage.DeadLetterStore) error {
	failed := 0
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "❌ %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "✅ %s\n", name)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var localErr error
	if !svc.ollama.Healthy(probeCtx) {
		localErr = &service.UnavailableError{Provider: service.ProviderLocal}
	}
	report("local model server", localErr)

	_, hostedErr := svc.hosted.ListModels(probeCtx)
	report("hosted provider", hostedErr)

	if store != nil {
		report("dead letter store", store.HealthCheck(probeCtx))
	}

	if failed > 0 {
		return fmt.Errorf("%d health checks failed", failed)
	}
	return nil
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "models [hosted|local]",
		Short:     "List the models a provider serves",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"hosted", "local"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			return listModels(cmd.Context(), cmd.OutOrStdout(), newServices(cfg, nil, logger), args[0])
		},
	}
}

func listModels(ctx context.Context, out io.Writer, svc *services, provider string) error {
	var (
		models []string
		err    error
	)
	switch provider {
	case "hosted":
		models, err = svc.hosted.ListModels(ctx)
	case "local":
		models, err = svc.ollama.ListModels(ctx)
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	if err != nil {
		return err
	}

	if len(models) == 0 {
		fmt.Fprintf(out, "No models available from the %s provider\n", provider)
		return nil
	}
	fmt.Fprintln(out, strings.Join(models, "\n"))
	return nil
}

func newMigrateFailuresCmd() *cobra.Command {
	var sqlitePath string

	cmd := &cobra.Command{
		Use:   "migrate-failures",
		Short: "Copy failed writes from the SQLite store into MySQL",
		Long: `Copy every failed persistence write from the local SQLite store into the
MySQL store configured through MYSQL_* variables. Re-running is safe:
writes that already exist in MySQL are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if sqlitePath == "" {
				sqlitePath = cfg.DatabasePath
			}

			source := storage.NewSQLiteStore(sqlitePath)
			target := storage.NewMySQLStore(storage.MySQLConfig(cfg.MySQL))

			logger.Info("Migrating failed writes", "sqlite_path", sqlitePath, "mysql_host", cfg.MySQL.Host)
			return migrateFailures(cmd.Context(), cmd.OutOrStdout(), source, target)
		},
	}

	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database to read (defaults to DATABASE_PATH)")
	return cmd
}

// migrateFailures initializes both stores, copies every failed write and validates the result
func migrateFailures(ctx context.Context, out io.Writer, source, target storage.DeadLetterStore) error {
	if err := source.Initialize(ctx); err != nil {
		return fmt.Errorf("open source store: %w", err)
	}
	defer source.Close()

	if err := target.Initialize(ctx); err != nil {
		return fmt.Errorf("open target store: %w", err)
	}
	defer target.Close()

	migration := storage.NewMigrationService(source, target)
	copied, err := migration.MigrateData(ctx)
	if err != nil {
		return err
	}
	if err := migration.ValidateMigration(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "Migrated %d failed writes\n", copied)
	return nil
}
