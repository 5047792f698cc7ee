package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirbridge/internal/config"
	"github.com/ehr/fhirbridge/internal/domain/ingest"
	"github.com/ehr/fhirbridge/internal/platform/db"
	"github.com/ehr/fhirbridge/internal/platform/store/pgstore"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fhir-server",
		Short:        "FHIR R4 server over a schemaless property store",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), ingestCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer be.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("store connected")

	a, err := newApp(cfg, logger, be)
	if err != nil {
		return err
	}

	if cfg.IngestInterval > 0 {
		sched := ingest.NewScheduler(a.runner, a.pipeline.Clients(), cfg.IngestClientIDs, cfg.IngestInterval,
			logger.With().Str("component", "scheduler").Logger())
		go sched.Start(ctx)
		logger.Info().Dur("interval", cfg.IngestInterval).Msg("ingestion scheduler started")
	}

	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Str("auth", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	var schemaName string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL document store schema",
	}
	cmd.PersistentFlags().StringVar(&schemaName, "schema", "", "target schema (default DB_SCHEMA)")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), schemaName, func(ctx context.Context, m *db.Migrator, schema string) error {
				n, err := m.Up(ctx, schema)
				if err != nil {
					return err
				}
				fmt.Printf("Applied %d migration(s) to schema %q\n", n, schema)
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd.Context(), schemaName, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return err
				}
				fmt.Printf("%-8s %-40s %-8s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state = "applied"
						if s.AppliedAt != nil {
							at = s.AppliedAt.Format(time.RFC3339)
						}
					}
					fmt.Printf("%-8d %-40s %-8s %s\n", s.Version, s.Name, state, at)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(up, status)
	return cmd
}

// withMigrator connects to the schema the server reads from. A --schema
// override must match DB_SCHEMA of the server that will use it.
func withMigrator(ctx context.Context, schemaFlag string, fn func(context.Context, *db.Migrator, string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return fmt.Errorf("migrations require STORE_DRIVER=%s, got %q", config.DriverPostgres, cfg.StoreDriver)
	}
	schema := migrationSchema(schemaFlag, cfg)
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, Schema: schema})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, pgstore.Migrations()), schema)
}

func migrationSchema(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg.DBSchema != "" {
		return cfg.DBSchema
	}
	return "public"
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Wearable metric ingestion",
	}

	var clientIDs []string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run ingestion once for the given clients (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stdout)

			be, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer be.close()

			a, err := newApp(cfg, logger, be)
			if err != nil {
				return err
			}
			return runIngestOnce(ctx, a, clientIDs, cfg.IngestClientIDs, logger)
		},
	}
	run.Flags().StringSliceVar(&clientIDs, "client", nil, "external client id (repeatable)")

	cmd.AddCommand(run)
	return cmd
}

func runIngestOnce(ctx context.Context, a *app, flagIDs, configIDs []string, logger zerolog.Logger) error {
	ids := flagIDs
	if len(ids) == 0 {
		ids = configIDs
	}
	if len(ids) == 0 {
		clients, err := a.pipeline.Clients().List(ctx)
		if err != nil {
			return err
		}
		for _, c := range clients {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		logger.Info().Msg("no external clients to ingest")
		return nil
	}
	err := a.runner.RunAll(ctx, ids)
	logger.Info().Int("clients", len(ids)).Bool("failed", err != nil).Msg("ingestion finished")
	return err
}
