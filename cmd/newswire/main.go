package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newswire/config"
	"github.com/mohammad-safakhou/newswire/internal/ingest"
	"github.com/mohammad-safakhou/newswire/internal/ingest/rss"
	"github.com/mohammad-safakhou/newswire/internal/provider"
	srv "github.com/mohammad-safakhou/newswire/internal/server"
	"github.com/mohammad-safakhou/newswire/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "newswire"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: ./config/config.json)")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = os.Getenv("NEWSWIRE_HTTP_ADDR")
			}
			return srv.Run(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Databases.Postgres.DSN()
			if err != nil {
				return err
			}
			return store.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	var ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Run a single ingestion pass over all configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			orch, err := buildOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			stats, err := orch.IngestAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d new, %d duplicates, %d errors in %s\n",
				stats.NewArticles, stats.Duplicates, stats.Errors, stats.Duration)
			return nil
		},
	}

	var cleanup = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete articles older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			orch, err := buildOrchestrator(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			retention := time.Duration(cfg.Ingest.RetentionDays) * 24 * time.Hour
			deleted, err := orch.Cleanup(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d articles\n", deleted)
			return nil
		},
	}

	root.AddCommand(serve, migrate, ingestCmd, cleanup)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildOrchestrator(ctx context.Context, cfg *config.Config) (*ingest.Orchestrator, error) {
	dsn, err := cfg.Databases.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}
	prov, err := provider.New(cfg.Providers.OpenAI)
	if err != nil {
		return nil, err
	}
	sources := make([]ingest.SourceDescriptor, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, ingest.SourceDescriptor{Name: s.Name, FeedURL: s.FeedURL})
	}
	fetcher := rss.NewFetcher(cfg.Ingest.FetchTimeout, cfg.Ingest.MinBodyChars, cfg.Ingest.ExtractFullText)
	return ingest.NewOrchestrator(fetcher, prov, st, sources, cfg.Ingest.MinBodyChars, nil), nil
}
