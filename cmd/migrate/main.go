// Command migrate applies pending schema migrations and exits, for use in
// deploy pipelines that run migrations as a separate step from starting the
// server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ragfab/core"
	"github.com/ragfab/core/store"
)

func main() {
	migrationsDir := flag.String("migrations-dir", "", "Directory of NN_description.sql files (defaults to MIGRATIONS_DIR or \"migrations\")")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := ragfab.LoadConfig()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *migrationsDir != "" {
		cfg.MigrationsDir = *migrationsDir
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := store.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		slog.Error("running migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("migrations applied", "dir", cfg.MigrationsDir)
}
