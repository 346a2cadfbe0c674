// Command labseed loads lookup tables, catalog items and blocks from a
// YAML file into the configured database.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/aplabs/labreserve/internal/config"
	"github.com/aplabs/labreserve/internal/database"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/repository"
)

func main() {
	envFile := pflag.String("env-file", ".env", "file with KEY=VALUE settings (ignored when missing)")
	file := pflag.StringP("file", "f", "seed.yaml", "seed file to load")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("read env file", "path", *envFile, "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	in, err := os.Open(*file)
	if err != nil {
		log.Error("open seed file", "error", err)
		os.Exit(1)
	}
	defer in.Close()
	seed, err := parseSeed(in)
	if err != nil {
		log.Error("read seed file", "path", *file, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	db, err := database.Open(database.Options{
		Driver:     cfg.DBDriver,
		User:       cfg.DBUser,
		Pass:       cfg.DBPass,
		Host:       cfg.DBHost,
		Port:       cfg.DBPort,
		Name:       cfg.DBName,
		SQLitePath: cfg.SQLitePath,
	})
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Error("migrate", "error", err)
		os.Exit(1)
	}

	s := seeder{
		lookups: repository.NewLookupRepo(db),
		catalog: repository.NewCatalogRepo(db),
		blocks:  repository.NewBlockRepo(db),
		log:     log,
	}
	rep, err := s.apply(ctx, seed)
	if err != nil {
		log.Error("seed failed", "error", err)
		os.Exit(1)
	}
	log.Info("seed loaded", "lookups", rep.Lookups, "items", rep.Items, "skipped", rep.Skipped, "blocks", rep.Blocks)
}
