// Command labsweep runs one devolution sweep and exits.  It is meant for
// cron when the server runs with SWEEP_ENABLED=false.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/aplabs/labreserve/internal/config"
	"github.com/aplabs/labreserve/internal/database"
	"github.com/aplabs/labreserve/internal/logging"
	"github.com/aplabs/labreserve/internal/model"
	"github.com/aplabs/labreserve/internal/notify"
	"github.com/aplabs/labreserve/internal/queue"
	"github.com/aplabs/labreserve/internal/repository"
	"github.com/aplabs/labreserve/internal/service"
)

func main() {
	envFile := pflag.String("env-file", ".env", "file with KEY=VALUE settings (ignored when missing)")
	date := pflag.String("date", "", "sweep as of this date (YYYY-MM-DD); defaults to today in APP_TIMEZONE")
	pflag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("read env file", "path", *envFile, "error", err)
		os.Exit(1)
	}
	cfg := config.Load()
	log := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	now := time.Now()
	if *date != "" {
		d, err := model.ParseDate(*date)
		if err != nil {
			log.Error("invalid --date", "error", err)
			os.Exit(2)
		}
		// noon keeps the calendar day stable in any zone
		now = time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, cfg.Timezone)
	}

	report, err := sweep(cfg, now, log)
	if err != nil {
		log.Error("sweep failed", "error", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
}

func sweep(cfg config.Config, now time.Time, log *slog.Logger) (service.SweepReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
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
		return service.SweepReport{}, err
	}
	defer db.Close()

	var sender notify.Sender = repository.NewNotificationRepo(db)
	if cfg.QueueEnabled {
		pub := queue.NewPublisher(cfg.RabbitURL, log)
		defer pub.Close()
		sender = pub
	}
	dispatcher := notify.NewDispatcher(sender, nil, notify.Options{Retries: cfg.DispatchRetries, Logger: log})
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(runCtx)
	}()

	allocations := repository.NewAllocationRepo(db)
	scheduler := service.NewScheduler(service.SchedulerConfig{
		Store:    allocations,
		Items:    repository.NewCatalogRepo(db),
		Effects:  dispatcher,
		Logger:   log,
		Location: cfg.Timezone,
	})
	report, err := scheduler.Sweep(ctx, now)

	stop()
	<-done
	return report, err
}
