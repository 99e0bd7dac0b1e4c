// Command poller runs one instance of the Generic Poller Daemon
// (spec.md §4.E), its kind selected by the POLLER_KIND environment
// variable — "reminder" or "status_transition". Run one process per
// kind; there is no single combined poller binary.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/config"
	"github.com/tableup/scheduler/internal/db"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/models"
	"github.com/tableup/scheduler/internal/poller"
	"github.com/tableup/scheduler/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var kind models.ScheduleKind
	var build poller.Builder
	switch cfg.PollerKind {
	case "reminder":
		kind, build = models.KindReminder, poller.ReminderBuilder
	case "status_transition":
		kind, build = models.KindStatusTransition, poller.StatusTransitionBuilder
	default:
		log.Fatal(ctx, "poller: POLLER_KIND must be \"reminder\" or \"status_transition\", got "+cfg.PollerKind)
		return
	}

	shutdownTelemetry, err := telemetry.Init("tableup-poller-" + cfg.PollerKind)
	if err != nil {
		log.Fatal(ctx, "poller: telemetry init failed")
	}
	defer shutdownTelemetry(context.Background())

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(ctx, "poller: db connect failed")
	}
	defer database.Close()

	bkr, err := broker.Dial(ctx, cfg.BrokerURL)
	if err != nil {
		log.Fatal(ctx, "poller: broker dial failed")
	}
	defer bkr.Close()

	pollInterval, err := time.ParseDuration(cfg.PollInterval)
	if err != nil {
		log.Fatal(ctx, "poller: malformed POLL_INTERVAL")
	}
	dlqInterval, err := time.ParseDuration(cfg.DLQDrainInterval)
	if err != nil {
		log.Fatal(ctx, "poller: malformed DLQ_DRAIN_INTERVAL")
	}

	daemon := poller.New(database, bkr, log, poller.Config{
		Kind:         kind,
		Build:        build,
		PollInterval: pollInterval,
		BatchSize:    cfg.PollBatchSize,
		DLQInterval:  dlqInterval,
	})

	log.Info(ctx, "poller: starting kind="+string(kind))
	daemon.Run(ctx)
	log.Info(context.Background(), "poller: stopped")
}
