package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"gpusched-backend/cmd"
	"gpusched-backend/internal/config"
	"gpusched-backend/internal/database"
	"gpusched-backend/internal/executor"
	"gpusched-backend/internal/feedback"
	"gpusched-backend/internal/messaging"
	"gpusched-backend/internal/monitor"
	"gpusched-backend/internal/notify"
	"gpusched-backend/internal/scheduler"

	"github.com/caarlos0/env/v11"
)

type SchedulerProcessConfig struct {
	DatabaseURL    string `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL    string `env:"RABBITMQ_URL,notEmpty,required"`
	ModelServerURL string `env:"MODEL_SERVER_URL,notEmpty,required"`

	// TelemetryURL points at a GPU telemetry exporter; when empty the host
	// probe is used instead.
	TelemetryURL   string        `env:"GPU_TELEMETRY_URL" envDefault:""`
	ProbeInterval  time.Duration `env:"PROBE_INTERVAL" envDefault:"1s"`
	WebhookURL     string        `env:"EVENT_WEBHOOK_URL" envDefault:""`
	VariantMaxSize int           `env:"VARIANT_REGISTRY_MAX_SIZE" envDefault:"64"`
	VariantMaxIdle time.Duration `env:"VARIANT_REGISTRY_MAX_IDLE" envDefault:"1h"`
	VariantMinUse  int           `env:"VARIANT_REGISTRY_MIN_ACCESS" envDefault:"2"`

	Scheduler config.SchedulerConfig
	Feedback  config.FeedbackConfig
}

func main() {
	log.Println("Starting scheduler process...")

	cmd.LoadEnvFile()

	var cfg SchedulerProcessConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var probe monitor.Probe
	if cfg.TelemetryURL != "" {
		probe = monitor.NewTelemetryProbe(cfg.TelemetryURL)
	} else {
		log.Println("no telemetry URL configured, using host probe")
		probe = &monitor.HostProbe{}
	}

	resources := monitor.New(probe, monitor.Options{
		Interval: cfg.ProbeInterval,
		Sink: func(snap monitor.Snapshot) {
			database.SaveResourceSample(context.Background(), db, database.ResourceSample{ //nolint:errcheck
				SampledAt:          snap.Timestamp,
				Stale:              snap.Stale,
				UtilizationPercent: snap.UtilizationPercent,
				MemoryTotalBytes:   snap.MemoryTotalBytes,
				MemoryUsedBytes:    snap.MemoryUsedBytes,
				MemoryFreeBytes:    snap.MemoryFreeBytes,
				TemperatureCelsius: snap.TemperatureCelsius,
			})
		},
	})
	go resources.Run(ctx)

	integrator := feedback.NewIntegrator(db, cfg.Feedback)
	go integrator.Run(ctx)

	variants := cmd.SeedVariantRegistry(cfg.VariantMaxSize, cfg.VariantMaxIdle, cfg.VariantMinUse)

	exec := executor.New(executor.NewHTTPRunner(cfg.ModelServerURL))

	var notifier notify.Notifier = notify.NewQueueNotifier(publisher)
	if cfg.WebhookURL != "" {
		notifier = notify.MultiNotifier{notifier, notify.NewWebhookNotifier(cfg.WebhookURL)}
	}

	sched := scheduler.New(db, cfg.Scheduler, resources, exec, integrator, variants, receiver, notifier)
	if err := sched.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore scheduler state: %v", err)
	}

	log.Println("Scheduler started. Press Ctrl+C to exit.")
	sched.Run(ctx)

	log.Println("Scheduler process stopped.")
}
