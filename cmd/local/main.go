package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gpusched-backend/cmd"
	"gpusched-backend/internal/api"
	"gpusched-backend/internal/config"
	"gpusched-backend/internal/database"
	"gpusched-backend/internal/executor"
	"gpusched-backend/internal/feedback"
	"gpusched-backend/internal/messaging"
	"gpusched-backend/internal/monitor"
	"gpusched-backend/internal/notify"
	"gpusched-backend/internal/scheduler"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root           string        `env:"ROOT" envDefault:"./gpusched"`
	Port           int           `env:"PORT" envDefault:"3001"`
	ModelServerURL string        `env:"MODEL_SERVER_URL,notEmpty,required"`
	TelemetryURL   string        `env:"GPU_TELEMETRY_URL" envDefault:""`
	ProbeInterval  time.Duration `env:"PROBE_INTERVAL" envDefault:"1s"`

	Scheduler config.SchedulerConfig
	Feedback  config.FeedbackConfig
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "gpusched.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createServer(db *gorm.DB, queue messaging.Publisher, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	apiHandler := api.NewBackendService(db, queue)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(cfg.Root, "backend.log"), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	log.SetOutput(io.MultiWriter(f, os.Stderr))

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port)

	db := createDatabase(cfg.Root)

	queue := messaging.NewInMemoryQueue()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var probe monitor.Probe
	if cfg.TelemetryURL != "" {
		probe = monitor.NewTelemetryProbe(cfg.TelemetryURL)
	} else {
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

	variants := cmd.SeedVariantRegistry(64, time.Hour, 2)

	exec := executor.New(executor.NewHTTPRunner(cfg.ModelServerURL))

	sched := scheduler.New(db, cfg.Scheduler, resources, exec, integrator, variants, queue, notify.NoopNotifier{})
	if err := sched.Restore(ctx); err != nil {
		log.Fatalf("Failed to restore scheduler state: %v", err)
	}

	slog.Info("starting scheduler")
	go sched.Run(ctx)

	server := createServer(db, queue, cfg.Port)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	slog.Info("server started", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	slog.Info("server stopped")
}
