// Command posd runs the POS coordination service: the device websocket, order
// routing to bar and kitchen stations, the stock calibration API, and the
// scheduled stock maintenance job.
//
// @title       POS Coordinator API
// @version     1.0
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/pos-coordinator/internal/app"
	"github.com/tbourn/pos-coordinator/internal/config"
	httpapi "github.com/tbourn/pos-coordinator/internal/http"
	"github.com/tbourn/pos-coordinator/internal/observability"
	"github.com/tbourn/pos-coordinator/internal/repo"
	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load() // .env is optional

	cfg := config.MustLoad()
	sysutil.ConfigureLogger(cfg.LogPretty)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = uuid.NewString()
	}

	otelShutdown, err := observability.SetupOTel(context.Background(), cfg.OTEL, version, instanceID)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Warn().Err(err).Msg("gorm tracing disabled")
		}
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	a := app.New(cfg, db, nil)

	// Locks left behind by a crashed instance would block jobs until they expire.
	if cfg.Lock.SweepOnStart {
		if n, err := a.Locks.SweepExpired(context.Background()); err != nil {
			log.Warn().Err(err).Msg("startup lock sweep failed")
		} else if n > 0 {
			log.Info().Int64("removed", n).Msg("expired locks removed")
		}
	}

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		if !cfg.Calibration.ScheduleEnabled {
			return
		}
		if err := a.Scheduler.Run(jobsCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	r := gin.New()
	httpapi.RegisterRoutes(r, a, cfg)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("version", version).
			Str("instance", instanceID).
			Bool("scheduler", cfg.Calibration.ScheduleEnabled).
			Msg("posd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	// A calibration run in progress keeps going on its detached context until
	// the process exits; its lock then expires on its own.
	cancelJobs()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	a.Hub.Close()

	select {
	case <-jobsDone:
	case <-ctx.Done():
		log.Warn().Msg("scheduler did not stop in time")
	}

	if err := otelShutdown(ctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
