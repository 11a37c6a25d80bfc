// cmd/courtbookd/main.go
//
// courtbookd hosts the booking and wallet engine: it opens the database,
// rebuilds the interval index, and runs the hold reaper and completion sweep
// until stopped. Transports embedding the engine live elsewhere; the only
// listener here is the optional metrics endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/racqet/courtbook/internal/booking"
	"github.com/racqet/courtbook/internal/config"
	"github.com/racqet/courtbook/internal/db"
	"github.com/racqet/courtbook/internal/events"
	"github.com/racqet/courtbook/internal/locks"
	"github.com/racqet/courtbook/internal/scheduler"
	"github.com/racqet/courtbook/internal/wallet"
)

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func setupLogger(environment string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func main() {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg.App.Environment)

	database, err := db.NewFromConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()

	emitter := events.LogEmitter{}
	accountLocks := locks.NewKeyed()

	store, err := wallet.NewStore(database, accountLocks, emitter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create wallet store")
	}

	manager, err := booking.NewManager(database, accountLocks, emitter,
		booking.WithEligibility(store.EligibleForRecurring),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create booking manager")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.LoadIndex(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load interval index")
	}

	if err := scheduler.Init(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}

	_, err = scheduler.AddIntervalJob("hold-reaper", cfg.Booking.ReaperInterval(), func() {
		if _, err := scheduler.SweepExpiredHolds(ctx, manager, emitter, time.Now()); err != nil {
			log.Error().Err(err).Msg("Hold sweep failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register hold reaper")
	}

	_, err = scheduler.AddJob("completion-sweep", cfg.Booking.CompletionCron, func() {
		if err := scheduler.CompletePastReservations(ctx, manager, time.Now()); err != nil {
			log.Error().Err(err).Msg("Completion sweep failed")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to register completion sweep")
	}

	if err := scheduler.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	g, ctx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if cfg.Features.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Features.MetricsAddr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.Features.MetricsAddr).Msg("Serving metrics")
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")

		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics server shutdown error")
			}
		}
		return scheduler.Stop()
	})

	log.Info().Str("app", cfg.App.Name).Msg("courtbookd running")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Daemon terminated with error")
		os.Exit(1)
	}
}
