package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"torntracker/internal/config"
	"torntracker/internal/constants"
	fxmodules "torntracker/internal/fx"
	"torntracker/internal/middleware"
	"torntracker/internal/server"
	"torntracker/internal/service"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func main() {
	fx.New(
		fxmodules.Module,
		fx.Invoke(runServer),
		fx.Invoke(runScheduler),
	).Run()
}

func runServer(
	lc fx.Lifecycle,
	apiServer *server.Server,
	cfg *config.Config,
	db *sql.DB,
	logger zerolog.Logger,
) {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	requestIDMiddleware := middleware.RequestID(logger)
	handler := requestIDMiddleware(c.Handler(apiServer.Routes()))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handler,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()

			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing database connection")
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}

// runScheduler ticks the crime sync pass and the monthly maintenance
// (previous-month summaries + retention pruning) until shutdown. A pass
// sleeping on a rate-limit backoff observes the cancelled context and
// aborts cleanly.
func runScheduler(
	lc fx.Lifecycle,
	orchestrator *service.Orchestrator,
	aggregator *service.Aggregator,
	cfg *config.Config,
	logger zerolog.Logger,
) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)

				syncTicker := time.NewTicker(cfg.SyncInterval)
				defer syncTicker.Stop()
				maintenanceTicker := time.NewTicker(cfg.MaintenanceInterval)
				defer maintenanceTicker.Stop()

				logger.Info().
					Dur("sync_interval", cfg.SyncInterval).
					Dur("maintenance_interval", cfg.MaintenanceInterval).
					Msg("scheduler started")

				for {
					select {
					case <-ctx.Done():
						return
					case <-syncTicker.C:
						results, err := orchestrator.RunPass(ctx)
						if err != nil && ctx.Err() == nil {
							logger.Error().Err(err).Msg("sync pass failed")
							continue
						}
						logger.Info().Int("factions", len(results)).Msg("sync pass finished")
					case <-maintenanceTicker.C:
						runMaintenance(ctx, aggregator, cfg, logger)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			logger.Info().Msg("scheduler stopped")
			return nil
		},
	})
}

func runMaintenance(ctx context.Context, aggregator *service.Aggregator, cfg *config.Config, logger zerolog.Logger) {
	year, month := aggregator.PreviousMonth()
	players, factions, err := aggregator.SummarizeMonth(ctx, year, month, false)
	if err != nil {
		logger.Error().Err(err).Msg("monthly summarize failed")
	} else {
		logger.Info().
			Int("player_summaries", players).
			Int("faction_summaries", factions).
			Msgf("summarized %d-%02d", year, month)
	}

	pruned, err := aggregator.Prune(ctx, int64(cfg.PruneAfterDays))
	if err != nil {
		logger.Error().Err(err).Msg("prune failed")
		return
	}
	for table, rows := range pruned {
		if rows > 0 {
			logger.Info().Str("table", table).Int64("rows", rows).Msg("history pruned")
		}
	}
}
