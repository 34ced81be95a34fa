package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/carepoint/hospital-appointments/internal/booking"
	"github.com/carepoint/hospital-appointments/internal/config"
	"github.com/carepoint/hospital-appointments/internal/db"
	"github.com/carepoint/hospital-appointments/internal/notify"
	redisclient "github.com/carepoint/hospital-appointments/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "expiry-worker").Logger()
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("starting up")

	settings, err := cfg.Settings()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid scheduling settings")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// The sweep needs no distributed lock and no cache: each expiry is an
	// independent compare-and-set, safe to run from several workers at once.
	repo := booking.NewPgRepository(pgPool)
	notifier := notify.LogNotifier{Log: log}
	svc := booking.NewService(repo, redisclient.NoopLocker{}, nil, notifier, settings, log)

	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	count, err := svc.SweepExpired(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("expiry run error")
		return
	}
	log.Info().Int("updated", count).Dur("took", time.Since(start)).Msg("expiry run complete")
}
