package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/config"
	"github.com/clinicore/authorized-scheduling/internal/db"
	"github.com/clinicore/authorized-scheduling/internal/reconcile"
	redisclient "github.com/clinicore/authorized-scheduling/internal/redis"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "reconcile-worker").Logger()
	log.Info().Msg("reconcile-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	reconciler := reconcile.New(pgPool, log)

	// Run once at startup
	runOnce(rootCtx, locker, reconciler, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, locker, reconciler, log)
		}
	}
}

// runOnce audits under a leader lock so overlapping instances do not
// scan the same rows at the same time. Losing the lock just skips the
// round; another instance is doing the work.
func runOnce(ctx context.Context, locker redisclient.Locker, r *reconcile.Reconciler, log zerolog.Logger) {
	start := time.Now()

	err := locker.WithLock(ctx, "reconcile", func(lockCtx context.Context) error {
		report, err := r.Run(lockCtx)
		if err != nil {
			return err
		}
		log.Info().
			Int("checked", report.Checked).
			Int("drifted", report.Drifted).
			Dur("took", time.Since(start)).
			Msg("reconcile run complete")
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			log.Debug().Msg("reconcile lock held elsewhere, skipping round")
			return
		}
		log.Error().Err(err).Msg("reconcile run error")
	}
}
