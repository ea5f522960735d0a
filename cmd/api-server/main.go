package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/api"
	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/audit"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/config"
	"github.com/clinicore/authorized-scheduling/internal/db"
	redisclient "github.com/clinicore/authorized-scheduling/internal/redis"
	"github.com/clinicore/authorized-scheduling/internal/session"
)

const version = "0.1.0"

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "api-server").Logger()
	log.Info().Msg("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("configured")

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

	// Connect Redis
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

	runner := db.NewPgRunner(pgPool)
	runner.MaxAttempts = cfg.TxMaxAttempts

	recorder := audit.NewPgRecorder(pgPool)

	authRepo := authorization.NewPgRepository(pgPool)
	ledger := authorization.NewLedger(authRepo, recorder)
	authSvc := authorization.NewService(ledger, authRepo, runner, log)

	apptRepo := appointment.NewPgRepository(pgPool)
	unitsPolicy := appointment.UnitsPerInterval(cfg.UnitInterval)
	apptSvc := appointment.NewService(apptRepo, ledger, runner, unitsPolicy, recorder, log)

	sessRepo := session.NewPgRepository(pgPool)
	orchestrator := session.NewOrchestrator(apptRepo, sessRepo, ledger, runner, recorder, log)

	router := api.NewRouter(api.RouterConfig{
		Appointments:   apptSvc,
		Authorizations: authSvc,
		Sessions:       orchestrator,
		PgPool:         pgPool,
		Redis:          rdb,
		Log:            log,
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()

	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
