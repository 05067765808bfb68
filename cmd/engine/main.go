// Package main is the entry point for the wager engine worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"wager-engine/internal/audit"
	"wager-engine/internal/config"
	"wager-engine/internal/directory"
	"wager-engine/internal/escrow"
	"wager-engine/internal/game"
	"wager-engine/internal/game/casebattle"
	"wager-engine/internal/game/coinflip"
	"wager-engine/internal/game/jackpot"
	"wager-engine/internal/model"
	"wager-engine/internal/pkg/cache"
	"wager-engine/internal/pkg/db"
	"wager-engine/internal/pkg/lock"
	"wager-engine/internal/repository"
	"wager-engine/internal/scheduler"
	"wager-engine/internal/server"
	"wager-engine/internal/session"
)

const (
	auditBuffer     = 1024
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	configureLogging(cfg.Log)

	log.Info().Str("server", cfg.Server.ID).Msg("Configuration loaded successfully")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Shared volatile store
	rdb, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Initialize repositories
	itemRepo := repository.NewItemRepository(dbPool.Pool)
	userRepo := repository.NewUserRepository(dbPool.Pool)
	roundRepo := repository.NewRoundRepository(dbPool.Pool)
	eventRepo := repository.NewEventRepository(dbPool.Pool)
	settlementRepo := repository.NewSettlementRepository(dbPool.Pool)
	caseRepo := repository.NewCaseRepository(dbPool.Pool)

	// The transfer sub-API is served by this process; managers reach it over
	// HTTP like any other caller.
	transferService := escrow.NewService(dbPool.Pool)
	transferClient := escrow.NewClient(cfg.Escrow.BaseURL, cfg.Escrow.Timeout).WithToken(cfg.Escrow.Token)

	sink := audit.NewSink(eventRepo, auditBuffer)

	deps := game.Deps{
		Sessions:    session.NewRedisBackend(rdb),
		Locker:      lock.NewRedis(rdb),
		Transfers:   transferClient,
		Inventory:   itemRepo,
		Rounds:      roundRepo,
		Profiles:    directory.New(userRepo, rdb, cfg.Directory.CacheTTL),
		Audit:       sink,
		Server:      cfg.Server.ID,
		LockTTL:     cfg.Session.LockTTL,
		CASAttempts: cfg.Session.CASAttempts,
		CASBackoff:  cfg.Session.CASBackoff,
	}

	// Initialize game registry and register managers
	registry := game.NewRegistry()
	battles := casebattle.New(deps, cfg.Games.CaseBattle, caseRepo, settlementRepo)
	for _, m := range []game.Manager{
		coinflip.New(deps, cfg.Games.Coinflip),
		jackpot.New(deps, cfg.Games.Jackpot, cfg.Escrow.HoldingAccount),
		battles,
	} {
		if err := registry.Register(m); err != nil {
			log.Fatal().Err(err).Msg("Failed to register game manager")
		}
	}

	intervals := map[model.Mode]time.Duration{
		model.ModeCoinflip:   cfg.Scheduler.CoinflipInterval,
		model.ModeJackpot:    cfg.Scheduler.JackpotInterval,
		model.ModeCaseBattle: cfg.Scheduler.CaseBattleInterval,
	}
	sched := scheduler.New(cfg.Server.ID, scheduler.NewRedisHeartbeats(rdb), cfg.Scheduler.HeartbeatTTL)
	for _, m := range registry.List() {
		sched.Add(m, intervals[m.Mode()])
	}

	log.Info().
		Int("game_count", registry.Count()).
		Interface("modes", registry.Modes()).
		Msg("Games registered")

	srv, err := server.New(&server.Dependencies{
		Config:    cfg,
		Transfers: transferService,
		Checks: map[string]server.HealthFunc{
			"postgres":  dbPool.HealthCheck,
			"redis":     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"scheduler": sched.Health,
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create HTTP server")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	g.Go(func() error { return sched.Run(gctx) })

	// The audit sink outlives the scheduler so events from round loops that
	// finish during shutdown are still written.
	stopSink := sink.Start()

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Engine stopped with error")
	}

	// Round loops run detached from the scheduler context; let them reach a
	// persisted state before the sink drains.
	battles.Wait()
	stopSink()
	log.Info().Msg("Engine stopped gracefully")
}

func configureLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
