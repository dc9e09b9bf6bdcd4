package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Chat/internal/adapters/auth"
	router "github.com/dkeye/Chat/internal/adapters/http"
	"github.com/dkeye/Chat/internal/adapters/redisbus"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	"github.com/dkeye/Chat/internal/core"
	"github.com/dkeye/Chat/internal/store/memory"
	"github.com/dkeye/Chat/internal/store/postgres"
	"github.com/dkeye/Chat/internal/store/sqlite"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	repo, closeRepo, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer closeRepo()

	scope, err := orch.ParsePresenceScope(cfg.Presence.Scope)
	if err != nil {
		log.Fatal().Err(err).Msg("bad presence scope")
	}

	cache := app.NewMembershipCache(app.CacheConfig{
		ChatListTTL:       cfg.Cache.ChatListTTL,
		ChatListSliding:   cfg.Cache.ChatListSliding,
		MembershipTTL:     cfg.Cache.MembershipTTL,
		MembershipSliding: cfg.Cache.MembershipSliding,
		SweepEvery:        cfg.Cache.SweepEvery,
	})
	go cache.Run(ctx)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Hub:      app.NewChannelHub(),
		Presence: app.NewPresenceRegistry(),
		Cache:    cache,
		Reads:    app.NewReadStateService(repo, cache),
		Repo:     repo,
		Policy:   app.SimplePolicy{},
		Scope:    scope,
	}

	if cfg.Redis.Addr != "" {
		bus, err := redisbus.Dial(ctx, redisbus.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
			NodeID:   cfg.NodeID,
		})
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("failed to connect redis")
		}
		defer bus.Close()
		listener, err := bus.Listen(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe redis channel")
		}
		o.Bus = bus
		go listener.Run(ctx, o.DeliverRemote)
	}

	verifier, err := auth.NewVerifier([]byte(cfg.Secret), cfg.JWTAlg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build token verifier")
	}

	r := router.SetupRouter(ctx, cfg, o, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("node", cfg.NodeID).Msg("Chat server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, c config.StoreConfig) (core.Repository, func(), error) {
	switch c.Driver {
	case "sqlite":
		s, err := sqlite.Open(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		s, err := postgres.Open(ctx, c.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		log.Warn().Str("module", "main").Msg("using in-memory store, state is lost on restart")
		return memory.New(), func() {}, nil
	}
}
