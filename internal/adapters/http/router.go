package http

import (
	"context"

	"github.com/dkeye/Chat/internal/adapters/auth"
	"github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
	rest "github.com/dkeye/Chat/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, verifier *auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		TypingLimit:    cfg.Typing.Limit,
		TypingInterval: cfg.Typing.Interval,
	})
	h := &rest.Handlers{Orch: o}

	r.GET("/up", rest.Up)

	api := r.Group("/api")
	api.GET("/stats", h.Stats)

	authed := api.Group("", auth.Middleware(verifier))
	authed.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", string(auth.UserFrom(c))).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})
	authed.GET("/chats/:chatID/read-info", h.ReadInfo)
	authed.GET("/chats/:chatID/online", h.Online)
	authed.GET("/unread", h.Unread)

	if cfg.ServiceSecret != "" {
		svc, err := auth.NewVerifier([]byte(cfg.ServiceSecret), cfg.JWTAlg)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("internal routes disabled")
		} else {
			internal := api.Group("/internal", auth.ServiceMiddleware(svc))
			internal.POST("/membership", h.Membership)
		}
	} else {
		log.Warn().Str("module", "adapters.http").Msg("service_secret empty, internal routes disabled")
	}

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")
	return r
}
