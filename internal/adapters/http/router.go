package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Cowatch/internal/adapters/signal"
	"github.com/dkeye/Cowatch/internal/config"
	"github.com/dkeye/Cowatch/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const lobbyCookie = "CowatchLobby"

// SetupRouter wires HTTP routes (REST + WS).
// - Static files are served from cfg.StaticPath.
// - REST is under /api/*
// - WebSocket signaling lives at /api/ws/signal
func SetupRouter(ctx context.Context, cfg *config.Config, query core.SessionQuery, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(lobbyCookie, store))

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	sh := sessionHandlers{query: query}
	api.GET("/sessions", sh.list)
	api.POST("/sessions", sh.create)
	api.GET("/sessions/:id", sh.get)

	api.GET("/lobby", getLobby)
	api.POST("/lobby", postLobby)
	api.POST("/lobby/ended", postEnded)

	api.GET("/ws/signal", func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
