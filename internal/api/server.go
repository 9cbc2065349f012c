// Package api is the HTTP surface: order intake, touch command endpoints,
// voice utterances, anomaly resolution and the websocket event stream.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"expediter/internal/anomaly"
	"expediter/internal/config"
	"expediter/internal/monitoring"
	"expediter/internal/realtime"
	"expediter/internal/router"
	"expediter/internal/store"
	"expediter/internal/voice"
)

// Server wires the gin router over the application services.
type Server struct {
	Router *gin.Engine

	store     store.Store
	intake    *router.Router
	executor  *router.Executor
	engine    *anomaly.Engine
	processor *voice.Processor
	hub       *realtime.Hub
	cfg       *config.Config
	metrics   *monitoring.Metrics
}

// New creates the server and registers every route. processor may be nil
// when no transcription backend is configured; the voice endpoints then
// answer 503.
func New(cfg *config.Config, st store.Store, intake *router.Router, x *router.Executor, eng *anomaly.Engine, proc *voice.Processor, hub *realtime.Hub, m *monitoring.Metrics) *Server {
	s := &Server{
		Router:    gin.Default(),
		store:     st,
		intake:    intake,
		executor:  x,
		engine:    eng,
		processor: proc,
		hub:       hub,
		cfg:       cfg,
		metrics:   m,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "expediter API is running"})
	})

	v1 := s.Router.Group("/api/v1")
	v1.Use(AuthMiddleware(s.cfg.Auth.JWTSecret))
	{
		// Order intake and queries
		v1.POST("/orders", s.CreateOrder)
		v1.GET("/orders", s.ListOrders)
		v1.GET("/orders/:number", s.GetOrder)
		v1.GET("/routing", s.ListRouting)

		// Station management
		v1.POST("/stations", s.CreateStation)
		v1.GET("/stations", s.ListStations)

		// Touch commands against a single routing record
		v1.POST("/routing/:id/start", s.routingCommand("start"))
		v1.POST("/routing/:id/bump", s.routingCommand("bump"))
		v1.POST("/routing/:id/recall", s.routingCommand("recall"))
		v1.POST("/routing/:id/priority", s.SetRoutingPriority)

		// Order-level commands
		v1.POST("/orders/:number/start", s.orderCommand("start"))
		v1.POST("/orders/:number/bump", s.orderCommand("bump"))
		v1.POST("/orders/:number/recall", s.orderCommand("recall"))
		v1.POST("/orders/:number/priority", s.SetOrderPriority)
		v1.POST("/orders/:number/archive", s.ArchiveOrder)

		// Batch commands
		v1.POST("/tables/:table/bump", s.BumpTable)
		v1.POST("/kitchen/bump-all", s.BumpAll)

		// Command history
		v1.GET("/commands", s.ListCommands)

		// Anomalies
		v1.GET("/anomalies", s.ListAnomalies)
		v1.POST("/anomalies/:id/resolve", s.ResolveAnomaly)

		// Voice
		v1.POST("/voice/commands", s.VoiceCommand)
		v1.POST("/voice/sessions/:id/cancel", s.CancelVoiceSession)

		// Event stream
		v1.GET("/ws", s.EventStream)
	}
}
