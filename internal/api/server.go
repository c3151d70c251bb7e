package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"safecex/internal/store"
)

// QueueInfo exposes dispatch queue state to the status surface
type QueueInfo interface {
	QueueDepth() int
}

// ServerConfig contains status server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is a read-only status surface over the local projection:
// health, account state, positions, open orders and queue depth.
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
	startTime  time.Time

	store *store.Store
	queue QueueInfo
}

// NewServer creates the status server
func NewServer(config ServerConfig, st *store.Store, queue QueueInfo, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		config:    config,
		router:    router,
		logger:    logger,
		startTime: time.Now(),
		store:     st,
		queue:     queue,
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// Run serves until the listener fails or Shutdown is called
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	v1.GET("/balance", s.handleBalance)
	v1.GET("/positions", s.handlePositions)
	v1.GET("/orders", s.handleOrders)
	v1.GET("/queue", s.handleQueue)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "starting"
	if s.store.Loaded() {
		status = "ok"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"uptime":     time.Since(s.startTime).String(),
		"latency_ms": s.store.Latency(),
	})
}

func (s *Server) handleBalance(c *gin.Context) {
	b := s.store.Balance()
	c.JSON(http.StatusOK, gin.H{
		"total":  b.Total.String(),
		"free":   b.Free.String(),
		"used":   b.Used.String(),
		"upnl":   b.UPnl.String(),
		"assets": len(b.Assets),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.store.Positions()
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"symbol":         p.Symbol,
			"side":           string(p.Side),
			"contracts":      p.Contracts.String(),
			"entry_price":    p.EntryPrice.String(),
			"notional":       p.Notional.String(),
			"leverage":       p.Leverage,
			"unrealized_pnl": p.UnrealizedPnl.String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleOrders(c *gin.Context) {
	tracked := s.store.Orders()
	out := make([]gin.H, 0, len(tracked))
	for _, o := range tracked {
		out = append(out, gin.H{
			"id":        o.ID,
			"order_id":  o.OrderID,
			"symbol":    o.Symbol,
			"type":      string(o.Type),
			"side":      string(o.Side),
			"status":    string(o.Status),
			"price":     o.Price.String(),
			"amount":    o.Amount.String(),
			"filled":    o.Filled.String(),
			"remaining": o.Remaining.String(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleQueue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"depth": s.queue.QueueDepth(),
	})
}
