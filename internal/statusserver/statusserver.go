// Package statusserver exposes a small read-only HTTP surface over a paper
// workspace: liveness, Prometheus metrics, and current positions. Grounded
// on cmd/server/main.go's gin.Engine/setupHTTPRoutes/handleHealthCheck
// pattern, stripped of everything gRPC-specific — this is the "optional
// daemon mode, off by default" surface, never the engine's tick path.
package statusserver

import (
	"net/http"

	"ashare-backtest/internal/bars"
	"ashare-backtest/internal/paperrunner"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the paper runner's read-only status HTTP surface.
type Server struct {
	router *gin.Engine
	run    *paperrunner.Runner
	log    *zap.Logger
}

// New builds a Server backed by run. The caller is responsible for
// starting Run(addr) after any daemon-mode config check.
func New(run *paperrunner.Runner, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{router: router, run: run, log: log}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/positions", s.handlePositions)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePositions(c *gin.Context) {
	tradeDate := c.Query("trade_date")
	if tradeDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trade_date query parameter is required"})
		return
	}
	positions, err := s.run.Positions(bars.Date(tradeDate))
	if err != nil {
		if s.log != nil {
			s.log.Error("positions lookup failed", zap.String("trade_date", tradeDate), zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade_date": tradeDate, "positions": positions})
}

// Run starts the HTTP server, blocking until it exits or errors.
func (s *Server) Run(addr string) error {
	if s.log != nil {
		s.log.Info("status server listening", zap.String("addr", addr))
	}
	return s.router.Run(addr)
}
