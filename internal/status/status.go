// Package status implements the read-only admin API expansion
// (SPEC_FULL.md §5.8.4): GET /health, GET /status, GET /metrics over
// the running engine, served only when --status-addr is supplied. It
// carries no control endpoints — unlike the teacher's internal/api,
// which this package is adapted from, there is no /scan/start,
// /scan/stop, or /scan/target here.
package status

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Snapshot is the engine state the admin API reports. Callers supply a
// function returning the current values rather than a tracked copy, so
// /status always reflects the live scheduler.
type Snapshot struct {
	ActiveSessions int
	Processed      int64
	Successful     int64
	AdmissionCap   int
}

// Server is the read-only gin-backed admin HTTP surface.
type Server struct {
	router *gin.Engine
	logger *zap.SugaredLogger
	snap   func() Snapshot
}

// New builds a Server. snap is called on every /status and /metrics
// request; it must be safe for concurrent use.
func New(snap func() Snapshot, logger *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{router: gin.New(), logger: logger, snap: snap}
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	s.router.GET("/health", s.healthHandler)
	s.router.GET("/status", s.statusHandler)
	s.router.GET("/metrics", s.metricsHandler)

	return s
}

// ListenAndServe runs the admin API on addr. It blocks until the
// server stops (on error or external shutdown).
func (s *Server) ListenAndServe(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		c.Next()
		s.logger.Debugw("admin request completed",
			"path", path, "status", c.Writer.Status(), "method", c.Request.Method)
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "fingerprinter"})
}

func (s *Server) statusHandler(c *gin.Context) {
	snap := s.snap()
	c.JSON(http.StatusOK, gin.H{
		"active_sessions": snap.ActiveSessions,
		"processed":       snap.Processed,
		"successful":      snap.Successful,
		"admission_cap":   snap.AdmissionCap,
	})
}

func (s *Server) metricsHandler(c *gin.Context) {
	snap := s.snap()
	body := fmt.Sprintf(
		"fingerprinter_active_sessions %d\nfingerprinter_processed_total %d\nfingerprinter_successful_total %d\nfingerprinter_admission_cap %d\n",
		snap.ActiveSessions, snap.Processed, snap.Successful, snap.AdmissionCap,
	)
	c.String(http.StatusOK, body)
}
