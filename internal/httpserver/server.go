package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tinytelemetry/diagd/internal/apimon"
	"github.com/tinytelemetry/diagd/internal/collector"
	"github.com/tinytelemetry/diagd/internal/dbmon"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/statemon"
)

// DataStore is the narrow persistence contract required by the HTTP API.
type DataStore interface {
	dbmon.Prober
	AnalyzeIntegrity(ctx context.Context) []dbmon.Issue
	TableRowCounts(ctx context.Context) (map[string]int64, error)
}

// Deps are the monitors exposed over HTTP. All fields are required except
// Gatherer, which disables /metrics when nil.
type Deps struct {
	Logger    *diag.Logger
	Collector *collector.Store
	Calls     *apimon.Monitor
	Queries   *dbmon.Monitor
	State     *statemon.Monitor
	Store     DataStore
	Gatherer  prometheus.Gatherer
}

// Server provides the diagnostic collector API.
type Server struct {
	addr      string
	deps      Deps
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	now       func() time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "127.0.0.1:3001"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:      addr,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.capturePanics)

	api := r.Group("/api/diagnostic")
	api.POST("/log", s.handleLog)
	api.GET("/logs", s.handleLogs)
	api.GET("/stats", s.handleStats)
	api.GET("/health", s.handleHealth)
	api.GET("/database/stats", s.handleDatabaseStats)
	api.GET("/database/queries", s.handleDatabaseQueries)
	api.GET("/database/integrity", s.handleDatabaseIntegrity)
	api.GET("/database/export", s.handleDatabaseExport)
	api.POST("/clear-logs", s.handleClearLogs)
	api.GET("/export", s.handleExport)

	api.GET("/session", s.handleSession)
	api.GET("/session/events", s.handleSessionEvents)
	api.GET("/session/export", s.handleSessionExport)
	api.POST("/session/clear", s.handleSessionClear)
	api.GET("/calls/stats", s.handleCallStats)
	api.GET("/calls", s.handleCalls)
	api.GET("/calls/export", s.handleCallsExport)
	api.POST("/state/snapshot", s.handleStateSnapshot)
	api.POST("/state/transition", s.handleStateTransition)
	api.GET("/state/violations", s.handleStateViolations)
	api.GET("/state/snapshots", s.handleStateSnapshots)
	api.POST("/state/diff", s.handleStateDiff)
	api.GET("/state/export", s.handleStateExport)

	if s.deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.deps.Gatherer)))
	}
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = s.now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// capturePanics logs a handler panic as an uncaught error before gin.Recovery
// turns it into a 500.
func (s *Server) capturePanics(c *gin.Context) {
	defer s.deps.Logger.CapturePanic()
	c.Next()
}
