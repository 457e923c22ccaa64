package httpserver

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tinytelemetry/diagd/internal/collector"
	"github.com/tinytelemetry/diagd/internal/dbmon"
	"github.com/tinytelemetry/diagd/internal/health"
	"github.com/tinytelemetry/diagd/internal/model"
)

// Server-side health derivation.
const (
	degradedSlowQueries = 10
	degradedErrors      = 20
)

// logRequest is the body of POST /log.
type logRequest struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      model.Level    `json:"level" binding:"required,oneof=DEBUG INFO WARN ERROR CRITICAL FATAL"`
	Category   model.Category `json:"category" binding:"required,oneof=UI API DATABASE LOGIC PERFORMANCE MEMORY NETWORK STATE SECURITY VALIDATION"`
	Message    string         `json:"message" binding:"required"`
	Details    any            `json:"details"`
	StackTrace string         `json:"stackTrace"`
	SessionID  string         `json:"sessionId"`
	Context    map[string]any `json:"context"`
	Meta       model.Meta     `json:"meta"`
	URL        string         `json:"url"`
}

func (s *Server) handleLog(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid diagnostic event: %v", err))
		return
	}
	if req.ID == "" {
		req.ID = "server-" + uuid.NewString()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now().UTC()
	}

	stored := s.deps.Collector.Receive(collector.ReceivedEvent{
		DiagnosticEvent: model.DiagnosticEvent{
			ID:         req.ID,
			Timestamp:  req.Timestamp,
			Level:      req.Level,
			Category:   req.Category,
			Message:    req.Message,
			Details:    req.Details,
			StackTrace: req.StackTrace,
			SessionID:  req.SessionID,
			Context:    req.Context,
			Meta:       req.Meta,
		},
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		URL:       req.URL,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "id": stored.ID})
}

func (s *Server) handleLogs(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	level, ok := levelQuery(c)
	if !ok {
		return
	}
	category, ok := categoryQuery(c)
	if !ok {
		return
	}
	logs := s.deps.Collector.Events(collector.Filter{
		Level:     level,
		Category:  category,
		SessionID: c.Query("sessionId"),
		Limit:     limit,
	})
	c.JSON(http.StatusOK, gin.H{"total": len(logs), "logs": logs})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Collector.Stats())
}

type backendHealth struct {
	Uptime float64    `json:"uptime"`
	Memory backendMem `json:"memory"`
	CPU    backendCPU `json:"cpu"`
}

type backendMem struct {
	UsedMB  float64 `json:"usedMB"`
	LimitMB float64 `json:"limitMB"`
	Ratio   float64 `json:"ratio"`
}

type backendCPU struct {
	Cores      int `json:"cores"`
	Goroutines int `json:"goroutines"`
}

type logHealth struct {
	Total  int `json:"total"`
	Errors int `json:"errors"`
}

type healthResponse struct {
	Status    health.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Backend   backendHealth `json:"backend"`
	Database  dbmon.Health  `json:"database"`
	Logs      logHealth     `json:"logs"`
}

// serverStatus is critical when the store is unreachable and degraded when
// queries are slow or clients report many failures.
func serverStatus(db dbmon.Health, logs logHealth) health.Status {
	switch {
	case !db.Connected:
		return health.Critical
	case db.SlowQueries > degradedSlowQueries || logs.Errors > degradedErrors:
		return health.Degraded
	default:
		return health.Healthy
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	db := s.deps.Queries.CheckHealth(c.Request.Context(), s.deps.Store)
	mem := health.SampleMemory()
	logs := logHealth{Total: s.deps.Collector.Len(), Errors: s.deps.Collector.Failures()}

	resp := healthResponse{
		Status:    serverStatus(db, logs),
		Timestamp: s.now().UTC(),
		Backend: backendHealth{
			Uptime: s.now().Sub(s.startTime).Seconds(),
			Memory: backendMem{
				UsedMB:  mem.UsedMB(),
				LimitMB: float64(mem.LimitBytes) / (1 << 20),
				Ratio:   mem.Ratio(),
			},
			CPU: backendCPU{Cores: runtime.NumCPU(), Goroutines: runtime.NumGoroutine()},
		},
		Database: db,
		Logs:     logs,
	}

	code := http.StatusOK
	if resp.Status == health.Critical {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

func (s *Server) handleDatabaseStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Queries.GetStatistics())
}

func (s *Server) handleDatabaseQueries(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	minDuration, ok := floatQuery(c, "minDuration")
	if !ok {
		return
	}
	withErrors, ok := boolQuery(c, "withErrors")
	if !ok {
		return
	}
	f := dbmon.QueryFilter{
		Model:       c.Query("model"),
		MinDuration: minDuration,
		WithErrors:  withErrors != nil && *withErrors,
		Limit:       limit,
	}
	queries := s.deps.Queries.GetQueries(f)
	c.JSON(http.StatusOK, gin.H{"total": len(queries), "queries": queries})
}

func (s *Server) handleDatabaseIntegrity(c *gin.Context) {
	issues := s.deps.Store.AnalyzeIntegrity(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"healthy":     len(issues) == 0,
		"issuesCount": len(issues),
		"issues":      issues,
	})
}

func (s *Server) handleDatabaseExport(c *gin.Context) {
	export := s.deps.Queries.Export()
	download(c, fmt.Sprintf("database-export-%d", export.Timestamp.UnixMilli()), export)
}

func (s *Server) handleClearLogs(c *gin.Context) {
	n := s.deps.Collector.Clear()
	c.JSON(http.StatusOK, gin.H{"success": true, "clearedCount": n})
}

// exportBundle is the downloadable dump of the collector and query monitor.
type exportBundle struct {
	Timestamp time.Time                 `json:"timestamp" yaml:"timestamp"`
	Logs      []collector.ReceivedEvent `json:"logs" yaml:"logs"`
	Stats     collector.Stats           `json:"stats" yaml:"stats"`
	Database  dbmon.Statistics          `json:"database" yaml:"database"`
	Tables    map[string]int64          `json:"tables,omitempty" yaml:"tables,omitempty"`
}

func (s *Server) handleExport(c *gin.Context) {
	now := s.now()
	bundle := exportBundle{
		Timestamp: now.UTC(),
		Logs:      s.deps.Collector.Events(collector.Filter{}),
		Stats:     s.deps.Collector.Stats(),
		Database:  s.deps.Queries.GetStatistics(),
	}
	if counts, err := s.deps.Store.TableRowCounts(c.Request.Context()); err == nil {
		bundle.Tables = counts
	}
	download(c, fmt.Sprintf("diagnostic-export-%d", now.UnixMilli()), bundle)
}
