package httpserver

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/diagd/internal/apimon"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/statemon"
)

func (s *Server) handleSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"session":    s.deps.Logger.Session(),
		"statistics": s.deps.Logger.GetStatistics(),
	})
}

func (s *Server) handleSessionEvents(c *gin.Context) {
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
	events := s.deps.Logger.GetEvents(diag.EventFilter{
		Level:    level,
		Category: category,
		Limit:    limit,
	})
	c.JSON(http.StatusOK, gin.H{"total": len(events), "events": events})
}

func (s *Server) handleSessionExport(c *gin.Context) {
	export := s.deps.Logger.ExportLogs()
	download(c, fmt.Sprintf("diagnostic-logs-%d", export.Timestamp.UnixMilli()), export)
}

func (s *Server) handleSessionClear(c *gin.Context) {
	s.deps.Logger.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": s.deps.Logger.Session().ID})
}

func (s *Server) handleCallStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Calls.GetStatistics())
}

func (s *Server) handleCalls(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	minDuration, ok := floatQuery(c, "minDuration")
	if !ok {
		return
	}
	success, ok := boolQuery(c, "success")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.Calls.GetCalls(apimon.CallFilter{
		Success:     success,
		MinDuration: minDuration,
		Limit:       limit,
	}))
}

func (s *Server) handleCallsExport(c *gin.Context) {
	export := s.deps.Calls.Export()
	download(c, fmt.Sprintf("api-calls-export-%d", export.Timestamp.UnixMilli()), export)
}

type snapshotRequest struct {
	StoreName string `json:"storeName" binding:"required"`
	State     any    `json:"state" binding:"required"`
	Action    string `json:"action"`
}

func (s *Server) handleStateSnapshot(c *gin.Context) {
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid snapshot: %v", err))
		return
	}
	violations := s.deps.State.Snapshot(req.StoreName, req.State, req.Action)
	if violations == nil {
		violations = []statemon.Violation{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(violations) == 0, "violations": violations})
}

type transitionRequest struct {
	StoreName string `json:"storeName" binding:"required"`
	Previous  any    `json:"previous" binding:"required"`
	Next      any    `json:"next" binding:"required"`
	Action    string `json:"action"`
}

func (s *Server) handleStateTransition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid transition: %v", err))
		return
	}
	found := s.deps.State.ValidateTransition(req.StoreName, req.Previous, req.Next, req.Action)
	if found == nil {
		found = []statemon.Transition{}
	}
	c.JSON(http.StatusOK, gin.H{"valid": len(found) == 0, "invalidTransitions": found})
}

func (s *Server) handleStateViolations(c *gin.Context) {
	violations := s.deps.State.GetViolations(statemon.ViolationFilter{
		Type: statemon.ViolationType(c.Query("type")),
	})
	c.JSON(http.StatusOK, gin.H{
		"total":      len(violations),
		"violations": violations,
		"statistics": s.deps.State.GetStatistics(),
	})
}

func (s *Server) handleStateSnapshots(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.deps.State.GetSnapshots(statemon.SnapshotFilter{
		StoreName: c.Query("storeName"),
		Limit:     limit,
	}))
}

type diffRequest struct {
	Previous any `json:"previous"`
	Next     any `json:"next"`
}

func (s *Server) handleStateDiff(c *gin.Context) {
	var req diffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid diff request: %v", err))
		return
	}
	c.JSON(http.StatusOK, statemon.DiffStates(req.Previous, req.Next))
}

func (s *Server) handleStateExport(c *gin.Context) {
	export := s.deps.State.Export()
	download(c, fmt.Sprintf("state-export-%d", export.Timestamp.UnixMilli()), export)
}
