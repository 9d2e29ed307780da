// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/traylinx/roleroute/internal/evaluation"
	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/scheduler"
)

// refreshRequest is the body of POST /v0/management/refresh.
type refreshRequest struct {
	// Mode selects the evaluation scope: "incremental" (default) or "full".
	Mode string `json:"mode"`
}

// handleRefresh requests an evaluation run. The scheduler decides whether it
// starts now, is queued behind the in-flight run, or is rejected because a
// trigger is already waiting.
func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	// An empty body is fine; it means an incremental run.
	_ = c.ShouldBindJSON(&req)

	var mode evaluation.Mode
	switch req.Mode {
	case "", string(evaluation.ModeIncremental):
		mode = evaluation.ModeIncremental
	case string(evaluation.ModeFull):
		mode = evaluation.ModeFull
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "mode must be \"incremental\" or \"full\"",
		})
		return
	}

	result := s.scheduler.Trigger(mode)
	status := http.StatusAccepted
	if result == scheduler.ResultRejected {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"result": result,
		"mode":   mode,
	})
}

// handleRefreshStatus reports the refresh subsystem state, including the
// last run's outcome. Evaluation failures are visible only here; the
// routing path never surfaces them.
func (s *Server) handleRefreshStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Status())
}

// handleRanking returns the current snapshot, optionally filtered to one
// role via ?role=.
func (s *Server) handleRanking(c *gin.Context) {
	snap := s.store.Current()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{
			"snapshot": nil,
			"message":  "no evaluation has published yet; routing uses bootstrap rankings",
		})
		return
	}

	if role := c.Query("role"); role != "" {
		rr, ok := snap.Roles[role]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no ranking for role " + role})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"version":    snap.Version,
			"created_at": snap.CreatedAt,
			"ranking":    rr,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"version":               snap.Version,
		"created_at":            snap.CreatedAt,
		"roles":                 snap.Roles,
		"low_confidence_models": snap.LowConfidenceModels(),
	})
}

// handleUsage returns recent usage records, newest first.
func (s *Server) handleUsage(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := s.usage.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// handleEvents returns the most recent bus events, newest first.
func (s *Server) handleEvents(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	events := []hooks.RecordedEvent{}
	if s.events != nil {
		events = s.events.Recent(limit)
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
