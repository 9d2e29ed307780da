// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/roleroute/internal/router"
	"github.com/traylinx/roleroute/internal/steering"
)

// Response headers documenting the routing outcome.
const (
	headerRole            = "X-Roleroute-Resolved-Role"
	headerModel           = "X-Roleroute-Model"
	headerSnapshotVersion = "X-Roleroute-Snapshot-Version"
	headerFallbackDepth   = "X-Roleroute-Fallback-Depth"
)

// handleChatCompletions is the hot path: resolve role, rewrite the prompt,
// route to the best ranked model, dispatch with fallback.
func (s *Server) handleChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	if !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request body is not valid JSON"})
		return
	}

	role := s.resolveRole(c, body)

	rewritten := s.prompts.Rewrite(role, body)

	decision, err := s.router.Route(role)
	if err != nil {
		if errors.Is(err, router.ErrNoRanking) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "no ranking available for role " + role,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	result, err := s.dispatcher.Dispatch(c.Request.Context(), decision, rewritten)
	if err != nil {
		log.WithError(err).WithField("role", role).Warn("Dispatch failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.Header(headerRole, decision.Role)
	c.Header(headerModel, result.ModelUsed)
	c.Header(headerSnapshotVersion, strconv.FormatInt(decision.SnapshotVersion, 10))
	c.Header(headerFallbackDepth, strconv.Itoa(result.FallbackDepth))
	c.Data(http.StatusOK, "application/json", result.Response)
}

// resolveRole picks the request's role: explicit header first, then a role
// field in the body, then steering inference, finally the default role via
// the router's own fallback.
func (s *Server) resolveRole(c *gin.Context, body []byte) string {
	if role := c.GetHeader(RoleHeader); role != "" {
		return role
	}
	if role := gjson.GetBytes(body, "role").String(); role != "" {
		return role
	}
	if s.inferencer != nil {
		ctx := steering.ContextFor(
			gjson.GetBytes(body, "model").String(),
			contentLength(body),
			time.Now(),
		)
		if role := s.inferencer.Infer(ctx); role != "" {
			return role
		}
	}
	return ""
}

func contentLength(body []byte) int {
	total := 0
	gjson.GetBytes(body, "messages").ForEach(func(_, msg gjson.Result) bool {
		total += len(msg.Get("content").String())
		return true
	})
	return total
}

// handleListModels reports the identities known to the current snapshot in
// the OpenAI list format. Before the first evaluation it falls back to the
// bootstrap models.
func (s *Server) handleListModels(c *gin.Context) {
	var ids []string
	if snap := s.store.Current(); snap != nil {
		for model := range snap.RankedModels() {
			ids = append(ids, model)
		}
	} else {
		seen := make(map[string]bool)
		for _, models := range s.cfg.Bootstrap {
			for _, model := range models {
				if !seen[model] {
					seen[model] = true
					ids = append(ids, model)
				}
			}
		}
	}
	sort.Strings(ids)

	data := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		data = append(data, gin.H{
			"id":     id,
			"object": "model",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}
