// Copyright 2026 The roleroute Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api provides the HTTP surface of the roleroute server: the
// OpenAI-compatible chat endpoint that performs role resolution, prompt
// rewriting, routing and dispatch, plus the management endpoints that
// expose and control the ranking refresh subsystem.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/roleroute/internal/config"
	"github.com/traylinx/roleroute/internal/dispatch"
	"github.com/traylinx/roleroute/internal/hooks"
	"github.com/traylinx/roleroute/internal/prompts"
	"github.com/traylinx/roleroute/internal/ranking"
	"github.com/traylinx/roleroute/internal/router"
	"github.com/traylinx/roleroute/internal/scheduler"
	"github.com/traylinx/roleroute/internal/steering"
	"github.com/traylinx/roleroute/internal/usage"
)

// RoleHeader carries an explicit role on incoming requests.
const RoleHeader = "X-Roleroute-Role"

// Server wires the routing pipeline behind a gin engine.
type Server struct {
	cfg        *config.Config
	engine     *gin.Engine
	httpServer *http.Server

	router     *router.Router
	dispatcher *dispatch.Dispatcher
	prompts    *prompts.Registry
	inferencer *steering.Inferencer
	scheduler  *scheduler.Scheduler
	store      *ranking.Store
	usage      usage.Sink
	events     *hooks.Recorder
}

// Options collects the dependencies of a Server.
type Options struct {
	Config     *config.Config
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Prompts    *prompts.Registry
	Inferencer *steering.Inferencer
	Scheduler  *scheduler.Scheduler
	Store      *ranking.Store
	Usage      usage.Sink
	// Events may be nil; the events endpoint then reports empty history.
	Events *hooks.Recorder
}

// NewServer assembles the gin engine and registers all routes.
func NewServer(opts Options) *Server {
	if !opts.Config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        opts.Config,
		engine:     gin.New(),
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		prompts:    opts.Prompts,
		inferencer: opts.Inferencer,
		scheduler:  opts.Scheduler,
		store:      opts.Store,
		usage:      opts.Usage,
		events:     opts.Events,
	}
	if s.usage == nil {
		s.usage = usage.NopSink{}
	}

	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/chat/completions", s.handleChatCompletions)
		v1.GET("/models", s.handleListModels)
	}

	mgmt := s.engine.Group("/v0/management", s.managementAuth())
	{
		mgmt.POST("/refresh", s.handleRefresh)
		mgmt.GET("/refresh/status", s.handleRefreshStatus)
		mgmt.GET("/ranking", s.handleRanking)
		mgmt.GET("/usage", s.handleUsage)
		mgmt.GET("/events", s.handleEvents)
	}
}

// Handler exposes the underlying engine, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("API server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	snap := s.store.Current()
	version := int64(0)
	if snap != nil {
		version = snap.Version
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"snapshot_version": version,
	})
}

// managementAuth verifies the configured management key. With no key
// configured the endpoints stay open; that mode is meant for localhost
// deployments only.
func (s *Server) managementAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.ManagementEnabled() {
			c.Next()
			return
		}

		key := c.GetHeader("Authorization")
		if len(key) > 7 && key[:7] == "Bearer " {
			key = key[7:]
		}
		if !s.cfg.VerifyManagementKey(key) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing management key",
			})
			return
		}
		c.Next()
	}
}
