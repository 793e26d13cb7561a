// Package main is the entry point for the entrytree server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/entrytree/internal/config"
	"github.com/CageChen/entrytree/internal/handler"
	"github.com/CageChen/entrytree/internal/logging"
	"github.com/CageChen/entrytree/internal/metrics"
	"github.com/CageChen/entrytree/internal/watcher"
	"github.com/CageChen/entrytree/internal/workspace"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()
	log := logging.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("entrytree starting",
		zap.String("config", cfg.GetConfigFilePath()),
		zap.Int("workspaces", len(cfg.Workspaces)),
		zap.Int("max_depth", cfg.Limits.MaxDepth),
		zap.Int("max_files", cfg.Limits.MaxFiles))

	svc := workspace.New(workspace.Options{
		Limits:   cfg.Limits,
		Retry:    cfg.Retry,
		Confine:  cfg.Confine,
		CacheTTL: cfg.CacheTTL,
		Logger:   log,
	})
	if err := svc.Open(ctx, cfg.Workspaces); err != nil {
		log.Fatal("failed to open workspaces", zap.Error(err))
	}
	defer func() { _ = svc.Close() }()

	for _, ws := range svc.Workspaces() {
		log.Info("serving workspace",
			zap.String("name", ws.Name),
			zap.String("backend", ws.Backend),
			zap.String("path", ws.Path))
	}

	wsHandler := handler.NewWSHandler()

	// Setup file watcher if enabled
	if cfg.Watch {
		if stopWatch := startWatcher(svc, wsHandler); stopWatch != nil {
			defer stopWatch()
		}
	}

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware())
	r.Use(corsMiddleware())
	if cfg.Metrics {
		r.Use(metrics.Middleware())
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	handler.Register(r.Group("/api"), cfg, svc, wsHandler)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	go func() {
		log.Info("server listening", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
	log.Info("closing websocket clients", zap.Int("clients", wsHandler.Clients()))
	wsHandler.Close()
}

// startWatcher watches the local workspaces, invalidating cached trees and
// notifying WebSocket clients on every change. Only watched workspaces get
// their trees cached. It returns the stop function.
func startWatcher(svc *workspace.Service, wsHandler *handler.WSHandler) func() {
	log := logging.L()

	var roots []watcher.Root
	for _, r := range svc.Roots() {
		roots = append(roots, watcher.Root{Workspace: r.Name, Dir: r.Dir})
	}
	if len(roots) == 0 {
		return nil
	}

	w, err := watcher.New(roots)
	if err != nil {
		log.Warn("failed to create file watcher", zap.Error(err))
		return nil
	}
	w.OnChange(func(e watcher.Event) {
		svc.Invalidate(e.Workspace, e.Path)
	})
	w.OnChange(wsHandler.OnEntryChange)
	if err := w.Start(); err != nil {
		log.Warn("failed to start file watcher", zap.Error(err))
		_ = w.Stop()
		return nil
	}
	for _, r := range roots {
		if err := svc.MarkWatched(r.Workspace); err != nil {
			log.Warn("cannot mark workspace watched", zap.String("workspace", r.Workspace), zap.Error(err))
		}
	}
	log.Info("file watcher enabled", zap.Int("roots", len(roots)))
	return func() { _ = w.Stop() }
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
