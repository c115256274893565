package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/telepresence/internal/config"
	"github.com/dgnsrekt/telepresence/internal/data"
	"github.com/dgnsrekt/telepresence/internal/server"
	"github.com/dgnsrekt/telepresence/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Setup logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	// Load config
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("dbPath", cfg.DBPath),
		zap.Int64("maxScreenBytes", cfg.MaxScreenBytes),
		zap.Float64("screenRatePerSec", cfg.ScreenRatePerSec),
		zap.Int("screenBurst", cfg.ScreenBurst),
		zap.Bool("wsEnabled", cfg.WSEnabled),
		zap.Strings("corsOrigins", cfg.CORSOrigins),
	)

	store, err := data.NewSQLStore(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return 1
	}
	defer store.Close()

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Push channel (optional)
	var hub *ws.Hub
	if cfg.WSEnabled {
		hub, err = ws.NewHub(logger)
		if err != nil {
			logger.Error("failed to create hub", zap.Error(err))
			return 1
		}
		go hub.Run(ctx)
		logger.Info("WebSocket enabled",
			zap.Strings("protocols", []string{ws.ProtocolBinary, ws.ProtocolJSON}),
		)
	}

	srv := server.NewServer(store, data.NewFrameCache(), hub, cfg, logger)

	router, err := server.NewRouter(srv, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// Setup HTTP server
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting relay", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down relay...")

	// Cancel context to close subscriber connections
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("relay stopped")
	return 0
}
