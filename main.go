package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/api"
	"github.com/lmarchetti42/chatform/config"
	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/hub"
	"github.com/lmarchetti42/chatform/session"
	"github.com/lmarchetti42/chatform/store"
	"github.com/lmarchetti42/chatform/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting chatform",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("backend_url", cfg.BackendURL),
		zap.String("database", cfg.DatabaseDSN))

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer db.Close()

	// WebSocket fan-out
	h := hub.NewHub(logger)
	go h.Run()
	ws := hub.NewServer(h, logger)

	// Assistant stream client
	client := stream.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.StreamTimeout, logger)
	opener := session.OpenerFunc(func(ctx context.Context, req *domain.StreamRequest) (session.Channel, error) {
		return client.Open(ctx, req)
	})

	manager := session.NewManager(opener, db, h, cfg, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := api.NewHandler(manager, ws, logger)
	handler.RegisterRoutes(e)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API started", zap.Int("port", cfg.HTTPPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to shutdown server gracefully", zap.Error(err))
	}
	manager.Shutdown()

	logger.Info("Stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}
