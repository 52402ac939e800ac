package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Larswa/chess-combat/internal/api"
	"github.com/Larswa/chess-combat/internal/builder"
	appcfg "github.com/Larswa/chess-combat/internal/config"
	"github.com/Larswa/chess-combat/internal/obslog"
	"github.com/Larswa/chess-combat/internal/version"
)

func main() {
	started := time.Now()
	cfg, err := appcfg.Load()
	if err != nil && !errors.Is(err, appcfg.ErrNoProvider) {
		log.Fatalf("config error: %v", err)
	}
	if lerr := obslog.InitFromEnv(); lerr != nil {
		log.Fatalf("logger init error: %v", lerr)
	}
	defer obslog.Sync()
	logger := obslog.L()
	if err != nil {
		logger.Warn("config_no_provider", zap.Error(err))
	}

	deps, err := builder.New(cfg, logger)
	if err != nil {
		logger.Fatal("init_failed", zap.Error(err))
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("shutdown_close_failed", zap.Error(err))
		}
	}()

	info := version.Resolve(cfg.AppVersion, cfg.BuildDate, cfg.BuildTimestamp, started)
	h := api.NewHandler(deps.Service, deps.Hub, info, cfg.SessionTTL())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(api.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	h.RegisterRoutes(e)

	go func() {
		logger.Info("server_started", zap.String("addr", cfg.HTTPAddr), zap.String("version", info.Version))
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server_failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server_stopping")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Warn("server_shutdown_failed", zap.Error(err))
	}
	logger.Info("server_stopped")
}
