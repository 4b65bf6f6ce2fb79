package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damso-chat/damso/internal/logging"
	"github.com/damso-chat/damso/internal/server"
)

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		logging.L().Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "damso",
	})

	if err := os.MkdirAll(cfg.Upload.Dir, 0o755); err != nil {
		logging.L().Fatal().Err(err).Str("dir", cfg.Upload.Dir).Msg("failed to create upload directory")
	}

	hub := server.NewHub()
	router := server.SetupRoutes(hub, cfg)
	httpServer := server.CreateServer(cfg.Server.Addr(), router)

	go func() {
		logging.L().Info().Str("addr", cfg.Server.Addr()).Msg("relay listening")
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.L().Info().Msg("shutting down")
	if err := server.ShutdownServer(httpServer, 15*time.Second); err != nil {
		logging.L().Error().Err(err).Msg("http shutdown")
	}
	if err := hub.Shutdown(10 * time.Second); err != nil {
		logging.L().Error().Err(err).Msg("hub shutdown")
	}
	logging.L().Info().Msg("stopped")
}
