// Command tollgate-debugd runs a local HTTP server for debugging trigger
// configurations: it predicts evaluation outcomes without writing any
// occurrence or assignment state.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tollgate-sdk/tollgate"
	"github.com/tollgate-sdk/tollgate/internal/config"
	"github.com/tollgate-sdk/tollgate/internal/debugapi"
	"github.com/tollgate-sdk/tollgate/internal/health"
	"github.com/tollgate-sdk/tollgate/internal/logger"
	"github.com/tollgate-sdk/tollgate/internal/refresh"
)

func main() {
	if err := run(); err != nil {
		slog.Error("tollgate-debugd failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := tollgate.New(cfg, tollgate.WithLogger(log))
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Network.IsConfigured() {
		refresher := refresh.New(log, cfg.Network.RefreshInterval, client.RefreshConfig)
		go refresher.Run(ctx)
	}

	healthSvc := health.NewService(health.NewStorageChecker(client.Store()))
	api := debugapi.NewAPI(client, healthSvc)
	srv := &http.Server{
		Addr:         cfg.Debug.ListenAddr,
		Handler:      api.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("debug server listening", slog.String("addr", cfg.Debug.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
