package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shipflow/internal/api"
	"shipflow/internal/buildinfo"
	"shipflow/internal/config"
	"shipflow/internal/metrics"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal("load config", zap.Error(err))
	}
	metrics.RegisterDefault()

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal("init server", zap.Error(err))
	}

	mux := http.NewServeMux()
	srv.Routes(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Middleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.Poller.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("listening",
			zap.String("addr", cfg.Addr), zap.String("version", buildinfo.Version))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	close(srv.Poller.Stop)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", zap.Error(err))
	}
	if err := srv.Store.Close(); err != nil {
		log.Warn("close store", zap.Error(err))
	}
}
