package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/docflow/internal/adapters/http"
	"github.com/kirillkom/docflow/internal/bootstrap"
	"github.com/kirillkom/docflow/internal/config"
	"github.com/kirillkom/docflow/internal/observability/logging"
	"github.com/kirillkom/docflow/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.MustNew("api", cfg.LogLevel, cfg.LogFormat)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalw("bootstrap error", "error", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		Service:        "api",
		APIToken:       cfg.APIToken,
		Trigger:        app.TriggerOptions(),
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
	}, app.Control, app.Registry, metrics.NewHTTPServerMetrics("api"), logger).Handler()

	// Synchronous scan requests hold the connection until the cycle is confirmed.
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.TriggerTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infow("api listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("api server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("api shutdown error", "error", err)
	}
}
