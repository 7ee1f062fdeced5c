package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	billingwebhooks "github.com/goliatone/go-billing-webhooks"
	"github.com/goliatone/go-billing-webhooks/adapters/gologger"
	"github.com/goliatone/go-billing-webhooks/core"
)

const (
	envHTTPAddr      = core.EnvPrefix + "HTTP_ADDR"
	envLogLevel      = core.EnvPrefix + "LOG_LEVEL"
	envPurgeInterval = core.EnvPrefix + "PURGE_INTERVAL"

	defaultHTTPAddr = ":8080"
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := gologger.NewJSONLogger(os.Getenv(envLogLevel))
	if err := run(context.Background(), logger); err != nil {
		logger.Error("webhookd stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(parent context.Context, logger *gologger.SlogLogger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx,
		core.NewCfgxConfigProvider(core.NewEnvConfigLoader()),
		core.GoOptionsResolver{},
		core.Config{},
	)
	if err != nil {
		return err
	}

	provider := gologger.NewSlogProvider(logger.Named(cfg.ServiceName))
	opts := []billingwebhooks.SetupOption{billingwebhooks.WithLoggerProvider(provider)}

	store, closeStore, err := openSQLStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if store != nil {
		opts = append(opts, billingwebhooks.WithStore(store))
	}

	engine, err := billingwebhooks.Setup(cfg, opts...)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}
	go runPurger(ctx, engine.Store, purgeInterval(), provider.GetLogger("purger"))

	addr := strings.TrimSpace(os.Getenv(envHTTPAddr))
	if addr == "" {
		addr = defaultHTTPAddr
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(engine),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("webhookd listening", "addr", addr, "backend", cfg.Idempotency.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", "error", err.Error())
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Warn("engine shutdown incomplete", "error", err.Error())
	}
	return serveErr
}

func purgeInterval() time.Duration {
	raw := strings.TrimSpace(os.Getenv(envPurgeInterval))
	if raw == "" {
		return time.Minute
	}
	interval, err := time.ParseDuration(raw)
	if err != nil || interval <= 0 {
		return time.Minute
	}
	return interval
}
