package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/httpapi"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/storage"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/wsapi"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/app/facade"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/auth/sessiontoken"
	platformclock "github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/clock"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/logging"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/metrics"
)

func main() {
	cfg, err := config.LoadServerConfigFromEnv()
	if err != nil {
		log.Fatalf("invalid server config: %v", err)
	}
	logger := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Auth configuration:
	// - Production: require SESSION_* env vars and enforce bearer auth
	// - Local dev: set AUTH_MODE=dev to use X-Debug-Subject on REST and a throwaway signing secret
	var (
		sessionCfg config.SessionConfig
		tokens     *sessiontoken.Manager
		authMW     func(http.Handler) http.Handler
		err        error
	)
	switch cfg.AuthMode {
	case "dev":
		sessionCfg = config.SessionConfig{
			Secret: []byte(rand.Text()),
			Issuer: "bookkeeping-relay-dev",
			TTL:    24 * time.Hour,
		}
		tokens = sessiontoken.New(sessionCfg)
		authMW = httpapi.NewDevAuthMiddleware(cfg.DevSubject)
		logger.Warn("AUTH_MODE=dev: sessions do not survive restarts and REST trusts X-Debug-Subject")
	default:
		sessionCfg, err = config.LoadSessionConfigFromEnv()
		if err != nil {
			return fmt.Errorf("invalid session config: %w", err)
		}
		tokens = sessiontoken.New(sessionCfg)
		authMW = httpapi.NewAuthMiddleware(tokens)
	}

	st, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	relayMetrics, err := metrics.NewRelay(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	backend := facade.New(st.Store, st.Accounts, tokens, platformclock.NewSystemClock())
	api := httpapi.NewServer(backend, logger, relayMetrics)
	handler := httpapi.NewRouterWithOptions(api, httpapi.RouterOptions{
		AuthMiddleware: authMW,
		WebSocket:      wsapi.NewHandler(wsapi.Options{Backend: backend, Logger: logger, Metrics: relayMetrics}),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Health:         st.Check,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// WebSocket sessions watch this context and close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "port", cfg.Port, "storage", cfg.StorageBackend, "auth", cfg.AuthMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
