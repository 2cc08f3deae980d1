package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-lifecycle/internal/config"
	"github.com/example/ride-lifecycle/internal/events"
	httpapi "github.com/example/ride-lifecycle/internal/http"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/rating"
	"github.com/example/ride-lifecycle/internal/rideapi"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		logging.NewLogger("error").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	opts := httpapi.Options{
		Backend:        httpapi.ClientBackend{Client: rideapi.NewClient(cfg.BackendURL, cfg.BackendTimeout)},
		Logger:         logger,
		PollInterval:   cfg.PollInterval,
		TickResolution: cfg.TickResolution,
		Strict:         cfg.StrictInvariants(),
		CORSOrigins:    cfg.CORSOrigins,
	}

	// rating claims are shared through redis when more than one host runs
	if cfg.RedisAddr != "" {
		claims := rating.NewRedisClaims(cfg.RedisAddr, cfg.RedisPassword, cfg.RatingClaimTTL)
		defer claims.Close()
		opts.Claims = claims
		opts.Ready = claims.Ping
	} else {
		opts.Claims = rating.NewMemoryClaims()
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer pub.Close()
		opts.Publisher = pub
	}

	s := httpapi.NewServer(opts)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      s,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-lifecycle listening", "addr", cfg.HTTPAddr, "backend", cfg.BackendURL, "env", cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by the http server;
	// closing sessions first ends their streams.
	s.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
