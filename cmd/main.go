// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package main runs the gateway daemon: a UDP and a TCP listener accepting
// tagged status messages from amateur-radio logging applications, with
// Prometheus metrics and health endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/KC3PIB/HamLoggerGateway/examples/simple"
	"github.com/KC3PIB/HamLoggerGateway/pkg/blacklist"
	"github.com/KC3PIB/HamLoggerGateway/pkg/breaker"
	"github.com/KC3PIB/HamLoggerGateway/pkg/handler"
	"github.com/KC3PIB/HamLoggerGateway/pkg/health"
	"github.com/KC3PIB/HamLoggerGateway/pkg/metrics"
	"github.com/KC3PIB/HamLoggerGateway/pkg/router"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server/tcp"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server/udp"
)

// Config holds the daemon configuration.
type Config struct {
	// Listeners
	Address           string `env:"HLG_ADDRESS"             envDefault:"0.0.0.0"`
	UDPPort           int    `env:"HLG_UDP_PORT"            envDefault:"12060"`
	TCPPort           int    `env:"HLG_TCP_PORT"            envDefault:"12061"`
	UDPBufferSize     int    `env:"HLG_UDP_BUFFER_SIZE"     envDefault:"0"`
	TCPBufferSize     int    `env:"HLG_TCP_BUFFER_SIZE"     envDefault:"0"`
	ReuseAddress      bool   `env:"HLG_REUSE_ADDRESS"       envDefault:"true"`
	RequestsPerMinute int    `env:"HLG_REQUESTS_PER_MINUTE" envDefault:"60"`

	// Screening
	BlacklistFile string `env:"HLG_BLACKLIST_FILE"`

	// Handler protection
	BreakerMaxFailures  int           `env:"HLG_BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"HLG_BREAKER_RESET_TIMEOUT" envDefault:"60s"`

	// Observability
	MetricsPort int    `env:"HLG_METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HLG_HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"HLG_LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"HLG_LOG_FORMAT"   envDefault:"json"`
}

func main() {
	cfg := Config{}
	_ = godotenv.Load() // .env file is optional
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New("hamgw")

	// Blacklist: built-in abuse sets plus an optional YAML file of
	// labeled CIDR sets.
	bl := blacklist.New()
	if cfg.BlacklistFile != "" {
		f, err := os.Open(cfg.BlacklistFile)
		if err != nil {
			return fmt.Errorf("failed to open blacklist file: %w", err)
		}
		err = bl.LoadSets(f)
		f.Close()
		if err != nil {
			return err
		}
		logger.Info("loaded blacklist sets",
			slog.String("file", cfg.BlacklistFile),
			slog.Any("labels", bl.Labels()))
	}

	// Handler: the example logging handler, guarded by a circuit breaker
	// so a persistently failing downstream sheds load instead of piling
	// up dispatch goroutines.
	cb := breaker.New(breaker.Config{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
		OnStateChange: func(from, to breaker.State) {
			logger.Warn("handler circuit breaker state change",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	h := handler.WithBreaker(simple.New(logger), cb)

	rt := router.New(h,
		router.WithLogger(logger),
		router.WithMetrics(m))

	udpSrv, err := udp.New(server.Config{
		Address:           cfg.Address,
		Port:              cfg.UDPPort,
		BufferSize:        cfg.UDPBufferSize,
		ReuseAddress:      cfg.ReuseAddress,
		RequestsPerMinute: cfg.RequestsPerMinute,
	}, rt,
		udp.WithLogger(logger),
		udp.WithBlacklist(bl),
		udp.WithMetrics(m))
	if err != nil {
		return err
	}
	defer udpSrv.Dispose()

	tcpSrv, err := tcp.New(server.Config{
		Address:      cfg.Address,
		Port:         cfg.TCPPort,
		BufferSize:   cfg.TCPBufferSize,
		ReuseAddress: cfg.ReuseAddress,
	}, rt,
		tcp.WithLogger(logger),
		tcp.WithBlacklist(bl),
		tcp.WithMetrics(m))
	if err != nil {
		return err
	}
	defer tcpSrv.Dispose()

	if err := udpSrv.Start(ctx); err != nil {
		return err
	}
	if err := tcpSrv.Start(ctx); err != nil {
		return err
	}

	// Health checks
	checker := health.NewChecker(10 * time.Second)
	checker.Register("udp", health.ListenerCheck("udp", udpSrv.IsRunning))
	checker.Register("tcp", health.ListenerCheck("tcp", tcpSrv.IsRunning))
	checker.Register("goroutines", func(ctx context.Context) error {
		if count := runtime.NumGoroutine(); count > 50000 {
			return fmt.Errorf("too many goroutines: %d", count)
		}
		return nil
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return serveHTTP(gctx, cfg.MetricsPort, promhttp.Handler(), logger, "metrics")
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", checker.HTTPHandler())
		mux.HandleFunc("/health/live", health.LivenessHandler())
		mux.HandleFunc("/health/ready", checker.ReadinessHandler())
		return serveHTTP(gctx, cfg.HealthPort, mux, logger, "health")
	})

	logger.Info("gateway running",
		slog.String("udp", udpSrv.Addr().String()),
		slog.String("tcp", tcpSrv.Addr().String()))

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := udpSrv.Stop(); err != nil {
		logger.Warn("UDP stop", slog.String("error", err.Error()))
	}
	if err := tcpSrv.Stop(); err != nil {
		logger.Warn("TCP stop", slog.String("error", err.Error()))
	}

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// serveHTTP runs an HTTP server shut down when ctx is cancelled.
func serveHTTP(ctx context.Context, port int, h http.Handler, logger *slog.Logger, name string) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info(name+" server started", slog.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "text" {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
