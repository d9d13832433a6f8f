// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KC3PIB/HamLoggerGateway/pkg/blacklist"
	"github.com/KC3PIB/HamLoggerGateway/pkg/buffer"
	gerrors "github.com/KC3PIB/HamLoggerGateway/pkg/errors"
	"github.com/KC3PIB/HamLoggerGateway/pkg/handler"
	"github.com/KC3PIB/HamLoggerGateway/pkg/metrics"
	"github.com/KC3PIB/HamLoggerGateway/pkg/ratelimit"
	"github.com/KC3PIB/HamLoggerGateway/pkg/router"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server"
)

// DefaultBufferSize is the default datagram buffer size, framed around a
// typical datagram MTU.
const DefaultBufferSize = 2048

// Server is the UDP listener: one receive loop bound to one socket,
// gating each datagram through the blacklist and rate limiter before
// handing it to the message router.
type Server struct {
	cfg       server.Config
	conn      *net.UDPConn
	lifecycle *server.Lifecycle
	router    *router.Router
	blacklist *blacklist.Blacklist
	limiter   *ratelimit.Limiter
	pool      *buffer.Pool
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// Option configures the UDP server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBlacklist sets the blacklist consulted for every datagram.
func WithBlacklist(b *blacklist.Blacklist) Option {
	return func(s *Server) { s.blacklist = b }
}

// WithRateLimiter sets the per-source rate limiter. When not supplied and
// Config.RequestsPerMinute is positive, a limiter is created internally.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New validates the configuration and binds the UDP socket immediately, so
// misconfiguration fails here rather than at Start.
func New(cfg server.Config, r *router.Router, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	lc := cfg.ListenConfig()
	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.Addr())
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to bind UDP socket")
	}
	conn := pc.(*net.UDPConn)

	s := &Server{
		cfg:    cfg,
		conn:   conn,
		router: r,
		pool:   buffer.New(cfg.BufferSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil && cfg.RequestsPerMinute > 0 {
		s.limiter = ratelimit.New(cfg.RequestsPerMinute)
	}

	s.lifecycle = server.NewLifecycle(s.receiveLoop, conn, s.logger)
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Start transitions the server to Running and launches the receive loop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("UDP server started",
		slog.String("address", s.Addr().String()),
		slog.Int("buffer_size", s.cfg.BufferSize),
		slog.Int("requests_per_minute", s.cfg.RequestsPerMinute))
	return nil
}

// Stop signals cancellation and waits briefly for the loop to exit.
func (s *Server) Stop() error {
	return s.lifecycle.Stop()
}

// Dispose releases the socket. Idempotent and terminal.
func (s *Server) Dispose() {
	s.lifecycle.Dispose()
}

// IsRunning reports whether the receive loop is active.
func (s *Server) IsRunning() bool {
	return s.lifecycle.IsRunning()
}

// receiveLoop is the protocol strategy handed to the lifecycle. It rents a
// buffer per datagram, applies protective gating, and hands accepted
// payloads to the router on detached goroutines so a slow handler never
// stalls the next receive.
func (s *Server) receiveLoop(ctx context.Context) error {
	// A pending ReadFromUDP does not observe ctx; an immediate deadline
	// set on cancellation unblocks it.
	s.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	for {
		lease := s.pool.Get(s.pool.Size())

		n, addr, err := s.conn.ReadFromUDP(lease.Bytes())
		if err != nil {
			lease.Release()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to read datagram", slog.String("error", err.Error()))
			continue
		}

		if s.metrics != nil {
			s.metrics.DatagramsReceived.WithLabelValues("udp").Inc()
		}

		endpoint, ok := handler.EndpointFromAddr(addr)
		if !ok {
			s.logger.Warn("datagram without sender address dropped")
			lease.Release()
			continue
		}

		if s.blacklist != nil {
			if bad, label := s.blacklist.IsBlacklisted(endpoint.IP); bad {
				s.logger.Warn("datagram from blacklisted source dropped",
					slog.String("sender", endpoint.String()),
					slog.String("list", label))
				if s.metrics != nil {
					s.metrics.Blacklisted.WithLabelValues("udp", label).Inc()
				}
				lease.Release()
				continue
			}
		}

		if s.limiter != nil && !s.limiter.Allow(endpoint.IP.String()) {
			s.logger.Warn("datagram from rate-limited source dropped",
				slog.String("sender", endpoint.String()))
			if s.metrics != nil {
				s.metrics.RateLimited.WithLabelValues("udp").Inc()
			}
			lease.Release()
			continue
		}

		if n == 0 {
			s.logger.Warn("empty datagram dropped", slog.String("sender", endpoint.String()))
			lease.Release()
			continue
		}

		if n >= s.pool.Size() {
			// The kernel truncates oversize datagrams to the buffer; a
			// full buffer means the payload may not be intact.
			s.logger.Warn("datagram exceeding buffer size dropped",
				slog.String("sender", endpoint.String()),
				slog.Int("bytes", n))
			lease.Release()
			continue
		}

		if s.metrics != nil {
			s.metrics.BytesReceived.WithLabelValues("udp").Add(float64(n))
		}

		// Copy only the received range into a right-sized lease and free
		// the oversized receive buffer before processing.
		msgLease := s.pool.Get(n)
		copy(msgLease.Bytes(), lease.Bytes()[:n])
		lease.Release()

		msgID := uuid.New().String()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer msgLease.Release()
			if err := s.router.Route(ctx, msgLease.Bytes(), endpoint); err != nil {
				s.logger.Debug("message dropped",
					slog.String("message_id", msgID),
					slog.String("sender", endpoint.String()),
					slog.String("error", err.Error()))
			}
		}()
	}
}
