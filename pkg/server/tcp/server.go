// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"io"
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
	"github.com/KC3PIB/HamLoggerGateway/pkg/router"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server"
)

// DefaultBufferSize is the default per-connection read buffer size.
const DefaultBufferSize = 16384

// Server is the TCP listener: one accept loop bound to one socket, one
// handler goroutine per accepted connection. Each connection performs a
// single-shot, unframed read bounded by the configured buffer size; the
// bytes read are handed to the message router.
type Server struct {
	cfg       server.Config
	listener  *net.TCPListener
	lifecycle *server.Lifecycle
	router    *router.Router
	blacklist *blacklist.Blacklist
	pool      *buffer.Pool
	metrics   *metrics.Metrics
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// Option configures the TCP server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithBlacklist sets the blacklist consulted for every connection.
func WithBlacklist(b *blacklist.Blacklist) Option {
	return func(s *Server) { s.blacklist = b }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New validates the configuration and binds the listening socket
// immediately, so misconfiguration fails here rather than at Start.
func New(cfg server.Config, r *router.Router, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	lc := cfg.ListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", cfg.Addr())
	if err != nil {
		return nil, gerrors.Wrap(err, "failed to bind TCP socket")
	}

	s := &Server{
		cfg:      cfg,
		listener: ln.(*net.TCPListener),
		router:   r,
		pool:     buffer.New(cfg.BufferSize),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.lifecycle = server.NewLifecycle(s.acceptLoop, s.listener, s.logger)
	return s, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start transitions the server to Running and launches the accept loop.
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.Start(ctx); err != nil {
		return err
	}
	s.logger.Info("TCP server started",
		slog.String("address", s.Addr().String()),
		slog.Int("buffer_size", s.cfg.BufferSize))
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

// IsRunning reports whether the accept loop is active.
func (s *Server) IsRunning() bool {
	return s.lifecycle.IsRunning()
}

// acceptLoop is the protocol strategy handed to the lifecycle.
func (s *Server) acceptLoop(ctx context.Context) error {
	// A pending Accept does not observe ctx; an immediate deadline set on
	// cancellation unblocks it.
	s.listener.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		s.listener.SetDeadline(time.Now())
	})
	defer stop()

	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				// Disposed socket while still running; keep trying
				// cautiously in case a new bind replaces it.
				s.logger.Error("accept on closed listener", slog.String("error", err.Error()))
				time.Sleep(100 * time.Millisecond)
				continue
			}
			s.logger.Error("failed to accept connection", slog.String("error", err.Error()))
			continue
		}

		if s.metrics != nil {
			s.metrics.DatagramsReceived.WithLabelValues("tcp").Inc()
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// handleConn performs the per-connection gating and single-shot read.
// Connection resources are released on every exit path.
func (s *Server) handleConn(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()

	if s.metrics != nil {
		s.metrics.ActiveConnections.WithLabelValues("tcp").Inc()
		defer s.metrics.ActiveConnections.WithLabelValues("tcp").Dec()
	}

	connID := uuid.New().String()

	endpoint, ok := handler.EndpointFromAddr(conn.RemoteAddr())
	if !ok {
		s.logger.Warn("connection without resolvable remote endpoint closed",
			slog.String("connection", connID))
		return
	}

	if s.blacklist != nil {
		if bad, label := s.blacklist.IsBlacklisted(endpoint.IP); bad {
			s.logger.Warn("connection from blacklisted source closed",
				slog.String("connection", connID),
				slog.String("sender", endpoint.String()),
				slog.String("list", label))
			if s.metrics != nil {
				s.metrics.Blacklisted.WithLabelValues("tcp", label).Inc()
			}
			return
		}
	}

	// Unblock a pending read if the server stops while the sender stalls.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	lease := s.pool.Get(s.pool.Size())
	defer lease.Release()
	buf := lease.Bytes()

	// Single-shot unframed read: keep reading until the stream ends or
	// the buffer is full. One logical message per connection.
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("connection read error",
					slog.String("connection", connID),
					slog.String("sender", endpoint.String()),
					slog.String("error", err.Error()))
			}
			break
		}
	}

	if total == len(buf) {
		// A message larger than the buffer truncates silently; forward
		// what was read.
		s.logger.Warn("message truncated at buffer size",
			slog.String("connection", connID),
			slog.String("sender", endpoint.String()),
			slog.Int("buffer_size", len(buf)))
		if s.metrics != nil {
			s.metrics.TruncatedReads.Inc()
		}
	}

	if total == 0 {
		s.logger.Debug("connection yielded no data",
			slog.String("connection", connID),
			slog.String("sender", endpoint.String()))
		return
	}

	if s.metrics != nil {
		s.metrics.BytesReceived.WithLabelValues("tcp").Add(float64(total))
	}

	// Right-size copy, then process detached from the connection handler.
	msgLease := s.pool.Get(total)
	copy(msgLease.Bytes(), buf[:total])

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer msgLease.Release()
		if err := s.router.Route(ctx, msgLease.Bytes(), endpoint); err != nil {
			s.logger.Debug("message dropped",
				slog.String("connection", connID),
				slog.String("sender", endpoint.String()),
				slog.String("error", err.Error()))
		}
	}()
}
