// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package server provides the shared lifecycle state machine and bind
// configuration for the protocol listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	gerrors "github.com/KC3PIB/HamLoggerGateway/pkg/errors"
)

// StopTimeout is how long Stop waits for the receive loop to observe
// cancellation before declaring the server stopped.
const StopTimeout = time.Second

// Config holds the bind configuration shared by both listeners.
// It is immutable after server construction.
type Config struct {
	// Address is the bind IP address (e.g. "0.0.0.0", "::").
	Address string

	// Port is the bind port, 1-65535.
	Port int

	// BufferSize is the receive buffer size in bytes. Zero selects the
	// protocol-specific default.
	BufferSize int

	// ReuseAddress sets SO_REUSEADDR on the bound socket.
	ReuseAddress bool

	// RequestsPerMinute is the per-source rate limit. Only consulted by
	// the UDP listener; zero disables rate limiting.
	RequestsPerMinute int
}

// Validate checks the bind address and port. Listeners call this before
// binding so misconfiguration fails at construction, never at Start.
func (c Config) Validate() error {
	if net.ParseIP(c.Address) == nil {
		return fmt.Errorf("%w: invalid bind address %q", gerrors.ErrInvalidConfig, c.Address)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", gerrors.ErrInvalidConfig, c.Port)
	}
	return nil
}

// Addr returns the bind address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// ListenConfig returns a net.ListenConfig honoring the address-reuse flag.
func (c Config) ListenConfig() net.ListenConfig {
	lc := net.ListenConfig{}
	if c.ReuseAddress {
		lc.Control = func(network, address string, conn syscall.RawConn) error {
			var sockErr error
			err := conn.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}
	return lc
}

// State is the lifecycle state of a server instance.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ReceiveLoop is the protocol-specific strategy run while the server is
// Running. It must exit promptly once its context is cancelled; a
// cancellation-induced error return is expected and suppressed by Stop.
type ReceiveLoop func(ctx context.Context) error

// Lifecycle owns the start/stop/dispose state machine shared by the TCP and
// UDP listeners. The protocol-specific behavior is supplied as a
// ReceiveLoop; the bound socket is supplied as a closer released exactly
// once by Dispose.
type Lifecycle struct {
	mu     sync.Mutex
	state  State
	loop   ReceiveLoop
	socket io.Closer
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

// NewLifecycle creates a lifecycle in the Stopped state around an
// already-bound socket.
func NewLifecycle(loop ReceiveLoop, socket io.Closer, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		state:  StateStopped,
		loop:   loop,
		socket: socket,
		logger: logger,
	}
}

// Start transitions Stopped->Running and launches the receive loop bound to
// a cancellation context derived from ctx. Starting a server that is
// already Running or Disposed fails with ErrInvalidState.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateStopped {
		return fmt.Errorf("%w: cannot start while %s", gerrors.ErrInvalidState, l.state)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- l.loop(loopCtx)
	}()

	l.cancel = cancel
	l.done = done
	l.state = StateRunning
	return nil
}

// Stop transitions Running->Stopped. It signals cancellation, waits up to
// StopTimeout for the loop to observe it, and treats a cancellation-induced
// loop error as expected. Stopping a server that is not Running fails with
// ErrInvalidState.
func (l *Lifecycle) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateRunning {
		return fmt.Errorf("%w: cannot stop while %s", gerrors.ErrInvalidState, l.state)
	}

	l.cancel()

	select {
	case err := <-l.done:
		if err != nil && !isExpectedLoopError(err) {
			l.logger.Warn("receive loop exited with error", slog.String("error", err.Error()))
		}
	case <-time.After(StopTimeout):
		l.logger.Warn("receive loop did not exit within stop timeout")
	}

	l.cancel = nil
	l.done = nil
	l.state = StateStopped
	return nil
}

// Dispose is idempotent and terminal: it cancels any running loop and
// releases the bound socket exactly once. Repeated calls are no-ops.
func (l *Lifecycle) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDisposed {
		return
	}

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.socket != nil {
		if err := l.socket.Close(); err != nil {
			l.logger.Debug("error closing socket", slog.String("error", err.Error()))
		}
		l.socket = nil
	}
	l.state = StateDisposed
}

// IsRunning reports whether the server is in the Running state.
func (l *Lifecycle) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateRunning
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// isExpectedLoopError reports whether a loop exit error is a normal
// consequence of cancellation or socket teardown.
func isExpectedLoopError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
