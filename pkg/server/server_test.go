// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	gerrors "github.com/KC3PIB/HamLoggerGateway/pkg/errors"
)

type fakeSocket struct {
	closes int32
}

func (f *fakeSocket) Close() error {
	atomic.AddInt32(&f.closes, 1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func blockingLoop(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestConfig_Validate(t *testing.T) {
	valid := []Config{
		{Address: "0.0.0.0", Port: 1},
		{Address: "127.0.0.1", Port: 12060},
		{Address: "::", Port: 65535},
	}
	for _, cfg := range valid {
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate(%+v) = %v, expected nil", cfg, err)
		}
	}

	invalid := []Config{
		{Address: "", Port: 12060},
		{Address: "not-an-ip", Port: 12060},
		{Address: "999.1.1.1", Port: 12060},
		{Address: "127.0.0.1", Port: 0},
		{Address: "127.0.0.1", Port: -1},
		{Address: "127.0.0.1", Port: 65536},
	}
	for _, cfg := range invalid {
		err := cfg.Validate()
		if err == nil {
			t.Errorf("Validate(%+v) = nil, expected error", cfg)
			continue
		}
		if !errors.Is(err, gerrors.ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, expected ErrInvalidConfig", cfg, err)
		}
	}
}

func TestConfig_Addr(t *testing.T) {
	cfg := Config{Address: "127.0.0.1", Port: 12060}
	if got := cfg.Addr(); got != "127.0.0.1:12060" {
		t.Errorf("Addr() = %q", got)
	}
	cfg = Config{Address: "::1", Port: 12060}
	if got := cfg.Addr(); got != "[::1]:12060" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestLifecycle_StartStop(t *testing.T) {
	l := NewLifecycle(blockingLoop, &fakeSocket{}, testLogger())

	if l.IsRunning() {
		t.Fatal("new lifecycle must not be running")
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !l.IsRunning() {
		t.Error("expected IsRunning true after Start")
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.IsRunning() {
		t.Error("expected IsRunning false after Stop")
	}
}

func TestLifecycle_DoubleStart(t *testing.T) {
	l := NewLifecycle(blockingLoop, &fakeSocket{}, testLogger())

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Dispose()

	err := l.Start(context.Background())
	if !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("second Start = %v, expected ErrInvalidState", err)
	}
}

func TestLifecycle_StopWhenStopped(t *testing.T) {
	l := NewLifecycle(blockingLoop, &fakeSocket{}, testLogger())

	err := l.Stop()
	if !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("Stop while stopped = %v, expected ErrInvalidState", err)
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	err = l.Stop()
	if !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("Stop after Stop = %v, expected ErrInvalidState", err)
	}
}

func TestLifecycle_RestartAfterStop(t *testing.T) {
	l := NewLifecycle(blockingLoop, &fakeSocket{}, testLogger())

	for i := 0; i < 3; i++ {
		if err := l.Start(context.Background()); err != nil {
			t.Fatalf("Start cycle %d: %v", i, err)
		}
		if err := l.Stop(); err != nil {
			t.Fatalf("Stop cycle %d: %v", i, err)
		}
	}
}

func TestLifecycle_DisposeIdempotent(t *testing.T) {
	sock := &fakeSocket{}
	l := NewLifecycle(blockingLoop, sock, testLogger())

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l.Dispose()
	l.Dispose()
	l.Dispose()

	if got := atomic.LoadInt32(&sock.closes); got != 1 {
		t.Errorf("socket closed %d times, expected exactly once", got)
	}
	if l.State() != StateDisposed {
		t.Errorf("state = %v, expected disposed", l.State())
	}
}

func TestLifecycle_StartAfterDispose(t *testing.T) {
	l := NewLifecycle(blockingLoop, &fakeSocket{}, testLogger())
	l.Dispose()

	err := l.Start(context.Background())
	if !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("Start after Dispose = %v, expected ErrInvalidState", err)
	}
}

func TestLifecycle_StopToleratesSlowLoop(t *testing.T) {
	// A loop that ignores cancellation: Stop must still return after its
	// bounded wait instead of hanging.
	slowLoop := func(ctx context.Context) error {
		time.Sleep(5 * time.Second)
		return nil
	}
	l := NewLifecycle(slowLoop, &fakeSocket{}, testLogger())

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took %v, expected bounded wait", elapsed)
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateStopped:  "stopped",
		StateRunning:  "running",
		StateDisposed: "disposed",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
