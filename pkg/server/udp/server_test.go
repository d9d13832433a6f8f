// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KC3PIB/HamLoggerGateway/pkg/blacklist"
	gerrors "github.com/KC3PIB/HamLoggerGateway/pkg/errors"
	"github.com/KC3PIB/HamLoggerGateway/pkg/handler"
	"github.com/KC3PIB/HamLoggerGateway/pkg/messages"
	"github.com/KC3PIB/HamLoggerGateway/pkg/router"
	"github.com/KC3PIB/HamLoggerGateway/pkg/server"
)

type countingHandler struct {
	handler.NoopHandler
	appInfo     int64
	contactInfo int64
	lastApp     atomic.Value // *messages.AppInfo
	lastSender  atomic.Value // handler.Endpoint
}

func (h *countingHandler) HandleAppInfo(ctx context.Context, msg *messages.AppInfo, sender handler.Endpoint) error {
	h.lastApp.Store(msg)
	h.lastSender.Store(sender)
	atomic.AddInt64(&h.appInfo, 1)
	return nil
}

func (h *countingHandler) HandleContactInfo(ctx context.Context, msg *messages.ContactInfo, sender handler.Endpoint) error {
	atomic.AddInt64(&h.contactInfo, 1)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// freePort grabs an ephemeral UDP port and releases it for the server to
// bind. Configs require an explicit port, so tests cannot pass 0 directly.
func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return port
}

func waitForCount(t *testing.T, counter *int64, want int64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(counter) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected count %d, got %d after %v", want, atomic.LoadInt64(counter), timeout)
}

func newTestServer(t *testing.T, cfg server.Config, h handler.Handler, opts ...Option) *Server {
	t.Helper()
	r := router.New(h, router.WithLogger(testLogger()))
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	s, err := New(cfg, r, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Dispose)
	return s
}

func send(t *testing.T, addr net.Addr, payload []byte) {
	t.Helper()
	conn, err := net.Dial("udp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	r := router.New(&countingHandler{}, router.WithLogger(testLogger()))

	cases := []server.Config{
		{Address: "not-an-ip", Port: 12060},
		{Address: "127.0.0.1", Port: 0},
		{Address: "127.0.0.1", Port: 70000},
	}
	for _, cfg := range cases {
		s, err := New(cfg, r)
		if err == nil {
			s.Dispose()
			t.Errorf("New(%+v) succeeded, expected config error", cfg)
			continue
		}
		if !errors.Is(err, gerrors.ErrInvalidConfig) {
			t.Errorf("New(%+v) = %v, expected ErrInvalidConfig", cfg, err)
		}
	}
}

func TestNew_BindsImmediately(t *testing.T) {
	h := &countingHandler{}
	port := freePort(t)
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: port}, h)

	// The socket must be bound before Start.
	if s.Addr().(*net.UDPAddr).Port != port {
		t.Errorf("expected bound port %d, got %v", port, s.Addr())
	}
	if s.IsRunning() {
		t.Error("server must not be running before Start")
	}
}

func TestServer_ValidDatagramReachesHandlerOnce(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	send(t, s.Addr(), []byte(`<appinfo><app>N1MM</app><contestname>CQWW</contestname><StationName>STN1</StationName></appinfo>`))

	waitForCount(t, &h.appInfo, 1, 2*time.Second)

	msg := h.lastApp.Load().(*messages.AppInfo)
	if msg.App != "N1MM" || msg.Contest != "CQWW" {
		t.Errorf("decoded fields wrong: %+v", msg)
	}
	sender := h.lastSender.Load().(handler.Endpoint)
	if !sender.IP.IsLoopback() {
		t.Errorf("expected loopback sender endpoint, got %v", sender)
	}

	// Exactly once.
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt64(&h.appInfo); got != 1 {
		t.Errorf("expected exactly one dispatch, got %d", got)
	}
}

func TestServer_RateLimitDropsExcess(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{
		Address:           "127.0.0.1",
		Port:              freePort(t),
		RequestsPerMinute: 60,
	}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("udp", s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	payload := []byte(`<appinfo><app>N1MM</app></appinfo>`)
	for i := 0; i < 61; i++ {
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		if i%10 == 9 {
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitForCount(t, &h.appInfo, 60, 3*time.Second)
	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt64(&h.appInfo); got != 60 {
		t.Errorf("expected first 60 dispatched and the 61st dropped, got %d", got)
	}
}

func TestServer_BlacklistedSourceDropped(t *testing.T) {
	bl := blacklist.Empty()
	if err := bl.Add("test", []string{"127.0.0.0/8"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h,
		WithBlacklist(bl))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	send(t, s.Addr(), []byte(`<appinfo><app>N1MM</app></appinfo>`))

	time.Sleep(200 * time.Millisecond)
	if got := atomic.LoadInt64(&h.appInfo); got != 0 {
		t.Errorf("blacklisted datagram reached the handler %d times", got)
	}
}

func TestServer_MalformedDatagramDoesNotStopLoop(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	send(t, s.Addr(), []byte("garbage that is not xml"))
	send(t, s.Addr(), []byte(`<nosuchtag/>`))
	send(t, s.Addr(), []byte(`<contactinfo><call></call></contactinfo>`))
	send(t, s.Addr(), []byte(`<contactinfo><call>W1AW</call></contactinfo>`))

	// The loop must survive the bad input and deliver the good message.
	waitForCount(t, &h.contactInfo, 1, 2*time.Second)
	if got := atomic.LoadInt64(&h.appInfo); got != 0 {
		t.Errorf("unexpected appinfo dispatches: %d", got)
	}
}

func TestServer_OversizeDatagramDropped(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{
		Address:    "127.0.0.1",
		Port:       freePort(t),
		BufferSize: 64,
	}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	big := []byte(`<appinfo><app>N1MM</app><dbname>a-very-long-database-name-that-overflows</dbname><contestname>CQWW</contestname></appinfo>`)
	if len(big) <= 64 {
		t.Fatal("test payload must exceed the buffer size")
	}
	send(t, s.Addr(), big)
	send(t, s.Addr(), []byte(`<appinfo><app>ok</app></appinfo>`))

	waitForCount(t, &h.appInfo, 1, 2*time.Second)
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt64(&h.appInfo); got != 1 {
		t.Errorf("expected only the in-budget datagram dispatched, got %d", got)
	}
}

func TestServer_LifecycleMisuse(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h)

	if err := s.Stop(); !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("Stop before Start = %v, expected ErrInvalidState", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, gerrors.ErrInvalidState) {
		t.Errorf("double Start = %v, expected ErrInvalidState", err)
	}
	if !s.IsRunning() {
		t.Error("expected IsRunning after Start")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.IsRunning() {
		t.Error("expected not running after Stop")
	}

	s.Dispose()
	s.Dispose() // idempotent
}

func TestServer_StopUnblocksReceive(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// No traffic: the loop is blocked in ReadFromUDP. Stop must still
	// complete within its bounded wait.
	start := time.Now()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*server.StopTimeout {
		t.Errorf("Stop took %v", elapsed)
	}
}

func TestServer_RestartDeliversAgain(t *testing.T) {
	h := &countingHandler{}
	s := newTestServer(t, server.Config{Address: "127.0.0.1", Port: freePort(t)}, h)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	send(t, s.Addr(), []byte(`<appinfo><app>N1MM</app></appinfo>`))
	waitForCount(t, &h.appInfo, 1, 2*time.Second)

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	defer s.Stop()

	send(t, s.Addr(), []byte(`<appinfo><app>N1MM</app></appinfo>`))
	waitForCount(t, &h.appInfo, 2, 2*time.Second)
}
