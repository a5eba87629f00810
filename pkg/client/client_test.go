package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"wtgram/pkg/config"
	"wtgram/pkg/loopback"
	"wtgram/pkg/registry"
	"wtgram/pkg/session"
	"wtgram/pkg/wterr"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Unstable = true
	cfg.TLS.InsecureHosts = []string{"127.0.0.1"}
	return cfg
}

func startServer(t *testing.T) *loopback.Server {
	t.Helper()
	srv, err := loopback.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("loopback: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func TestCheckPermissionDeniedAllocatesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Permission.DenyHosts = []string{"blocked.example.com"}
	c := New(cfg, nil)

	h, ok, err := c.CheckPermissionAndCancelHandle("https://blocked.example.com", "WebTransport", true)
	if !errors.Is(err, wterr.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	if h != 0 || ok {
		t.Fatalf("denied check must not allocate a handle, got %d", h)
	}
	if c.Table().Len() != 0 {
		t.Fatalf("table not empty after denied check")
	}
}

func TestCreateDeniedAllocatesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Permission.AllowHosts = []string{"allowed.example.com"}
	c := New(cfg, nil)

	_, err := c.Create(context.Background(), "WebTransport", "https://blocked.example.com", nil, 0)
	if !errors.Is(err, wterr.ErrPermissionDenied) {
		t.Fatalf("got %v, want ErrPermissionDenied", err)
	}
	if c.Table().Len() != 0 {
		t.Fatalf("table not empty after denied create")
	}
}

func TestCheckPermissionCancelHandle(t *testing.T) {
	c := New(testConfig(), nil)

	h, ok, err := c.CheckPermissionAndCancelHandle("https://example.com", "WebTransport", true)
	if err != nil || !ok || h == 0 {
		t.Fatalf("check: %d %v %v", h, ok, err)
	}
	if err := c.Cancel(h); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CloseHandle(h); err != nil {
		t.Fatalf("close: %v", err)
	}

	h, ok, err = c.CheckPermissionAndCancelHandle("https://example.com", "WebTransport", false)
	if err != nil || ok || h != 0 {
		t.Fatalf("check without handle: %d %v %v", h, ok, err)
	}
}

func TestTwoPhaseCreateAndRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := New(testConfig(), nil)

	cancelH, ok, err := c.CheckPermissionAndCancelHandle(srv.URL(), "WebTransport", true)
	if err != nil || !ok {
		t.Fatalf("check: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h, err := c.Create(ctx, "WebTransport", srv.URL(), nil, cancelH)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if h == 0 || h == cancelH {
		t.Fatalf("bad session handle %d", h)
	}

	payload := []byte("round trip")
	if err := c.Send(ctx, h, payload); err != nil {
		t.Fatalf("send: %v", err)
	}
	ev, err := c.NextEvent(ctx, h)
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	if ev.Kind != session.EventBinary || !bytes.Equal(ev.Data, payload) {
		t.Fatalf("got %q/%q, want binary %q", ev.Kind, ev.Data, payload)
	}

	if err := c.Abort(ctx, h); err != nil {
		t.Fatalf("abort: %v", err)
	}
	// Abort leaves the handle registered; disposal is separate.
	if _, err := c.Table().Get(h); err != nil {
		t.Fatalf("handle gone after abort: %v", err)
	}
	if err := c.CloseHandle(h); err != nil {
		t.Fatalf("close session handle: %v", err)
	}
	if err := c.CloseHandle(cancelH); err != nil {
		t.Fatalf("close cancel handle: %v", err)
	}
	if c.Table().Len() != 0 {
		t.Fatalf("table not empty after disposal")
	}
}

func TestCancelBeforeCreateCompletes(t *testing.T) {
	// A UDP socket that never answers keeps the handshake pending.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	defer pc.Close()
	target := "https://" + pc.LocalAddr().String()

	c := New(testConfig(), nil)
	cancelH, _, err := c.CheckPermissionAndCancelHandle(target, "WebTransport", true)
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = c.Cancel(cancelH)
	}()

	_, err = c.Create(context.Background(), "WebTransport", target, nil, cancelH)
	if !errors.Is(err, wterr.ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	// Only the scope remains; no session was registered.
	if c.Table().Len() != 1 {
		t.Fatalf("table has %d entries, want only the scope", c.Table().Len())
	}
}

func TestUnknownHandles(t *testing.T) {
	c := New(testConfig(), nil)
	ctx := context.Background()
	missing := registry.Handle(424242)

	if err := c.Send(ctx, missing, []byte("x")); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("send: %v", err)
	}
	if _, err := c.NextEvent(ctx, missing); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("next event: %v", err)
	}
	if err := c.Abort(ctx, missing); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("abort: %v", err)
	}
	if err := c.Cancel(missing); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.CloseHandle(missing); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("close: %v", err)
	}
}

func TestWrongHandleKind(t *testing.T) {
	c := New(testConfig(), nil)
	h, _, err := c.CheckPermissionAndCancelHandle("https://example.com", "WebTransport", true)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	// A cancel-scope handle is not a session handle.
	if err := c.Send(context.Background(), h, []byte("x")); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("send on scope handle: %v", err)
	}
	// And a create with a bogus scope handle fails before dialing.
	if _, err := c.Create(context.Background(), "WebTransport", "https://example.com", nil, registry.Handle(999)); !errors.Is(err, wterr.ErrUnknownResource) {
		t.Fatalf("create with bogus scope: %v", err)
	}
}
