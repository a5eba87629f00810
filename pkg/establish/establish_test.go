package establish

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wtgram/pkg/config"
	"wtgram/pkg/loopback"
	"wtgram/pkg/permission"
	"wtgram/pkg/session"
	"wtgram/pkg/wterr"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Unstable = true
	cfg.TLS.InsecureHosts = []string{"127.0.0.1"}
	return cfg
}

func TestParseTarget(t *testing.T) {
	cases := []struct {
		raw      string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{"https://example.com/path", "example.com", "443", false},
		{"https://example.com:4433", "example.com", "4433", false},
		{"https://127.0.0.1:9000", "127.0.0.1", "9000", false},
		{"https:///nohost", "", "", true},
		{"://bad", "", "", true},
	}
	for _, c := range cases {
		_, host, port, err := parseTarget(c.raw)
		if c.wantErr {
			if !errors.Is(err, wterr.ErrInvalidURL) {
				t.Fatalf("parseTarget(%q) err = %v, want ErrInvalidURL", c.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTarget(%q): %v", c.raw, err)
		}
		if host != c.wantHost || port != c.wantPort {
			t.Fatalf("parseTarget(%q) = %s:%s, want %s:%s", c.raw, host, port, c.wantHost, c.wantPort)
		}
	}
}

func TestBuildTLSConfig(t *testing.T) {
	conf, err := buildTLSConfig(config.TLSConfig{InsecureHosts: []string{"127.0.0.1"}}, "127.0.0.1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !conf.InsecureSkipVerify {
		t.Fatalf("bypass list must disable verification for listed host")
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != "h3" {
		t.Fatalf("ALPN must be fixed to h3, got %v", conf.NextProtos)
	}
	if conf.MinVersion != tls.VersionTLS13 || conf.ServerName != "127.0.0.1" {
		t.Fatalf("unexpected tls config: %+v", conf)
	}

	conf, err = buildTLSConfig(config.TLSConfig{}, "example.com")
	if err != nil {
		t.Fatalf("build with system pool: %v", err)
	}
	if conf.InsecureSkipVerify {
		t.Fatalf("verification must stay on for unlisted hosts")
	}
}

func TestBuildTLSConfigBadRootFile(t *testing.T) {
	dir := t.TempDir()
	notPEM := filepath.Join(dir, "junk.pem")
	if err := os.WriteFile(notPEM, []byte("not a certificate"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := buildTLSConfig(config.TLSConfig{RootCAFiles: []string{notPEM}}, "example.com"); !errors.Is(err, wterr.ErrTLSConfig) {
		t.Fatalf("got %v, want ErrTLSConfig", err)
	}
	if _, err := buildTLSConfig(config.TLSConfig{RootCAFiles: []string{filepath.Join(dir, "missing.pem")}}, "example.com"); !errors.Is(err, wterr.ErrTLSConfig) {
		t.Fatalf("got %v, want ErrTLSConfig", err)
	}
}

func TestEstablishSuccess(t *testing.T) {
	srv, err := loopback.Start("127.0.0.1:0")
	if err != nil {
		t.Fatalf("loopback: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	gate := permission.NewHostGate(nil, nil)
	s, err := Establish(ctx, testConfig(), gate, "WebTransport", srv.URL(), nil, nil)
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	defer s.Abort(context.Background())

	if s.RemoteAddr() == "" {
		t.Fatalf("session has no remote address")
	}
	if err := s.SendDatagram(ctx, []byte("probe")); err != nil {
		t.Fatalf("send on fresh session: %v", err)
	}
}

func TestEstablishCancelledPromptly(t *testing.T) {
	// A UDP socket that never answers: the handshake hangs until the scope
	// fires, well before the 30s idle timeout.
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen packet: %v", err)
	}
	defer pc.Close()

	scope := session.NewCancelScope()
	go func() {
		time.Sleep(100 * time.Millisecond)
		scope.Cancel()
	}()

	start := time.Now()
	gate := permission.NewHostGate(nil, nil)
	_, err = Establish(context.Background(), testConfig(), gate, "WebTransport", "https://"+pc.LocalAddr().String(), nil, scope)
	if !errors.Is(err, wterr.ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation took %v, want prompt failure", elapsed)
	}
}

func TestEstablishInvalidURL(t *testing.T) {
	gate := permission.NewHostGate(nil, nil)
	_, err := Establish(context.Background(), testConfig(), gate, "WebTransport", "https:///nohost", nil, nil)
	if !errors.Is(err, wterr.ErrInvalidURL) {
		t.Fatalf("got %v, want ErrInvalidURL", err)
	}
}

func TestEstablishUnauthorizedPanics(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic on unauthorized establish")
		}
		if !strings.Contains(r.(string), "permission check") {
			t.Fatalf("unexpected panic payload: %v", r)
		}
	}()
	gate := permission.NewHostGate(nil, []string{"example.com"})
	_, _ = Establish(context.Background(), testConfig(), gate, "WebTransport", "https://example.com", nil, nil)
}
