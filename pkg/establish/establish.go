// Package establish turns a URL into a live datagram session: permission
// assertion, target parsing, TLS client configuration, address resolution,
// QUIC handshake, and the eager open of one bidirectional stream. Every
// suspension point honours the caller's cancellation scope.
package establish

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"wtgram/pkg/config"
	"wtgram/pkg/permission"
	"wtgram/pkg/session"
	"wtgram/pkg/wterr"
)

// Non-negotiable transport policy. Fixed rather than caller-configurable to
// bound idle-resource lifetime.
const (
	alpnProtocol    = "h3"
	maxIdleTimeout  = 30 * time.Second
	keepAlivePeriod = 1 * time.Second
	defaultPort     = "443"
)

// Fingerprint is a structured certificate fingerprint (algorithm + hash).
// Entries are accepted and carried but not validated here; pinning is
// deferred to the TLS layer.
type Fingerprint struct {
	Algorithm string `json:"algorithm" mapstructure:"algorithm"`
	Value     string `json:"fingerprint" mapstructure:"fingerprint"`
}

// Establish dials rawURL and returns the session wrapping the established
// connection and its opened stream. scope may be nil; when present it is
// raced against every await so a cancelled scope fails the attempt promptly
// instead of completing a useless connection. No step retries; a failed
// attempt must be re-invoked as a fresh call.
func Establish(ctx context.Context, cfg *config.Config, gate permission.Gate, apiName, rawURL string, fingerprints []Fingerprint, scope *session.CancelScope) (*session.Session, error) {
	u, host, port, err := parseTarget(rawURL)
	if err != nil {
		return nil, err
	}

	// The synchronous permission check gates entry to this path; failing
	// here means a caller skipped it, which is a bug, not a user error.
	if err := gate.CheckNetURL(u, apiName); err != nil {
		panic(fmt.Sprintf("permission check should have been done before establish: %v", err))
	}

	if len(fingerprints) > 0 {
		// Accepted as input; enforcement is deferred entirely to the TLS
		// collaborator.
		zap.L().Debug("certificate fingerprints accepted, not validated", zap.Int("count", len(fingerprints)))
	}

	tlsConf, err := buildTLSConfig(cfg.TLS, host)
	if err != nil {
		return nil, err
	}

	dctx := ctx
	stop := func() {}
	if scope != nil {
		dctx, stop = scope.Bind(ctx)
	}
	defer stop()

	addr, err := resolve(dctx, host, port)
	if err != nil {
		if cancelled(scope) {
			return nil, fmt.Errorf("establish %q: %w", rawURL, wterr.ErrCancelled)
		}
		return nil, fmt.Errorf("resolve %q: %v: %w", host, err, wterr.ErrAddressResolution)
	}

	conn, err := quic.DialAddr(dctx, addr, tlsConf, &quic.Config{
		MaxIdleTimeout:  maxIdleTimeout,
		KeepAlivePeriod: keepAlivePeriod,
		EnableDatagrams: true,
	})
	if err != nil {
		if cancelled(scope) {
			return nil, fmt.Errorf("establish %q: %w", rawURL, wterr.ErrCancelled)
		}
		return nil, fmt.Errorf("dial %s: %v: %w", addr, err, wterr.ErrHandshake)
	}

	stream, err := conn.OpenStreamSync(dctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		if cancelled(scope) {
			return nil, fmt.Errorf("establish %q: %w", rawURL, wterr.ErrCancelled)
		}
		return nil, fmt.Errorf("open stream to %s: %v: %w", addr, err, wterr.ErrStreamOpen)
	}

	zap.L().Info("session established",
		zap.String("url", rawURL),
		zap.String("addr", addr),
		zap.String("user_agent", cfg.UserAgent))
	return session.New(conn, stream), nil
}

func cancelled(scope *session.CancelScope) bool {
	return scope != nil && scope.Cancelled()
}

// parseTarget extracts host and port from rawURL, defaulting the port for
// the scheme when absent.
func parseTarget(rawURL string) (*url.URL, string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", "", fmt.Errorf("parse %q: %v: %w", rawURL, err, wterr.ErrInvalidURL)
	}
	host := u.Hostname()
	if host == "" {
		return nil, "", "", fmt.Errorf("url %q has no host: %w", rawURL, wterr.ErrInvalidURL)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return u, host, port, nil
}

// buildTLSConfig assembles the secure-transport client configuration:
// configured trust anchors (system pool when none), the explicitly insecure
// bypass for listed hosts, and the fixed application protocol.
func buildTLSConfig(c config.TLSConfig, host string) (*tls.Config, error) {
	var pool *x509.CertPool
	if len(c.RootCAFiles) == 0 {
		sys, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("system cert pool: %v: %w", err, wterr.ErrTLSConfig)
		}
		pool = sys
	} else {
		pool = x509.NewCertPool()
		for _, f := range c.RootCAFiles {
			pem, err := os.ReadFile(f)
			if err != nil {
				return nil, fmt.Errorf("root ca %q: %v: %w", f, err, wterr.ErrTLSConfig)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("root ca %q: no certificates found: %w", f, wterr.ErrTLSConfig)
			}
		}
	}

	insecure := false
	for _, h := range c.InsecureHosts {
		if strings.EqualFold(strings.TrimSpace(h), host) {
			insecure = true
			break
		}
	}
	if insecure {
		zap.L().Warn("certificate errors ignored for host", zap.String("host", host))
	}

	return &tls.Config{
		RootCAs:            pool,
		ServerName:         host,
		InsecureSkipVerify: insecure,
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}, nil
}

// resolve maps host:port to the first resolved socket address. Subsequent
// addresses are not attempted.
func resolve(ctx context.Context, host, port string) (string, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses for %q", host)
	}
	return net.JoinHostPort(addrs[0].Unmap().String(), port), nil
}
