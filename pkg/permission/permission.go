// Package permission gates network access by target host. The gate is
// consulted synchronously before any resource is allocated for a connection,
// and asserted again by the establisher before the handshake begins.
package permission

import (
	"fmt"
	"net/url"
	"strings"

	"wtgram/pkg/wterr"
)

// Gate validates that the calling context may contact a URL.
type Gate interface {
	// CheckNetURL returns nil when access to u is allowed for the named API.
	CheckNetURL(u *url.URL, apiName string) error
}

// HostGate is a Gate driven by host pattern lists. A pattern is either an
// exact host ("example.com", "127.0.0.1") or a wildcard suffix
// ("*.example.com"). Deny patterns win over allow patterns; an empty allow
// list allows every host not denied.
type HostGate struct {
	allow []string
	deny  []string
}

// NewHostGate builds a gate from allow and deny host patterns.
func NewHostGate(allow, deny []string) *HostGate {
	return &HostGate{allow: normalize(allow), deny: normalize(deny)}
}

func (g *HostGate) CheckNetURL(u *url.URL, apiName string) error {
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%s: url %q has no host: %w", apiName, u.String(), wterr.ErrInvalidURL)
	}
	for _, p := range g.deny {
		if hostMatches(p, host) {
			return fmt.Errorf("%s: access to %q denied: %w", apiName, host, wterr.ErrPermissionDenied)
		}
	}
	if len(g.allow) == 0 {
		return nil
	}
	for _, p := range g.allow {
		if hostMatches(p, host) {
			return nil
		}
	}
	return fmt.Errorf("%s: access to %q not in allow list: %w", apiName, host, wterr.ErrPermissionDenied)
}

// hostMatches reports whether host matches pattern. "*.suffix" matches any
// subdomain of suffix but not suffix itself.
func hostMatches(pattern, host string) bool {
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+rest)
	}
	return pattern == host
}

func normalize(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
