// Package client exposes the host-facing operation surface: the synchronous
// permission check, the asynchronous create, and the per-handle send,
// receive, cancel, and abort operations.
package client

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"wtgram/pkg/config"
	"wtgram/pkg/establish"
	"wtgram/pkg/permission"
	"wtgram/pkg/registry"
	"wtgram/pkg/session"
	"wtgram/pkg/wterr"
)

// Client ties the permission gate, the handle table, and the establisher
// together. One Client serves one host; sessions created through it are
// fully independent of each other.
type Client struct {
	cfg   *config.Config
	gate  permission.Gate
	table *registry.Table
}

// New builds a Client from cfg. A nil gate gets the host gate derived from
// the config's permission lists.
func New(cfg *config.Config, gate permission.Gate) *Client {
	if gate == nil {
		gate = permission.NewHostGate(cfg.Permission.AllowHosts, cfg.Permission.DenyHosts)
	}
	return &Client{cfg: cfg, gate: gate, table: registry.NewTable()}
}

// Table exposes the handle table, for hosts that share it.
func (c *Client) Table() *registry.Table { return c.table }

// CheckPermissionAndCancelHandle is the synchronous half of the two-phase
// creation protocol. Constructing a session is a synchronous operation for
// the host and must fail fast on denied permission, while the actual
// connect is async; this op performs the fast check and, on request,
// allocates a cancellation scope for the pending create. Nothing is
// allocated on a denied URL.
func (c *Client) CheckPermissionAndCancelHandle(rawURL, apiName string, wantCancelHandle bool) (registry.Handle, bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, false, fmt.Errorf("parse %q: %v: %w", rawURL, err, wterr.ErrInvalidURL)
	}
	if err := c.gate.CheckNetURL(u, apiName); err != nil {
		return 0, false, err
	}
	if !wantCancelHandle {
		return 0, false, nil
	}
	h := c.table.Add(session.NewCancelScope())
	return h, true, nil
}

// Create is the asynchronous half: it re-validates permission, establishes
// the connection, and registers the resulting session. cancelHandle may be
// zero; otherwise it must refer to a scope from the synchronous half, and
// cancelling that scope makes Create fail promptly. No handle is registered
// on any failure.
func (c *Client) Create(ctx context.Context, apiName, rawURL string, fingerprints []establish.Fingerprint, cancelHandle registry.Handle) (registry.Handle, error) {
	c.requireUnstable("WebTransport#construct")

	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %v: %w", rawURL, err, wterr.ErrInvalidURL)
	}
	if err := c.gate.CheckNetURL(u, apiName); err != nil {
		return 0, err
	}

	var scope *session.CancelScope
	if cancelHandle != 0 {
		scope, err = registry.Lookup[*session.CancelScope](c.table, cancelHandle)
		if err != nil {
			return 0, err
		}
	}

	s, err := establish.Establish(ctx, c.cfg, c.gate, apiName, rawURL, fingerprints, scope)
	if err != nil {
		return 0, err
	}
	return c.table.Add(s), nil
}

// Send submits b as one unreliable datagram on the session under h.
func (c *Client) Send(ctx context.Context, h registry.Handle, b []byte) error {
	s, err := registry.Lookup[*session.Session](c.table, h)
	if err != nil {
		return err
	}
	return s.SendDatagram(ctx, b)
}

// NextEvent returns the next entry of the session's event stream. See
// session.Session.NextEvent for the cancellation and error-as-data rules.
func (c *Client) NextEvent(ctx context.Context, h registry.Handle) (session.Event, error) {
	s, err := registry.Lookup[*session.Session](c.table, h)
	if err != nil {
		return session.Event{}, err
	}
	return s.NextEvent(ctx)
}

// Abort closes the session's connection. The handle stays registered until
// CloseHandle.
func (c *Client) Abort(ctx context.Context, h registry.Handle) error {
	s, err := registry.Lookup[*session.Session](c.table, h)
	if err != nil {
		return err
	}
	return s.Abort(ctx)
}

// Cancel signals the cancellation scope under h.
func (c *Client) Cancel(h registry.Handle) error {
	scope, err := registry.Lookup[*session.CancelScope](c.table, h)
	if err != nil {
		return err
	}
	scope.Cancel()
	return nil
}

// CloseHandle removes h from the table and runs its dispose hook: sessions
// abort their connection, cancellation scopes fire.
func (c *Client) CloseHandle(h registry.Handle) error {
	return c.table.Close(h)
}

func (c *Client) requireUnstable(apiName string) {
	if !c.cfg.Unstable {
		zap.L().Fatal("unstable API requires the unstable flag", zap.String("api", apiName))
	}
}
