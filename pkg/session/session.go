// Package session holds the long-lived resource wrapping one established
// QUIC connection and its eagerly opened bidirectional stream. A session
// supports unreliable datagram send, cancellable receive, and abort.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"wtgram/pkg/wterr"
)

// Session owns the connection and the two directions of its stream. Each
// field sits behind its own exclusivity guard: one accessor at a time per
// field, guards never nested across fields. The connection, once set, is
// never replaced; only closed.
type Session struct {
	conn   quic.Connection
	stream quic.Stream

	connGuard guard
	sendGuard guard
	recvGuard guard

	cancel *CancelScope
}

// New wraps an established connection and its opened stream.
func New(conn quic.Connection, stream quic.Stream) *Session {
	return &Session{
		conn:      conn,
		stream:    stream,
		connGuard: newGuard(),
		sendGuard: newGuard(),
		recvGuard: newGuard(),
		cancel:    NewCancelScope(),
	}
}

// Cancel returns the scope racing this session's pending receive.
func (s *Session) Cancel() *CancelScope { return s.cancel }

// RemoteAddr reports the peer address, for logging.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// SendDatagram submits b as one unreliable datagram. Sends on the same
// session are serialized by the connection guard; concurrent callers block
// in arrival order.
func (s *Session) SendDatagram(ctx context.Context, b []byte) error {
	if err := s.connGuard.acquire(ctx); err != nil {
		return err
	}
	defer s.connGuard.release()

	if err := s.conn.SendDatagram(b); err != nil {
		return fmt.Errorf("datagram of %d bytes: %v: %w", len(b), err, wterr.ErrSend)
	}
	zap.L().Debug("datagram sent", zap.Int("bytes", len(b)))
	return nil
}

// NextEvent awaits the next inbound datagram, racing it against the
// session's cancellation scope. If the scope fires first the call fails
// with wterr.ErrCancelled and no datagram is consumed. Transport errors
// observed while waiting are returned as error-tagged events, not call
// failures, so the caller's poll loop survives them. Only one outstanding
// NextEvent per session is supported; extra callers queue on the guard.
func (s *Session) NextEvent(ctx context.Context) (Event, error) {
	rctx, stop := s.cancel.Bind(ctx)
	defer stop()

	if err := s.connGuard.acquire(rctx); err != nil {
		if s.cancel.Cancelled() {
			return Event{}, fmt.Errorf("receive interrupted: %w", wterr.ErrCancelled)
		}
		return Event{}, err
	}
	defer s.connGuard.release()

	data, err := s.conn.ReceiveDatagram(rctx)
	if err == nil {
		return Event{Kind: EventBinary, Data: data}, nil
	}
	if s.cancel.Cancelled() {
		return Event{}, fmt.Errorf("receive interrupted: %w", wterr.ErrCancelled)
	}
	if rctx.Err() != nil {
		return Event{}, rctx.Err()
	}
	return closeEvent(err), nil
}

// closeEvent maps a terminal connection error to its event representation.
func closeEvent(err error) Event {
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) {
		return Event{Kind: EventClose, Code: uint64(appErr.ErrorCode), Reason: appErr.ErrorMessage}
	}
	var idleErr *quic.IdleTimeoutError
	if errors.As(err, &idleErr) {
		return Event{Kind: EventClosed}
	}
	return Event{Kind: EventError, Err: err.Error()}
}

// Abort closes the connection with a zero application error code and empty
// reason. Closing an already-closed connection is a no-op at the transport
// level, so Abort is idempotent in effect. The handle stays registered;
// disposal is the registry's job.
func (s *Session) Abort(ctx context.Context) error {
	if err := s.connGuard.acquire(ctx); err != nil {
		return err
	}
	defer s.connGuard.release()

	zap.L().Debug("session aborted", zap.String("remote", s.conn.RemoteAddr().String()))
	return s.conn.CloseWithError(0, "")
}

// registry.Resource implementation. Disposal cancels any pending receive
// first so the connection guard frees up, then aborts the connection.

func (s *Session) Name() string { return "webTransportConnection" }

func (s *Session) OnDispose() {
	s.cancel.Cancel()
	if err := s.Abort(context.Background()); err != nil {
		zap.L().Warn("abort on dispose", zap.Error(err))
	}
}
