// Package wterr defines the error taxonomy shared by the session layer.
// Every failure path in the module wraps one of these sentinels, so callers
// can branch with errors.Is and hosts can map errors to stable class names.
package wterr

import "errors"

var (
	// ErrPermissionDenied is returned when the permission gate rejects a URL.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidURL is returned for malformed or unusable target URLs.
	ErrInvalidURL = errors.New("invalid url")
	// ErrAddressResolution is returned when the target host resolves to no address.
	ErrAddressResolution = errors.New("address resolution failed")
	// ErrTLSConfig is returned when the client TLS configuration cannot be built.
	ErrTLSConfig = errors.New("tls config error")
	// ErrHandshake is returned when the QUIC handshake fails.
	ErrHandshake = errors.New("handshake failed")
	// ErrStreamOpen is returned when the initial bidirectional stream cannot be opened.
	ErrStreamOpen = errors.New("stream open failed")
	// ErrSend is returned when the transport rejects an outbound datagram.
	ErrSend = errors.New("send failed")
	// ErrCancelled is returned when a pending operation is interrupted by its
	// cancellation scope. No datagram is consumed on this path.
	ErrCancelled = errors.New("operation cancelled")
	// ErrUnknownResource is returned when a handle is not registered or refers
	// to a resource of a different kind.
	ErrUnknownResource = errors.New("unknown resource")
)

// ClassOf returns the stable class name for err, for host-boundary error
// reporting. Errors outside the taxonomy map to the generic class.
func ClassOf(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "PermissionDenied"
	case errors.Is(err, ErrInvalidURL):
		return "InvalidUrl"
	case errors.Is(err, ErrAddressResolution):
		return "AddressResolutionFailure"
	case errors.Is(err, ErrTLSConfig):
		return "TlsConfigError"
	case errors.Is(err, ErrHandshake):
		return "HandshakeFailure"
	case errors.Is(err, ErrStreamOpen):
		return "StreamOpenFailure"
	case errors.Is(err, ErrSend):
		return "SendFailure"
	case errors.Is(err, ErrCancelled):
		return "CancelledRead"
	case errors.Is(err, ErrUnknownResource):
		return "UnknownResource"
	default:
		return "WebTransportError"
	}
}
