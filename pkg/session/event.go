package session

// EventKind tags entries of the session event stream.
type EventKind string

const (
	// EventBinary carries one inbound datagram.
	EventBinary EventKind = "binary"
	// EventClose reports an application-level close with code and reason.
	EventClose EventKind = "close"
	// EventError reports a transport error observed while waiting. It is
	// delivered as data, not as a call failure, so polling loops keep going.
	EventError EventKind = "error"
	// EventClosed reports that the connection is gone entirely.
	EventClosed EventKind = "closed"
)

// Event is one entry of the ordered event stream a session consumer
// observes. Exactly the fields for its kind are populated.
type Event struct {
	Kind   EventKind `json:"kind" cbor:"kind"`
	Data   []byte    `json:"data,omitempty" cbor:"data,omitempty"`
	Code   uint64    `json:"code,omitempty" cbor:"code,omitempty"`
	Reason string    `json:"reason,omitempty" cbor:"reason,omitempty"`
	Err    string    `json:"error,omitempty" cbor:"error,omitempty"`
}
