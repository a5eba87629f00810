// Package codec marshals session events and other values crossing the host
// boundary. Hosts pick a codec by content type.
package codec

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic and safe for cross-host exchange.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps format/content type aliases to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs,
// JSON and CBOR.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }
