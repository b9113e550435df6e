package preset

import (
	"errors"
	"fmt"

	"github.com/veilsocks/veil/pkg/codec"
)

// ErrConfig indicates invalid preset configuration (unknown preset name,
// bad parameters, missing secret). Fatal at startup, never retried.
var ErrConfig = errors.New("invalid preset configuration")

// ProtocolError reports an expected protocol-level failure on one
// connection: truncated or tampered input that a remote peer can always
// produce. It aborts the pipeline invocation for that chunk; the
// transport layer must close the connection. It is deliberately distinct
// from other errors so that the composition layer can tell malicious
// input apart from programming bugs.
type ProtocolError struct {
	Preset string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Preset, e.Reason)
}

// IsProtocolError reports whether err is (or wraps) a ProtocolError
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// Params holds the free-form options of one preset descriptor
type Params map[string]interface{}

// String returns the named option as a string, or "" if absent or not a
// string
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Descriptor names a registered preset and carries its options. Ordering
// of descriptors is significant and fixed for the lifetime of a
// connection: the same list is applied left-to-right on outbound data and
// right-to-left on inbound data.
type Descriptor struct {
	Name   string `json:"name"`
	Params Params `json:"params,omitempty"`
}

// Preset is one stage of a bidirectional byte-stream transform chain.
//
// BeforeOut is called with the next chunk this endpoint wants to send,
// before it reaches the network; BeforeIn with the next chunk just
// received, before it is handed to the next stage. Both return the
// transformed bytes or an error. Expected protocol conditions (short or
// tampered input) are reported as *ProtocolError.
//
// A preset may hold mutable state scoped to its own connection but must
// never touch state of another connection or another preset instance;
// composition happens purely by chaining return values.
type Preset interface {
	Name() string
	BeforeOut(buf []byte) ([]byte, error)
	BeforeIn(buf []byte) ([]byte, error)
}

// Env carries the connection-scoped state the bootstrap injects into
// presets, replacing any ambient process-wide configuration.
type Env struct {
	// Secret is the shared secret presets derive key material from
	Secret string

	// Target is the destination the local endpoint wants reached;
	// set on the client side, consumed by address-framing presets
	Target *codec.Address

	// OnTarget is invoked once when an address-framing preset decodes
	// the target from the first inbound chunk; set on the server side
	OnTarget func(addr *codec.Address)
}

// Factory builds instances of one preset implementation. ValidateParams
// surfaces constructor-time validation without building a runtime
// instance; it must accept exactly the params New would accept.
type Factory struct {
	New            func(params Params, env *Env) (Preset, error)
	ValidateParams func(params Params) error
}

// registry maps preset names to factories. It is populated by init
// functions at startup and read-only afterwards, so no locking is needed.
var registry = map[string]Factory{}

// Register makes a preset implementation available by name
func Register(name string, f Factory) {
	if _, dup := registry[name]; dup {
		panic("preset: duplicate registration of " + name)
	}
	registry[name] = f
}

// Lookup resolves a preset name to its factory
func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}
