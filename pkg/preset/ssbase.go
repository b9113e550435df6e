package preset

import (
	"fmt"

	"github.com/veilsocks/veil/pkg/codec"
)

const ssBaseName = "ss-base"

// SSBase is the address-framing preset. On the client side it prepends
// the ATYP-encoded target address to the first outbound chunk; on the
// server side it strips and decodes that header from the first inbound
// chunk and reports the target through the environment callback. All
// later chunks pass through untouched.
//
// It takes no params: the target address is connection-scoped state, so
// ss-base is the usual chain anchor.
type SSBase struct {
	target   *codec.Address
	onTarget func(addr *codec.Address)

	headerSent     bool
	headerReceived bool
}

func init() {
	Register(ssBaseName, Factory{
		New: newSSBase,
		ValidateParams: func(Params) error {
			return nil
		},
	})
}

func newSSBase(_ Params, env *Env) (Preset, error) {
	if env == nil || (env.Target == nil && env.OnTarget == nil) {
		return nil, fmt.Errorf("%w: %s requires a target address or a target callback", ErrConfig, ssBaseName)
	}
	return &SSBase{target: env.Target, onTarget: env.OnTarget}, nil
}

// Name returns the preset name
func (p *SSBase) Name() string { return ssBaseName }

// BeforeOut prepends the target address header to the first chunk
func (p *SSBase) BeforeOut(buf []byte) ([]byte, error) {
	if p.headerSent || p.target == nil {
		return buf, nil
	}

	header, err := p.target.Marshal()
	if err != nil {
		return nil, err
	}
	p.headerSent = true

	out := make([]byte, 0, len(header)+len(buf))
	out = append(out, header...)
	return append(out, buf...), nil
}

// BeforeIn strips the target address header from the first non-empty
// chunk. An empty buffer is not a violation: an earlier stage may
// legitimately yield no plaintext yet (a cipher stage that only consumed
// its IV or salt, or is buffering a partial frame), so the header is
// awaited on the next chunk. A non-empty header that cannot be decoded
// is a protocol violation: the peer either speaks another protocol or is
// probing.
func (p *SSBase) BeforeIn(buf []byte) ([]byte, error) {
	if p.headerReceived || p.onTarget == nil || len(buf) == 0 {
		return buf, nil
	}

	addr, consumed, err := codec.UnmarshalAddress(buf)
	if err != nil {
		return nil, &ProtocolError{
			Preset: ssBaseName,
			Reason: fmt.Sprintf("cannot decode address header: %v", err),
		}
	}
	p.headerReceived = true
	p.onTarget(addr)

	return buf[consumed:], nil
}
