package preset

import (
	"fmt"
)

// Pipeline is the ordered composition of instantiated presets for one
// connection. It is exclusively owned by that connection: presets hold
// per-connection cipher state, so instances are never shared.
//
// The pipeline is synchronous and performs no I/O. The transport layer
// must not reorder or overlap invocations for a single connection;
// independent connections may run fully in parallel.
type Pipeline struct {
	presets []Preset
}

// ValidateDescriptors is the fail-fast validation pass run before any
// pipeline is built: it resolves every preset name and validates the
// params of every descriptor except the first. The first preset is the
// structural anchor of the chain and is expected to depend on
// connection-scoped state (the shared secret, the target address) rather
// than on its own params, so its params are only checked by its
// constructor. Relay endpoints call this once at startup so that bad
// configuration stops the process before any connection is accepted.
func ValidateDescriptors(descriptors []Descriptor) error {
	if len(descriptors) == 0 {
		return fmt.Errorf("%w: preset list is empty", ErrConfig)
	}

	if _, ok := Lookup(descriptors[0].Name); !ok {
		return fmt.Errorf("%w: unknown preset %q", ErrConfig, descriptors[0].Name)
	}

	for _, d := range descriptors[1:] {
		f, ok := Lookup(d.Name)
		if !ok {
			return fmt.Errorf("%w: unknown preset %q", ErrConfig, d.Name)
		}
		if f.ValidateParams != nil {
			if err := f.ValidateParams(d.Params); err != nil {
				return fmt.Errorf("preset %q: %w", d.Name, err)
			}
		}
	}

	return nil
}

// NewPipeline instantiates the ordered preset list for one connection
// after running the ValidateDescriptors pass.
func NewPipeline(descriptors []Descriptor, env *Env) (*Pipeline, error) {
	if err := ValidateDescriptors(descriptors); err != nil {
		return nil, err
	}

	presets := make([]Preset, 0, len(descriptors))
	for _, d := range descriptors {
		f, ok := Lookup(d.Name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown preset %q", ErrConfig, d.Name)
		}
		p, err := f.New(d.Params, env)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", d.Name, err)
		}
		presets = append(presets, p)
	}

	return &Pipeline{presets: presets}, nil
}

// ProcessOutbound applies each preset's BeforeOut left-to-right over the
// chunk. The first error aborts the whole call.
func (p *Pipeline) ProcessOutbound(buf []byte) ([]byte, error) {
	var err error
	for _, stage := range p.presets {
		buf, err = stage.BeforeOut(buf)
		if err != nil {
			return nil, fmt.Errorf("outbound %s: %w", stage.Name(), err)
		}
	}
	return buf, nil
}

// ProcessInbound applies each preset's BeforeIn right-to-left, mirroring
// the outbound order: the last transform written is the first unwrapped.
func (p *Pipeline) ProcessInbound(buf []byte) ([]byte, error) {
	var err error
	for i := len(p.presets) - 1; i >= 0; i-- {
		stage := p.presets[i]
		buf, err = stage.BeforeIn(buf)
		if err != nil {
			return nil, fmt.Errorf("inbound %s: %w", stage.Name(), err)
		}
	}
	return buf, nil
}
