package preset

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPreset records the order its hooks were invoked in
type stubPreset struct {
	tag   string
	trace *[]string
	fail  bool
}

func (p *stubPreset) Name() string { return "stub-" + p.tag }

func (p *stubPreset) BeforeOut(buf []byte) ([]byte, error) {
	*p.trace = append(*p.trace, p.tag+":out")
	return append(buf, []byte(p.tag)...), nil
}

func (p *stubPreset) BeforeIn(buf []byte) ([]byte, error) {
	if p.fail {
		return nil, &ProtocolError{Preset: p.Name(), Reason: "stub failure"}
	}
	*p.trace = append(*p.trace, p.tag+":in")
	return buf, nil
}

var validatedTags []string

func init() {
	Register("stub", Factory{
		New: func(params Params, _ *Env) (Preset, error) {
			return &stubPreset{
				tag:   params.String("tag"),
				trace: params["trace"].(*[]string),
				fail:  params["fail"] == true,
			}, nil
		},
		ValidateParams: func(params Params) error {
			validatedTags = append(validatedTags, params.String("tag"))
			if params.String("tag") == "" {
				return fmt.Errorf("%w: 'tag' is required", ErrConfig)
			}
			return nil
		},
	})
}

func stubDescriptor(tag string, trace *[]string, fail bool) Descriptor {
	return Descriptor{
		Name:   "stub",
		Params: Params{"tag": tag, "trace": trace, "fail": fail},
	}
}

func TestPipelineMirrorOrder(t *testing.T) {
	var trace []string
	pl, err := NewPipeline([]Descriptor{
		stubDescriptor("a", &trace, false),
		stubDescriptor("b", &trace, false),
	}, &Env{})
	require.NoError(t, err)

	out, err := pl.ProcessOutbound([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:out", "b:out"}, trace)
	// a wraps first, b wraps second
	assert.Equal(t, []byte("xab"), out)

	trace = nil
	_, err = pl.ProcessInbound([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b:in", "a:in"}, trace)
}

func TestPipelineUnknownPreset(t *testing.T) {
	_, err := NewPipeline([]Descriptor{{Name: "no-such-preset"}}, &Env{})
	assert.ErrorIs(t, err, ErrConfig)
	assert.ErrorContains(t, err, "unknown preset")

	var trace []string
	_, err = NewPipeline([]Descriptor{
		stubDescriptor("a", &trace, false),
		{Name: "no-such-preset"},
	}, &Env{})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPipelineEmpty(t *testing.T) {
	_, err := NewPipeline(nil, &Env{})
	assert.ErrorIs(t, err, ErrConfig)
}

// The validation pass must skip the first descriptor: it is the chain
// anchor and depends on connection-scoped state, not params.
func TestValidateDescriptorsSkipsAnchor(t *testing.T) {
	var trace []string
	validatedTags = nil

	err := ValidateDescriptors([]Descriptor{
		stubDescriptor("anchor", &trace, false),
		stubDescriptor("second", &trace, false),
		stubDescriptor("third", &trace, false),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, validatedTags)

	// A bad anchor param slips through validation (deliberate
	// exemption) but a bad later one does not
	err = ValidateDescriptors([]Descriptor{
		stubDescriptor("", &trace, false),
		stubDescriptor("ok", &trace, false),
	})
	assert.NoError(t, err)

	err = ValidateDescriptors([]Descriptor{
		stubDescriptor("ok", &trace, false),
		stubDescriptor("", &trace, false),
	})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPipelineFailurePropagates(t *testing.T) {
	var trace []string
	pl, err := NewPipeline([]Descriptor{
		stubDescriptor("a", &trace, false),
		stubDescriptor("b", &trace, true),
	}, &Env{})
	require.NoError(t, err)

	_, err = pl.ProcessInbound([]byte("x"))
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))
	// b failed first, a must never run
	assert.Empty(t, trace)
}
