package preset

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamPair(t *testing.T, method, secret string) (*SSStreamCipher, *SSStreamCipher) {
	t.Helper()
	sender, err := newSSStreamCipher(Params{"method": method}, &Env{Secret: secret})
	require.NoError(t, err)
	receiver, err := newSSStreamCipher(Params{"method": method}, &Env{Secret: secret})
	require.NoError(t, err)
	return sender.(*SSStreamCipher), receiver.(*SSStreamCipher)
}

// chunked splits b at random boundaries; minFirst bounds the size of the
// first chunk from below
func chunked(rng *rand.Rand, b []byte, minFirst int) [][]byte {
	var chunks [][]byte
	for len(b) > 0 {
		n := 1 + rng.Intn(len(b))
		if len(chunks) == 0 && n < minFirst {
			n = minFirst
		}
		if n > len(b) {
			n = len(b)
		}
		chunks = append(chunks, b[:n])
		b = b[n:]
	}
	return chunks
}

func TestStreamCipherRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for method := range streamCipherMethods {
		t.Run(method, func(t *testing.T) {
			sender, receiver := newStreamPair(t, method, "test-secret")

			payload := make([]byte, 10*1024)
			rng.Read(payload)

			// Chunk the plaintext arbitrarily before transformation
			var wire []byte
			for _, chunk := range chunked(rng, payload, 1) {
				out, err := sender.BeforeOut(chunk)
				require.NoError(t, err)
				wire = append(wire, out...)
			}
			require.Len(t, wire, len(payload)+streamIVLen)

			// Re-chunk the wire bytes differently on the way in; only
			// the first chunk must be large enough to carry the IV
			var got []byte
			for _, chunk := range chunked(rng, wire, streamIVLen) {
				out, err := receiver.BeforeIn(chunk)
				require.NoError(t, err)
				got = append(got, out...)
			}

			assert.Equal(t, payload, got)
		})
	}
}

func TestStreamCipherWireFormat(t *testing.T) {
	sender, _ := newStreamPair(t, "aes-256-ctr", "k")

	payload := []byte("hello world")
	first, err := sender.BeforeOut(payload)
	require.NoError(t, err)

	// First chunk: 16-byte IV followed by same-length ciphertext
	require.Len(t, first, streamIVLen+len(payload))
	assert.NotEqual(t, payload, first[streamIVLen:])

	// Later chunks carry no IV and no length change
	second, err := sender.BeforeOut(payload)
	require.NoError(t, err)
	assert.Len(t, second, len(payload))
}

func TestStreamCipherDistinctSecretsDisagree(t *testing.T) {
	sender, err := newSSStreamCipher(Params{"method": "aes-128-ctr"}, &Env{Secret: "one"})
	require.NoError(t, err)
	receiver, err := newSSStreamCipher(Params{"method": "aes-128-ctr"}, &Env{Secret: "two"})
	require.NoError(t, err)

	wire, err := sender.BeforeOut([]byte("payload"))
	require.NoError(t, err)
	got, err := receiver.(*SSStreamCipher).BeforeIn(wire)
	require.NoError(t, err)
	assert.NotEqual(t, []byte("payload"), got)
}

func TestStreamCipherShortFirstInbound(t *testing.T) {
	sender, receiver := newStreamPair(t, "aes-256-ctr", "k")

	wire, err := sender.BeforeOut([]byte("hello"))
	require.NoError(t, err)

	_, err = receiver.BeforeIn(wire[:7])
	require.Error(t, err)
	assert.True(t, IsProtocolError(err))

	// The failed attempt must not consume the decrypt-side transition:
	// resupplying the complete buffer succeeds
	assert.Equal(t, cipherIdle, receiver.decrypt.state)
	got, err := receiver.BeforeIn(wire)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, cipherActive, receiver.decrypt.state)
}

func TestStreamCipherIVUniqueness(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)

	for i := 0; i < n; i++ {
		p, err := newSSStreamCipher(Params{"method": "aes-128-ctr"}, &Env{Secret: "same-key"})
		require.NoError(t, err)

		out, err := p.BeforeOut([]byte("x"))
		require.NoError(t, err)

		iv := string(out[:streamIVLen])
		require.False(t, seen[iv], "IV collision after %d connections", i)
		seen[iv] = true
	}
}

func TestStreamCipherConfigErrors(t *testing.T) {
	cases := []struct {
		name   string
		params Params
		env    *Env
	}{
		{"empty method", Params{"method": ""}, &Env{Secret: "k"}},
		{"missing method", Params{}, &Env{Secret: "k"}},
		{"unsupported method", Params{"method": "rc4-md5"}, &Env{Secret: "k"}},
		{"bad type", Params{"method": 42}, &Env{Secret: "k"}},
		{"missing secret", Params{"method": "aes-128-ctr"}, &Env{}},
		{"nil env", Params{"method": "aes-128-ctr"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newSSStreamCipher(tc.params, tc.env)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestCipherKeySize(t *testing.T) {
	for method, keyLen := range map[string]int{
		"aes-128-ctr": 16,
		"aes-192-cfb": 24,
		"aes-256-ctr": 32,
	} {
		n, err := cipherKeySize(method)
		require.NoError(t, err)
		assert.Equal(t, keyLen, n, method)
	}

	_, err := cipherKeySize("aes-ctr")
	assert.ErrorIs(t, err, ErrConfig)
	_, err = cipherKeySize(fmt.Sprintf("aes-%s-ctr", "abc"))
	assert.ErrorIs(t, err, ErrConfig)
}
