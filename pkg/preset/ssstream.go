package preset

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strconv"
	"strings"

	"github.com/veilsocks/veil/pkg/crypto"
)

const (
	ssStreamName = "ss-stream-cipher"

	// All supported stream ciphers use a 16-byte IV
	streamIVLen = 16
)

// Supported stream cipher methods. The numeric key size is encoded in
// the method name itself (bits / 8 = key bytes).
var streamCipherMethods = map[string]struct{}{
	"aes-128-ctr": {},
	"aes-192-ctr": {},
	"aes-256-ctr": {},
	"aes-128-cfb": {},
	"aes-192-cfb": {},
	"aes-256-cfb": {},
}

// directionState is the per-direction cipher lifecycle. The transition
// idle -> active happens exactly once, on the first chunk in that
// direction, and is never reversed.
type directionState int

const (
	cipherIdle directionState = iota
	cipherActive
)

type cipherDirection struct {
	state  directionState
	stream cipher.Stream
}

// SSStreamCipher is the shadowsocks stream cipher preset. Outbound data
// is encrypted with a fresh random IV prepended to the very first chunk;
// inbound data is decrypted after consuming the peer's IV from the front
// of its first chunk. Encryption is a streaming XOR, so output length
// equals input length and arbitrary chunk boundaries are tolerated.
type SSStreamCipher struct {
	method string
	key    []byte

	encrypt cipherDirection
	decrypt cipherDirection
}

func init() {
	Register(ssStreamName, Factory{
		New:            newSSStreamCipher,
		ValidateParams: validateSSStreamParams,
	})
}

// cipherKeySize parses the key size in bytes out of a method name like
// "aes-256-ctr"
func cipherKeySize(method string) (int, error) {
	parts := strings.Split(method, "-")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: malformed cipher method %q", ErrConfig, method)
	}
	bits, err := strconv.Atoi(parts[1])
	if err != nil || bits%8 != 0 {
		return 0, fmt.Errorf("%w: bad key size in cipher method %q", ErrConfig, method)
	}
	return bits / 8, nil
}

func validateSSStreamParams(params Params) error {
	method := params.String("method")
	if method == "" {
		return fmt.Errorf("%w: 'method' must be a non-empty string", ErrConfig)
	}
	if _, ok := streamCipherMethods[method]; !ok {
		return fmt.Errorf("%w: unsupported cipher method %q", ErrConfig, method)
	}
	return nil
}

func newSSStreamCipher(params Params, env *Env) (Preset, error) {
	if err := validateSSStreamParams(params); err != nil {
		return nil, err
	}
	if env == nil || env.Secret == "" {
		return nil, fmt.Errorf("%w: %s requires a shared secret", ErrConfig, ssStreamName)
	}

	method := params.String("method")
	keyLen, err := cipherKeySize(method)
	if err != nil {
		return nil, err
	}

	return &SSStreamCipher{
		method: method,
		key:    crypto.DeriveKey([]byte(env.Secret), keyLen, streamIVLen),
	}, nil
}

// Name returns the preset name
func (p *SSStreamCipher) Name() string { return ssStreamName }

// newStream builds a cipher.Stream for one direction from the derived
// key and an IV
func (p *SSStreamCipher) newStream(iv []byte, decrypting bool) (cipher.Stream, error) {
	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(p.method, "-cfb") {
		if decrypting {
			return cipher.NewCFBDecrypter(block, iv), nil
		}
		return cipher.NewCFBEncrypter(block, iv), nil
	}
	return cipher.NewCTR(block, iv), nil
}

// BeforeOut encrypts an outbound chunk. On the very first chunk it
// generates a fresh 16-byte random IV, activates the encrypt direction,
// and emits IV || ciphertext; every later chunk emits ciphertext only.
func (p *SSStreamCipher) BeforeOut(buf []byte) ([]byte, error) {
	if p.encrypt.state == cipherIdle {
		iv, err := crypto.RandomBytes(streamIVLen)
		if err != nil {
			return nil, fmt.Errorf("iv generation failed: %w", err)
		}
		stream, err := p.newStream(iv, false)
		if err != nil {
			return nil, err
		}
		p.encrypt = cipherDirection{state: cipherActive, stream: stream}

		out := make([]byte, streamIVLen+len(buf))
		copy(out, iv)
		stream.XORKeyStream(out[streamIVLen:], buf)
		return out, nil
	}

	out := make([]byte, len(buf))
	p.encrypt.stream.XORKeyStream(out, buf)
	return out, nil
}

// BeforeIn decrypts an inbound chunk. The very first chunk must carry
// the peer's 16-byte IV at its front; a shorter chunk is a protocol
// violation and leaves the decrypt direction idle, so the caller may
// retry with a complete buffer.
func (p *SSStreamCipher) BeforeIn(buf []byte) ([]byte, error) {
	if p.decrypt.state == cipherIdle {
		if len(buf) < streamIVLen {
			return nil, &ProtocolError{
				Preset: ssStreamName,
				Reason: fmt.Sprintf("buffer too short to contain IV (%d bytes)", len(buf)),
			}
		}
		stream, err := p.newStream(buf[:streamIVLen], true)
		if err != nil {
			return nil, err
		}
		p.decrypt = cipherDirection{state: cipherActive, stream: stream}

		out := make([]byte, len(buf)-streamIVLen)
		stream.XORKeyStream(out, buf[streamIVLen:])
		return out, nil
	}

	out := make([]byte, len(buf))
	p.decrypt.stream.XORKeyStream(out, buf)
	return out, nil
}
