package preset

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/veilsocks/veil/pkg/crypto"
)

const (
	ssAEADName = "ss-aead-cipher"

	aeadNonceLen   = 12
	aeadMaxPayload = 0x3FFF

	// HKDF info string fixed by the shadowsocks AEAD protocol
	aeadHKDFInfo = "ss-subkey"
)

type aeadSpec struct {
	keyLen  int // salt length equals key length
	newAEAD func(key []byte) (cipher.AEAD, error)
}

var aeadCipherMethods = map[string]aeadSpec{
	"aes-128-gcm":            {keyLen: 16, newAEAD: newGCM},
	"aes-256-gcm":            {keyLen: 32, newAEAD: newGCM},
	"chacha20-ietf-poly1305": {keyLen: 32, newAEAD: chacha20poly1305.New},
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// aeadDirection is one direction's sealing/opening state: a per-session
// subkey AEAD plus an incrementing little-endian nonce counter
type aeadDirection struct {
	aead  cipher.AEAD
	nonce []byte
}

func (d *aeadDirection) increment() {
	for i := range d.nonce {
		d.nonce[i]++
		if d.nonce[i] != 0 {
			return
		}
	}
}

// SSAEADCipher is the shadowsocks AEAD cipher preset. It follows the
// same preset contract as the stream cipher but frames the stream into
// authenticated chunks:
//
//	[salt, once per direction]
//	[2-byte BE length][tag] [payload][tag]   per chunk, length <= 0x3FFF
//
// The per-direction subkey is HKDF-SHA1(masterKey, salt, "ss-subkey").
// Inbound data is buffered internally until complete frames are
// available, so arbitrary chunk boundaries are tolerated.
type SSAEADCipher struct {
	method    string
	spec      aeadSpec
	masterKey []byte

	seal aeadDirection
	open aeadDirection

	recvBuf    []byte
	pendingLen int // decoded payload length awaiting its frame, -1 if none
}

func init() {
	Register(ssAEADName, Factory{
		New:            newSSAEADCipher,
		ValidateParams: validateSSAEADParams,
	})
}

func validateSSAEADParams(params Params) error {
	method := params.String("method")
	if method == "" {
		return fmt.Errorf("%w: 'method' must be a non-empty string", ErrConfig)
	}
	if _, ok := aeadCipherMethods[method]; !ok {
		return fmt.Errorf("%w: unsupported cipher method %q", ErrConfig, method)
	}
	return nil
}

func newSSAEADCipher(params Params, env *Env) (Preset, error) {
	if err := validateSSAEADParams(params); err != nil {
		return nil, err
	}
	if env == nil || env.Secret == "" {
		return nil, fmt.Errorf("%w: %s requires a shared secret", ErrConfig, ssAEADName)
	}

	method := params.String("method")
	spec := aeadCipherMethods[method]

	return &SSAEADCipher{
		method:     method,
		spec:       spec,
		masterKey:  crypto.DeriveKey([]byte(env.Secret), spec.keyLen, streamIVLen),
		pendingLen: -1,
	}, nil
}

// Name returns the preset name
func (p *SSAEADCipher) Name() string { return ssAEADName }

// subkey derives the per-session key from the master key and a salt
func (p *SSAEADCipher) subkey(salt []byte) ([]byte, error) {
	key := make([]byte, p.spec.keyLen)
	r := hkdf.New(sha1.New, p.masterKey, salt, []byte(aeadHKDFInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (p *SSAEADCipher) newDirection(salt []byte) (aeadDirection, error) {
	key, err := p.subkey(salt)
	if err != nil {
		return aeadDirection{}, err
	}
	aead, err := p.spec.newAEAD(key)
	if err != nil {
		return aeadDirection{}, err
	}
	return aeadDirection{aead: aead, nonce: make([]byte, aeadNonceLen)}, nil
}

// BeforeOut seals an outbound chunk into one or more authenticated
// frames, emitting the random salt ahead of the first frame
func (p *SSAEADCipher) BeforeOut(buf []byte) ([]byte, error) {
	var out []byte

	if p.seal.aead == nil {
		salt, err := crypto.RandomBytes(p.spec.keyLen)
		if err != nil {
			return nil, fmt.Errorf("salt generation failed: %w", err)
		}
		p.seal, err = p.newDirection(salt)
		if err != nil {
			return nil, err
		}
		out = append(out, salt...)
	}

	for len(buf) > 0 {
		n := len(buf)
		if n > aeadMaxPayload {
			n = aeadMaxPayload
		}

		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(n))
		out = p.seal.aead.Seal(out, p.seal.nonce, lenBuf[:], nil)
		p.seal.increment()

		out = p.seal.aead.Seal(out, p.seal.nonce, buf[:n], nil)
		p.seal.increment()

		buf = buf[n:]
	}

	return out, nil
}

// BeforeIn opens as many complete inbound frames as are available,
// buffering any trailing partial frame for the next call. Returning an
// empty slice therefore means "need more data", not end of stream.
func (p *SSAEADCipher) BeforeIn(buf []byte) ([]byte, error) {
	p.recvBuf = append(p.recvBuf, buf...)

	if p.open.aead == nil {
		if len(p.recvBuf) < p.spec.keyLen {
			return nil, nil
		}
		dir, err := p.newDirection(p.recvBuf[:p.spec.keyLen])
		if err != nil {
			return nil, err
		}
		p.open = dir
		p.recvBuf = p.recvBuf[p.spec.keyLen:]
	}

	overhead := p.open.aead.Overhead()
	var out []byte

	for {
		if p.pendingLen < 0 {
			need := 2 + overhead
			if len(p.recvBuf) < need {
				break
			}
			lenPT, err := p.open.aead.Open(nil, p.open.nonce, p.recvBuf[:need], nil)
			if err != nil {
				return nil, &ProtocolError{Preset: ssAEADName, Reason: "length frame authentication failed"}
			}
			p.open.increment()

			n := int(binary.BigEndian.Uint16(lenPT))
			if n == 0 || n > aeadMaxPayload {
				return nil, &ProtocolError{Preset: ssAEADName, Reason: fmt.Sprintf("invalid frame length %d", n)}
			}
			p.recvBuf = p.recvBuf[need:]
			p.pendingLen = n
		}

		need := p.pendingLen + overhead
		if len(p.recvBuf) < need {
			break
		}
		pt, err := p.open.aead.Open(nil, p.open.nonce, p.recvBuf[:need], nil)
		if err != nil {
			return nil, &ProtocolError{Preset: ssAEADName, Reason: "payload frame authentication failed"}
		}
		p.open.increment()

		out = append(out, pt...)
		p.recvBuf = p.recvBuf[need:]
		p.pendingLen = -1
	}

	return out, nil
}
