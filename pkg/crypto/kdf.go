package crypto

import (
	"crypto/md5"
	"crypto/rand"
	"io"
)

// DeriveKey expands a password into keyLen bytes of key material using
// the legacy OpenSSL EVP_BytesToKey construction: MD5 digests are chained
// (each round hashes the previous digest followed by the password, the
// first round hashes the password alone) and concatenated until at least
// keyLen+ivLen bytes have accumulated. Only the first keyLen bytes are
// returned.
//
// The derivation is deterministic and salt-free, so two peers holding the
// same password always derive the same key. The iteration order and
// truncation must not change: they are part of the wire compatibility
// contract with other shadowsocks-style implementations.
func DeriveKey(password []byte, keyLen, ivLen int) []byte {
	total := keyLen + ivLen
	material := make([]byte, 0, total+md5.Size)

	var prev []byte
	h := md5.New()
	for len(material) < total {
		h.Reset()
		h.Write(prev)
		h.Write(password)
		prev = h.Sum(nil)
		material = append(material, prev...)
	}

	return material[:keyLen]
}

// RandomBytes generates n cryptographically secure random bytes
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}
