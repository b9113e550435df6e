package codec

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeUint(t *testing.T) {
	b, err := EncodeUint(255, 1, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, b)

	_, err = EncodeUint(256, 1, binary.BigEndian)
	assert.ErrorIs(t, err, ErrRange)

	_, err = EncodeUint(1, 0, binary.BigEndian)
	assert.ErrorIs(t, err, ErrRange)

	_, err = EncodeUint(1, -3, binary.LittleEndian)
	assert.ErrorIs(t, err, ErrRange)

	b, err = EncodeUint(443, 2, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0xBB}, b)

	b, err = EncodeUint(443, 2, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xBB, 0x01}, b)

	b, err = EncodeUint(0, 4, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)

	_, err = EncodeUint(1<<24, 3, binary.BigEndian)
	assert.ErrorIs(t, err, ErrRange)

	b, err = EncodeUint(1<<24-1, 3, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF}, b)

	// Widths past 8 bytes zero-pad on the high side
	b, err = EncodeUint(0x0102, 10, binary.BigEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0, 0x01, 0x02}, b)

	b, err = EncodeUint(0x0102, 10, binary.LittleEndian)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0, 0, 0, 0, 0, 0, 0, 0}, b)
}

func TestIsValidPort(t *testing.T) {
	assert.True(t, IsValidPort(0))
	assert.True(t, IsValidPort(80))
	assert.True(t, IsValidPort(65535))
	assert.False(t, IsValidPort(-1))
	assert.False(t, IsValidPort(65536))
}

func TestIsValidHostname(t *testing.T) {
	assert.True(t, IsValidHostname("a"))
	assert.True(t, IsValidHostname("example.com"))
	assert.True(t, IsValidHostname("sub-1.Example.COM"))
	assert.False(t, IsValidHostname(""))
	assert.False(t, IsValidHostname("-bad.com"))
	assert.False(t, IsValidHostname("bad-.com"))
	assert.False(t, IsValidHostname("under_score.com"))
	assert.False(t, IsValidHostname(strings.Repeat("a", 64)+".com"))
	assert.False(t, IsValidHostname(strings.Repeat("a.", 127)+strings.Repeat("b", 10)))
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("example.com:443")
	require.NoError(t, err)
	assert.Equal(t, AddressType(AddrTypeDomain), addr.Type)
	assert.Equal(t, []byte("example.com"), addr.Host)
	assert.Equal(t, uint16(443), addr.Port)

	addr, err = ParseAddress("10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, AddressType(AddrTypeIPv4), addr.Type)
	assert.Equal(t, []byte{10, 0, 0, 1}, addr.Host)
	assert.Equal(t, uint16(80), addr.Port)

	addr, err = ParseAddress("example.com")
	require.NoError(t, err)
	assert.Equal(t, uint16(80), addr.Port)

	addr, err = ParseAddress("https://example.com")
	require.NoError(t, err)
	assert.Equal(t, AddressType(AddrTypeDomain), addr.Type)
	assert.Equal(t, uint16(443), addr.Port)

	addr, err = ParseAddress("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, uint16(80), addr.Port)

	addr, err = ParseAddress("wss://example.com")
	require.NoError(t, err)
	assert.Equal(t, uint16(443), addr.Port)

	addr, err = ParseAddress("http://example.com:8080")
	require.NoError(t, err)
	assert.Equal(t, uint16(8080), addr.Port)

	addr, err = ParseAddress("[::1]:8443")
	require.NoError(t, err)
	assert.Equal(t, AddressType(AddrTypeIPv6), addr.Type)
	assert.Len(t, addr.Host, 16)
	assert.Equal(t, uint16(8443), addr.Port)

	addr, err = ParseAddress("::1")
	require.NoError(t, err)
	assert.Equal(t, AddressType(AddrTypeIPv6), addr.Type)
	assert.Equal(t, uint16(80), addr.Port)

	for _, bad := range []string{"", "example.com:notaport", "example.com:70000", "://"} {
		_, err := ParseAddress(bad)
		assert.ErrorIs(t, err, ErrFormat, "input %q", bad)
	}
}
