package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Sentinel errors returned by the codec functions
var (
	// ErrRange indicates a numeric value does not fit the requested byte width
	ErrRange = errors.New("value out of range")

	// ErrFormat indicates input that cannot be decomposed into host and port
	ErrFormat = errors.New("malformed address")
)

// hostnameRe matches RFC 1035 style hostnames: dot-separated labels of
// 1-63 alphanumeric/hyphen characters with no leading or trailing hyphen
var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// EncodeUint encodes value into exactly length bytes using the given byte
// order. It fails with ErrRange if length is below 1 or if value exceeds
// the maximum unsigned integer representable in that many bytes.
func EncodeUint(value uint64, length int, order binary.ByteOrder) ([]byte, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: byte length must be at least 1, got %d", ErrRange, length)
	}
	if length < 8 {
		if max := uint64(1)<<(8*uint(length)) - 1; value > max {
			return nil, fmt.Errorf("%w: %d does not fit in %d byte(s)", ErrRange, value, length)
		}
	}

	full := make([]byte, 8)
	order.PutUint64(full, value)

	b := make([]byte, length)
	little := order == binary.ByteOrder(binary.LittleEndian)
	switch {
	case length >= 8 && little:
		copy(b, full)
	case length >= 8:
		copy(b[length-8:], full)
	case little:
		copy(b, full[:length])
	default:
		copy(b, full[8-length:])
	}

	return b, nil
}

// IsValidPort reports whether n is a valid TCP/UDP port number
func IsValidPort(n int) bool {
	return n >= 0 && n <= 65535
}

// IsValidHostname reports whether s is a syntactically valid hostname:
// total length 1-253 and every label 1-63 characters
func IsValidHostname(s string) bool {
	if len(s) < 1 || len(s) > 253 {
		return false
	}
	return hostnameRe.MatchString(s)
}

// ParseAddress parses a URI or host:port pair into an Address.
//
// Accepted forms:
//
//	example.com:8080          explicit port
//	example.com               port defaults to 80
//	https://example.com       port defaults to 443 for secure schemes
//	[::1]:8080                bracketed IPv6 with port
//
// It fails with ErrFormat if the input cannot be decomposed into a host
// and a port. Domain hosts are kept as raw bytes; length and charset
// validation is left to IsValidHostname.
func ParseAddress(s string) (*Address, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty input", ErrFormat)
	}

	host := s
	port := 80

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("%w: %q", ErrFormat, s)
		}
		host = u.Hostname()
		switch {
		case u.Port() != "":
			port, err = strconv.Atoi(u.Port())
			if err != nil {
				return nil, fmt.Errorf("%w: bad port in %q", ErrFormat, s)
			}
		case isSecureScheme(u.Scheme):
			port = 443
		}
	} else if h, p, err := net.SplitHostPort(s); err == nil {
		host = h
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: bad port in %q", ErrFormat, s)
		}
	} else if net.ParseIP(s) == nil && strings.Contains(s, ":") {
		// Not host:port and not a bare IPv6 literal
		return nil, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	if host == "" || !IsValidPort(port) {
		return nil, fmt.Errorf("%w: %q", ErrFormat, s)
	}

	return NewAddress(host, uint16(port)), nil
}

func isSecureScheme(scheme string) bool {
	switch strings.ToLower(scheme) {
	case "https", "wss", "tls":
		return true
	}
	return false
}
