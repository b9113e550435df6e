package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Address type tags on the wire (same layout as SOCKS5 / shadowsocks)
const (
	AddrTypeIPv4   = 0x01
	AddrTypeDomain = 0x03
	AddrTypeIPv6   = 0x04

	// Wire sizes: type byte, fixed host encodings, 2-byte port
	portSize     = 2
	minAddrSize  = 1 + 1 + portSize // type + shortest (1-char domain needs len byte too)
	maxDomainLen = 255
)

// AddressType identifies how the host bytes of an Address are encoded
type AddressType byte

func (t AddressType) String() string {
	switch t {
	case AddrTypeIPv4:
		return "ipv4"
	case AddrTypeDomain:
		return "domain"
	case AddrTypeIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Address is a typed network address: an IPv4/IPv6 literal or a domain
// name, plus a port. Host holds 4 bytes, 16 bytes, or the raw domain.
type Address struct {
	Type AddressType
	Host []byte
	Port uint16
}

// NewAddress builds an Address from a host string and port, classifying
// the host as IPv4, IPv6, or domain
func NewAddress(host string, port uint16) *Address {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return &Address{Type: AddrTypeIPv4, Host: ip4, Port: port}
		}
		return &Address{Type: AddrTypeIPv6, Host: ip.To16(), Port: port}
	}
	return &Address{Type: AddrTypeDomain, Host: []byte(host), Port: port}
}

// HostString returns the host part in printable form
func (a *Address) HostString() string {
	switch a.Type {
	case AddrTypeIPv4, AddrTypeIPv6:
		return net.IP(a.Host).String()
	default:
		return string(a.Host)
	}
}

// String returns host:port, bracketing IPv6 literals
func (a *Address) String() string {
	return net.JoinHostPort(a.HostString(), fmt.Sprintf("%d", a.Port))
}

// Marshal encodes the address in wire form:
//
//	[1-byte type][host: 4 bytes | 1-byte len + domain | 16 bytes][2-byte BE port]
func (a *Address) Marshal() ([]byte, error) {
	var buf []byte

	switch a.Type {
	case AddrTypeIPv4:
		if len(a.Host) != net.IPv4len {
			return nil, fmt.Errorf("%w: ipv4 host must be 4 bytes, got %d", ErrFormat, len(a.Host))
		}
		buf = make([]byte, 0, 1+net.IPv4len+portSize)
		buf = append(buf, AddrTypeIPv4)
		buf = append(buf, a.Host...)
	case AddrTypeIPv6:
		if len(a.Host) != net.IPv6len {
			return nil, fmt.Errorf("%w: ipv6 host must be 16 bytes, got %d", ErrFormat, len(a.Host))
		}
		buf = make([]byte, 0, 1+net.IPv6len+portSize)
		buf = append(buf, AddrTypeIPv6)
		buf = append(buf, a.Host...)
	case AddrTypeDomain:
		if len(a.Host) < 1 || len(a.Host) > maxDomainLen {
			return nil, fmt.Errorf("%w: domain length %d out of range", ErrFormat, len(a.Host))
		}
		buf = make([]byte, 0, 2+len(a.Host)+portSize)
		buf = append(buf, AddrTypeDomain, byte(len(a.Host)))
		buf = append(buf, a.Host...)
	default:
		return nil, fmt.Errorf("%w: unknown address type %d", ErrFormat, a.Type)
	}

	port, err := EncodeUint(uint64(a.Port), portSize, binary.BigEndian)
	if err != nil {
		return nil, err
	}
	return append(buf, port...), nil
}

// UnmarshalAddress decodes a wire-form address from the front of b and
// returns the address and the number of bytes consumed
func UnmarshalAddress(b []byte) (*Address, int, error) {
	if len(b) < minAddrSize {
		return nil, 0, fmt.Errorf("%w: address header too short (%d bytes)", ErrFormat, len(b))
	}

	addr := &Address{Type: AddressType(b[0])}
	off := 1

	switch addr.Type {
	case AddrTypeIPv4:
		if len(b) < off+net.IPv4len+portSize {
			return nil, 0, fmt.Errorf("%w: truncated ipv4 address", ErrFormat)
		}
		addr.Host = append([]byte(nil), b[off:off+net.IPv4len]...)
		off += net.IPv4len
	case AddrTypeIPv6:
		if len(b) < off+net.IPv6len+portSize {
			return nil, 0, fmt.Errorf("%w: truncated ipv6 address", ErrFormat)
		}
		addr.Host = append([]byte(nil), b[off:off+net.IPv6len]...)
		off += net.IPv6len
	case AddrTypeDomain:
		dlen := int(b[off])
		off++
		if dlen == 0 {
			return nil, 0, fmt.Errorf("%w: zero-length domain", ErrFormat)
		}
		if len(b) < off+dlen+portSize {
			return nil, 0, fmt.Errorf("%w: truncated domain address", ErrFormat)
		}
		addr.Host = append([]byte(nil), b[off:off+dlen]...)
		off += dlen
	default:
		return nil, 0, fmt.Errorf("%w: unknown address type %d", ErrFormat, b[0])
	}

	addr.Port = binary.BigEndian.Uint16(b[off : off+portSize])
	off += portSize

	return addr, off, nil
}
