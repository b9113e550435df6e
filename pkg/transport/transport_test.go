package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// deadlineConn is the optional surface the relays use for idle-timeout
// enforcement. Every carrier must expose it, not just plain TCP.
type deadlineConn interface {
	Connection
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

var (
	_ deadlineConn = (*WebSocketConnection)(nil)
	_ deadlineConn = (*QUICConnection)(nil)
	_ deadlineConn = (*net.TCPConn)(nil)
)

func TestNewSelectsTransportByName(t *testing.T) {
	assert.Equal(t, "tcp", New("").Name())
	assert.Equal(t, "tcp", New("tcp").Name())
	assert.Equal(t, "websocket", New("ws").Name())
	assert.Equal(t, "websocket", New("websocket").Name())
	assert.Equal(t, "quic", New("quic").Name())
}
