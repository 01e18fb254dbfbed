package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/nerrad567/rflink-core/internal/rflink"
)

// TCP is a network gateway link, used for gateways exposed over ser2net
// or an ESP serial bridge.
type TCP struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewTCP creates an unopened TCP transport for a host:port address.
func NewTCP(host string, port int) *TCP {
	return &TCP{addr: net.JoinHostPort(host, fmt.Sprintf("%d", port))}
}

// Connect dials the gateway, closing any previous connection first.
func (t *TCP) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	return nil
}

// Read reads received bytes from the socket.
func (t *TCP) Read(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, rflink.ErrNotConnected
	}
	return conn.Read(p)
}

// Write sends bytes to the socket.
func (t *TCP) Write(p []byte) (int, error) {
	conn := t.current()
	if conn == nil {
		return 0, rflink.ErrNotConnected
	}
	return conn.Write(p)
}

// Close closes the socket, unblocking pending reads.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// String describes the endpoint for logs.
func (t *TCP) String() string {
	return "tcp:" + t.addr
}

func (t *TCP) current() net.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}
