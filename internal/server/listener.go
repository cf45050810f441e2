package server

import (
	"fmt"
	"net"

	"github.com/google/uuid"

	"http-forward-go/internal/descriptor"
)

// Listen binds the listen descriptor. Every connection it accepts carries a
// fresh correlation id, readable with ConnIDOf.
func Listen(d descriptor.Descriptor) (net.Listener, error) {
	addr := d.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	return &trackedListener{Listener: ln}, nil
}

type trackedListener struct {
	net.Listener
}

func (l *trackedListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &trackedConn{Conn: c, id: uuid.New().String()}, nil
}

type trackedConn struct {
	net.Conn
	id string
}

// ConnIDOf returns the correlation id of a connection accepted by a listener
// from Listen, or "" for any other connection.
func ConnIDOf(c net.Conn) string {
	if tc, ok := c.(*trackedConn); ok {
		return tc.id
	}
	return ""
}
