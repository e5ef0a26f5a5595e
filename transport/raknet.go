package transport

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/sandertv/go-raknet"
)

// RaknetConn adapts a RakNet connection to the PacketConn surface. RakNet
// keeps datagram boundaries, so one Write is one Receive on the far side; a
// background reader drains the socket into a bounded inbox so Receive never
// blocks the simulation thread.
type RaknetConn struct {
	conn  net.Conn
	inbox chan []byte
	done  chan struct{}
}

const raknetInboxSize = 256

func newRaknetConn(conn net.Conn, log *slog.Logger) *RaknetConn {
	c := &RaknetConn{
		conn:  conn,
		inbox: make(chan []byte, raknetInboxSize),
		done:  make(chan struct{}),
	}
	go c.read(log)
	return c
}

// DialRaknet connects to a listening peer.
func DialRaknet(address string, log *slog.Logger) (*RaknetConn, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := raknet.Dial(address)
	if err != nil {
		return nil, fmt.Errorf("dial raknet: %w", err)
	}
	return newRaknetConn(conn, log), nil
}

// RaknetListener accepts RakNet peers as PacketConns.
type RaknetListener struct {
	l   *raknet.Listener
	log *slog.Logger
}

// ListenRaknet starts listening on the address.
func ListenRaknet(address string, log *slog.Logger) (*RaknetListener, error) {
	if log == nil {
		log = slog.Default()
	}
	l, err := raknet.Listen(address)
	if err != nil {
		return nil, fmt.Errorf("listen raknet: %w", err)
	}
	return &RaknetListener{l: l, log: log}, nil
}

// Accept blocks until the next peer connects.
func (l *RaknetListener) Accept() (*RaknetConn, error) {
	conn, err := l.l.Accept()
	if err != nil {
		return nil, fmt.Errorf("accept raknet: %w", err)
	}
	return newRaknetConn(conn, l.log), nil
}

// Close stops the listener.
func (l *RaknetListener) Close() error { return l.l.Close() }

func (c *RaknetConn) read(log *slog.Logger) {
	buf := make([]byte, 1500)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Debug("raknet read ended", "err", err)
			}
			return
		}
		payload := make([]byte, n)
		copy(payload, buf[:n])
		select {
		case c.inbox <- payload:
		default:
			// Inbox full: drop, as any congested unreliable link would.
		}
	}
}

// Send dispatches one datagram to the peer.
func (c *RaknetConn) Send(payload []byte) error {
	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("raknet send: %w", err)
	}
	return nil
}

// Receive returns the next datagram the reader has drained, if any.
func (c *RaknetConn) Receive() ([]byte, bool) {
	select {
	case payload := <-c.inbox:
		return payload, true
	default:
		return nil, false
	}
}

// Close tears the connection down and stops the reader.
func (c *RaknetConn) Close() error {
	close(c.done)
	return c.conn.Close()
}
