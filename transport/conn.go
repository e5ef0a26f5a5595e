// Package transport provides the unreliable datagram channel the clocksync
// messages ride on. The simulation core never blocks on the
// network: receiving is a non-blocking drain of whatever arrived since the
// last frame.
package transport

// PacketConn is one end of an unreliable, unordered datagram channel.
// Payloads are copied on send; the caller's buffer is never aliased.
type PacketConn interface {
	// Send dispatches one datagram. Losing it is not an error.
	Send(payload []byte) error
	// Receive returns the next pending datagram, if any, without blocking.
	Receive() ([]byte, bool)
	// Close releases the channel.
	Close() error
}
