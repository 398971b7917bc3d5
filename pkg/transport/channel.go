package transport

import "encoding/json"

// ConnState describes the lifecycle of a channel
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Channel is a persistent, ordered, message-based duplex connection
// between a client and the relay. Messages are JSON objects.
//
// Recv must be called from a single goroutine. Send is safe for
// concurrent use and never blocks on the network; outbound messages are
// queued and written by a dedicated writer.
type Channel interface {
	// Send marshals v and queues it for delivery.
	Send(v any) error
	// Recv returns the next inbound message, blocking until one arrives.
	// It returns an error once the channel is closed or broken.
	Recv() (json.RawMessage, error)
	// State reports the current connection state.
	State() ConnState
	// Close tears the channel down. Safe to call more than once.
	Close() error
}
