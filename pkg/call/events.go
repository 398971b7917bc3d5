package call

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// PeerEventKind tags the variants of a peer link's event stream
type PeerEventKind int

const (
	// PeerEventSignalProduced carries an outbound offer/answer/candidate blob
	PeerEventSignalProduced PeerEventKind = iota
	// PeerEventStreamReceived carries a remote media track
	PeerEventStreamReceived
	// PeerEventConnected fires when the connection reaches the connected state
	PeerEventConnected
	// PeerEventClosed fires when the connection closes
	PeerEventClosed
	// PeerEventErrored carries a fatal per-link error
	PeerEventErrored
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerEventSignalProduced:
		return "signal_produced"
	case PeerEventStreamReceived:
		return "stream_received"
	case PeerEventConnected:
		return "connected"
	case PeerEventClosed:
		return "closed"
	case PeerEventErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// PeerEvent is the single event type emitted by a peer link. Consumers
// switch on Kind; only the fields of the matching variant are set.
type PeerEvent struct {
	Kind PeerEventKind

	// SignalProduced
	Signal json.RawMessage

	// StreamReceived
	Track    *webrtc.TrackRemote
	StreamID string

	// Errored
	Err error
}

// SignalData is the payload exchanged between two peer links through the
// relay's signal message. It is opaque to the relay.
type SignalData struct {
	Type      string                   `json:"type"` // offer, answer or candidate
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}
