package call

import "errors"

var (
	// ErrNotConnected indicates the transport channel is not open
	ErrNotConnected = errors.New("transport channel is not open")

	// ErrAlreadyJoined indicates the orchestrator is already in a room
	ErrAlreadyJoined = errors.New("already joined a room")

	// ErrLinkClosed indicates the peer link has been closed
	ErrLinkClosed = errors.New("peer link is closed")

	// ErrNoVideoSender indicates the link has no outgoing video transmission
	ErrNoVideoSender = errors.New("no outgoing video sender")

	// ErrConnectionFailed indicates the WebRTC connection failed
	ErrConnectionFailed = errors.New("connection failed")

	// ErrICEFailed indicates ICE connectivity was lost
	ErrICEFailed = errors.New("ICE connection failed")

	// ErrUnknownSignal indicates an unrecognized peer signaling blob
	ErrUnknownSignal = errors.New("unknown signal type")
)
