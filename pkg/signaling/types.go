package signaling

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a signaling message on the wire
type MessageType string

const (
	// MessageTypeJoin is a client request to join a room
	MessageTypeJoin MessageType = "join"
	// MessageTypeJoinAck confirms a successful join to the joining client
	MessageTypeJoinAck MessageType = "join_ack"
	// MessageTypeExistingRoom carries the member set seen by a joining client
	MessageTypeExistingRoom MessageType = "existing_room"
	// MessageTypeUserJoined announces a new room member
	MessageTypeUserJoined MessageType = "user_joined"
	// MessageTypeUserLeft announces a departed room member
	MessageTypeUserLeft MessageType = "user_left"
	// MessageTypeSignal carries an opaque peer-to-peer signaling blob
	MessageTypeSignal MessageType = "signal"
	// MessageTypeReconnectRequest asks a peer to expect a fresh handshake
	MessageTypeReconnectRequest MessageType = "reconnect_request"
	// MessageTypeError reports a protocol error to a single client
	MessageTypeError MessageType = "error"
)

// Envelope is the outer shape of every message exchanged with the relay.
// The payload is decoded separately, per message type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload identifies the joining participant and the target room
type JoinPayload struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
}

// JoinAckPayload confirms the room the participant was admitted to
type JoinAckPayload struct {
	RoomID string `json:"roomId"`
}

// ExistingRoomPayload lists the members already present, excluding the joiner
type ExistingRoomPayload struct {
	MemberIDs []string `json:"memberIds"`
}

// UserJoinedPayload announces a newly joined member
type UserJoinedPayload struct {
	ParticipantID string `json:"participantId"`
}

// UserLeftPayload announces a departed member
type UserLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

// SignalPayload carries signaling data between two peers.
// The relay never inspects Data; only the ids are read for routing.
// ReceiverID is set by the sender, SenderID by the relay on forwarding.
type SignalPayload struct {
	SenderID   string          `json:"senderId,omitempty"`
	ReceiverID string          `json:"receiverId,omitempty"`
	Data       json.RawMessage `json:"signalPayload"`
}

// ReconnectRequestPayload tells TargetID that UserID will tear down the
// existing connection and initiate a fresh handshake
type ReconnectRequestPayload struct {
	UserID   string `json:"userId"`
	TargetID string `json:"targetId"`
}

// ErrorPayload describes a protocol-level rejection
type ErrorPayload struct {
	Message string `json:"message"`
}

// Encode marshals a typed payload into a wire-ready envelope
func Encode(t MessageType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = data
	}
	return json.Marshal(env)
}

// Decode parses the outer envelope without touching the payload
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into a typed struct
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("decode %s payload: empty", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
