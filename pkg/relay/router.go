package relay

import (
	"encoding/json"
	"fmt"

	"github.com/pion/logging"

	"github.com/tully-8888/video-chat-app/pkg/signaling"
	"github.com/tully-8888/video-chat-app/pkg/transport"
)

// Router interprets inbound messages from one channel at a time against
// the shared Registry and fans results out to other channels. It keeps
// no state of its own; one instance serves every connection.
//
// Per-channel message order is preserved: ServeChannel processes messages
// in arrival order on the caller's goroutine. No ordering is guaranteed
// across channels.
type Router struct {
	registry *Registry
	log      logging.LeveledLogger
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithRouterLogger overrides the default logger
func WithRouterLogger(log logging.LeveledLogger) RouterOption {
	return func(rt *Router) {
		rt.log = log
	}
}

// NewRouter creates a router on top of the given registry
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	rt := &Router{
		registry: registry,
		log:      logging.NewDefaultLoggerFactory().NewLogger("relay"),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// ServeChannel drives one channel's read loop until the channel closes
// or errors. Channel close is treated as an implicit leave: if a
// participant was associated with the channel, survivors of its room are
// notified with user_left.
func (rt *Router) ServeChannel(ch transport.Channel) {
	var participantID string

	for {
		data, err := ch.Recv()
		if err != nil {
			break
		}

		env, err := signaling.Decode(data)
		if err != nil {
			// Malformed input is ignored per message; the channel lives on.
			rt.log.Debugf("ignoring malformed message: %v", err)
			continue
		}

		switch env.Type {
		case signaling.MessageTypeJoin:
			id, closeChannel := rt.handleJoin(ch, participantID, env)
			if closeChannel {
				ch.Close()
			}
			if id != "" {
				participantID = id
			}
		case signaling.MessageTypeSignal:
			rt.handleSignal(ch, participantID, env)
		case signaling.MessageTypeReconnectRequest:
			rt.handleReconnectRequest(ch, participantID, env)
		default:
			rt.sendError(ch, fmt.Sprintf("Unknown message type: %s", env.Type))
		}
	}

	rt.disconnect(participantID)
}

// handleJoin validates and executes a join. It returns the participant
// identifier now associated with the channel (empty on failure) and
// whether the channel must be closed (duplicate identifier).
func (rt *Router) handleJoin(ch transport.Channel, current string, env signaling.Envelope) (string, bool) {
	var join signaling.JoinPayload
	if err := env.DecodePayload(&join); err != nil {
		rt.sendError(ch, "join requires participantId and roomId")
		return "", false
	}
	if join.ParticipantID == "" {
		rt.sendError(ch, "join is missing participantId")
		return "", false
	}
	if join.RoomID == "" {
		rt.sendError(ch, "join is missing roomId")
		return "", false
	}

	// A repeated join from the channel's own participant falls through to
	// the idempotent room join. A join under a different identifier on a
	// channel that already has one is refused without side effects, and a
	// collision with another channel's identifier closes this channel.
	if join.ParticipantID != current {
		if current != "" {
			rt.sendError(ch, fmt.Sprintf("Channel is already joined as %q", current))
			return "", false
		}
		if err := rt.registry.Register(join.ParticipantID, ch); err != nil {
			rt.sendError(ch, fmt.Sprintf("Participant id %q already in use", join.ParticipantID))
			return "", true
		}
	}

	members, prior, err := rt.registry.JoinRoom(join.ParticipantID, join.RoomID)
	if err != nil {
		rt.sendError(ch, err.Error())
		return "", false
	}

	// Survivors of a room the participant moved out of see a normal leave.
	for _, memberID := range prior {
		target, err := rt.registry.Lookup(memberID)
		if err != nil {
			continue
		}
		rt.send(target, signaling.MessageTypeUserLeft, signaling.UserLeftPayload{
			ParticipantID: join.ParticipantID,
		})
	}

	rt.send(ch, signaling.MessageTypeJoinAck, signaling.JoinAckPayload{RoomID: join.RoomID})
	rt.send(ch, signaling.MessageTypeExistingRoom, signaling.ExistingRoomPayload{MemberIDs: members})

	for _, memberID := range members {
		target, err := rt.registry.Lookup(memberID)
		if err != nil {
			continue
		}
		rt.send(target, signaling.MessageTypeUserJoined, signaling.UserJoinedPayload{
			ParticipantID: join.ParticipantID,
		})
	}

	rt.log.Infof("participant %s joined room %s (%d existing members)",
		join.ParticipantID, join.RoomID, len(members))
	return join.ParticipantID, false
}

// handleSignal forwards an opaque signaling blob point-to-point. Unknown
// or unwritable receivers are dropped silently: the relay never queues,
// retries, or reports routing misses.
func (rt *Router) handleSignal(ch transport.Channel, senderID string, env signaling.Envelope) {
	if senderID == "" {
		rt.sendError(ch, "signal requires a prior join")
		return
	}

	var sig signaling.SignalPayload
	if err := env.DecodePayload(&sig); err != nil {
		rt.sendError(ch, "signal requires receiverId and signalPayload")
		return
	}

	target, err := rt.registry.Lookup(sig.ReceiverID)
	if err != nil || target.State() != transport.StateOpen {
		rt.log.Debugf("dropping signal from %s to unreachable %s", senderID, sig.ReceiverID)
		return
	}

	rt.send(target, signaling.MessageTypeSignal, signaling.SignalPayload{
		SenderID: senderID,
		Data:     sig.Data,
	})
}

// handleReconnectRequest forwards a reconnect announcement to its target
// with the same fire-and-forget semantics as signal.
func (rt *Router) handleReconnectRequest(ch transport.Channel, senderID string, env signaling.Envelope) {
	if senderID == "" {
		rt.sendError(ch, "reconnect_request requires a prior join")
		return
	}

	var req signaling.ReconnectRequestPayload
	if err := env.DecodePayload(&req); err != nil {
		rt.sendError(ch, "reconnect_request requires userId and targetId")
		return
	}

	target, err := rt.registry.Lookup(req.TargetID)
	if err != nil || target.State() != transport.StateOpen {
		rt.log.Debugf("dropping reconnect_request from %s to unreachable %s", senderID, req.TargetID)
		return
	}

	rt.send(target, signaling.MessageTypeReconnectRequest, signaling.ReconnectRequestPayload{
		UserID:   senderID,
		TargetID: req.TargetID,
	})
}

// disconnect runs the implicit-leave cascade for a closed channel
func (rt *Router) disconnect(participantID string) {
	if participantID == "" {
		return
	}

	roomID, remaining := rt.registry.Leave(participantID)
	if roomID == "" {
		return
	}

	for _, memberID := range remaining {
		target, err := rt.registry.Lookup(memberID)
		if err != nil {
			continue
		}
		rt.send(target, signaling.MessageTypeUserLeft, signaling.UserLeftPayload{
			ParticipantID: participantID,
		})
	}

	rt.log.Infof("participant %s left room %s (%d remaining)", participantID, roomID, len(remaining))
}

func (rt *Router) send(ch transport.Channel, t signaling.MessageType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		rt.log.Errorf("encode %s: %v", t, err)
		return
	}
	env := signaling.Envelope{Type: t, Payload: data}
	if err := ch.Send(env); err != nil {
		rt.log.Debugf("send %s failed: %v", t, err)
	}
}

func (rt *Router) sendError(ch transport.Channel, message string) {
	rt.send(ch, signaling.MessageTypeError, signaling.ErrorPayload{Message: message})
}
