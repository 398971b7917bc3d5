package call

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/tully-8888/video-chat-app/pkg/signaling"
	"github.com/tully-8888/video-chat-app/pkg/transport"
)

// PeerState tracks a remote peer's connection phase
type PeerState int

const (
	// PeerStateCreated means the link exists but no media flows yet
	PeerStateCreated PeerState = iota
	// PeerStateSignaling means descriptions are being exchanged
	PeerStateSignaling
	// PeerStateConnected means media or the connected event arrived
	PeerStateConnected
	// PeerStateRecreating means the link is being torn down and rebuilt
	PeerStateRecreating
	// PeerStateClosed is terminal; the record is removed
	PeerStateClosed
)

func (s PeerState) String() string {
	switch s {
	case PeerStateCreated:
		return "created"
	case PeerStateSignaling:
		return "signaling"
	case PeerStateConnected:
		return "connected"
	case PeerStateRecreating:
		return "recreating"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type peerRecord struct {
	id        string
	initiator bool
	state     PeerState
	link      Link
	gen       uint64
	track     *webrtc.TrackRemote
	streamID  string
}

// PeerInfo is the read-only view of one peer record exposed to the
// surrounding application
type PeerInfo struct {
	ID        string
	Initiator bool
	State     PeerState
	StreamID  string
}

// Orchestrator owns the set of peer links for the local participant. It
// consumes relay notifications, decides initiator and responder roles,
// routes signaling payloads to the right link, and exposes the join and
// quality-control operations.
//
// The tie-break rule: the joining side initiates toward every member it
// finds already in the room (existing_room), and existing members respond
// to newcomers (user_joined). Exactly one side of any pair initiates,
// determined solely by join order.
//
// All map mutations happen under one mutex; link events arriving from
// pion goroutines funnel through the same serialization point.
type Orchestrator struct {
	mu sync.Mutex

	log     logging.LeveledLogger
	channel transport.Channel
	factory LinkFactory

	joined      bool
	joinPending bool
	roomID      string
	localID     string

	peers   map[string]*peerRecord
	pending *signalBuffer
	genSeq  uint64

	onJoined      func(roomID string)
	onPeerStream  func(peerID string, track *webrtc.TrackRemote, streamID string)
	onPeerClosed  func(peerID string)
	onServerError func(message string)
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger overrides the default logger
func WithLogger(log logging.LeveledLogger) Option {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// WithSignalBuffer tunes the bounded buffer holding signals that arrive
// before their peer record exists
func WithSignalBuffer(perSender int, maxAge time.Duration) Option {
	return func(o *Orchestrator) {
		o.pending = newSignalBuffer(perSender, maxAge)
	}
}

// NewOrchestrator creates an orchestrator on top of an open channel
func NewOrchestrator(channel transport.Channel, factory LinkFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:     logging.NewDefaultLoggerFactory().NewLogger("call"),
		channel: channel,
		factory: factory,
		peers:   make(map[string]*peerRecord),
		pending: newSignalBuffer(defaultPendingPerSender, defaultPendingMaxAge),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetOnJoined sets the callback fired when the relay acknowledges a join
func (o *Orchestrator) SetOnJoined(fn func(roomID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onJoined = fn
}

// SetOnPeerStream sets the callback fired when a remote stream arrives
func (o *Orchestrator) SetOnPeerStream(fn func(peerID string, track *webrtc.TrackRemote, streamID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onPeerStream = fn
}

// SetOnPeerClosed sets the callback fired when a peer record is removed
func (o *Orchestrator) SetOnPeerClosed(fn func(peerID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onPeerClosed = fn
}

// SetOnServerError sets the callback fired on relay error messages
func (o *Orchestrator) SetOnServerError(fn func(message string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onServerError = fn
}

// Run drives the channel's read loop until the channel closes. A broken
// channel triggers the full cleanup cascade; the caller may dial a fresh
// channel and join again.
func (o *Orchestrator) Run() error {
	for {
		data, err := o.channel.Recv()
		if err != nil {
			o.LeaveRoom()
			return err
		}
		env, err := signaling.Decode(data)
		if err != nil {
			o.log.Debugf("ignoring malformed message: %v", err)
			continue
		}
		o.handleEnvelope(env)
	}
}

// JoinRoom sends the join request. The join is confirmed asynchronously
// by the relay's join_ack; an error message instead rolls the attempt
// back.
func (o *Orchestrator) JoinRoom(roomID, participantID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.channel.State() != transport.StateOpen {
		return ErrNotConnected
	}
	if o.joined || o.joinPending {
		return ErrAlreadyJoined
	}

	if err := o.sendLocked(signaling.MessageTypeJoin, signaling.JoinPayload{
		ParticipantID: participantID,
		RoomID:        roomID,
	}); err != nil {
		return err
	}

	o.joinPending = true
	o.roomID = roomID
	o.localID = participantID
	return nil
}

// LeaveRoom synchronously destroys every peer link and clears all call
// state, regardless of negotiation phase. The channel stays open; the
// relay infers departure from channel closure or a later join.
func (o *Orchestrator) LeaveRoom() {
	o.mu.Lock()
	records := make([]*peerRecord, 0, len(o.peers))
	for _, rec := range o.peers {
		records = append(records, rec)
	}
	o.peers = make(map[string]*peerRecord)
	o.pending.clear()
	o.joined = false
	o.joinPending = false
	o.roomID = ""
	o.localID = ""
	o.mu.Unlock()

	for _, rec := range records {
		if rec.link != nil {
			rec.link.Close()
		}
	}
}

// Joined reports whether the relay has acknowledged a join
func (o *Orchestrator) Joined() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joined
}

// inRoom reports whether a join is confirmed or in flight. Room events
// arriving outside that window are leftovers from a departed room and
// must not grow the peer map.
func (o *Orchestrator) inRoom() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joined || o.joinPending
}

// RoomID returns the room of the current (or pending) join
func (o *Orchestrator) RoomID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.roomID
}

// Peers returns a read-only snapshot of the peer map, sorted by id
func (o *Orchestrator) Peers() []PeerInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]PeerInfo, 0, len(o.peers))
	for _, rec := range o.peers {
		infos = append(infos, PeerInfo{
			ID:        rec.id,
			Initiator: rec.initiator,
			State:     rec.state,
			StreamID:  rec.streamID,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (o *Orchestrator) handleEnvelope(env signaling.Envelope) {
	switch env.Type {
	case signaling.MessageTypeJoinAck:
		o.handleJoinAck(env)
	case signaling.MessageTypeExistingRoom:
		o.handleExistingRoom(env)
	case signaling.MessageTypeUserJoined:
		o.handleUserJoined(env)
	case signaling.MessageTypeUserLeft:
		o.handleUserLeft(env)
	case signaling.MessageTypeSignal:
		o.handleSignal(env)
	case signaling.MessageTypeReconnectRequest:
		o.handleReconnectRequest(env)
	case signaling.MessageTypeError:
		o.handleServerError(env)
	default:
		o.log.Debugf("ignoring message type %s", env.Type)
	}
}

func (o *Orchestrator) handleJoinAck(env signaling.Envelope) {
	var ack signaling.JoinAckPayload
	if err := env.DecodePayload(&ack); err != nil {
		o.log.Warnf("bad join_ack: %v", err)
		return
	}

	o.mu.Lock()
	if !o.joinPending {
		o.mu.Unlock()
		return
	}
	o.joinPending = false
	o.joined = true
	cb := o.onJoined
	o.mu.Unlock()

	o.log.Infof("joined room %s", ack.RoomID)
	if cb != nil {
		cb(ack.RoomID)
	}
}

// handleExistingRoom seeds one initiator link per pre-existing member
func (o *Orchestrator) handleExistingRoom(env signaling.Envelope) {
	if !o.inRoom() {
		o.log.Debugf("ignoring existing_room outside a room")
		return
	}
	var existing signaling.ExistingRoomPayload
	if err := env.DecodePayload(&existing); err != nil {
		o.log.Warnf("bad existing_room: %v", err)
		return
	}

	o.mu.Lock()
	localID := o.localID
	o.mu.Unlock()

	for _, memberID := range existing.MemberIDs {
		if memberID == localID {
			continue
		}
		o.addPeer(memberID, true)
	}
}

// handleUserJoined creates a responder link for the newcomer
func (o *Orchestrator) handleUserJoined(env signaling.Envelope) {
	if !o.inRoom() {
		o.log.Debugf("ignoring user_joined outside a room")
		return
	}
	var joined signaling.UserJoinedPayload
	if err := env.DecodePayload(&joined); err != nil {
		o.log.Warnf("bad user_joined: %v", err)
		return
	}
	o.addPeer(joined.ParticipantID, false)
}

func (o *Orchestrator) handleUserLeft(env signaling.Envelope) {
	var left signaling.UserLeftPayload
	if err := env.DecodePayload(&left); err != nil {
		o.log.Warnf("bad user_left: %v", err)
		return
	}
	// A no-op when the peer already self-closed.
	o.removePeer(left.ParticipantID)
}

// handleSignal routes a signaling blob to its peer link, or buffers it
// when the link does not exist yet
func (o *Orchestrator) handleSignal(env signaling.Envelope) {
	if !o.inRoom() {
		o.log.Debugf("ignoring signal outside a room")
		return
	}
	var sig signaling.SignalPayload
	if err := env.DecodePayload(&sig); err != nil {
		o.log.Warnf("bad signal: %v", err)
		return
	}

	o.mu.Lock()
	rec, ok := o.peers[sig.SenderID]
	var link Link
	if ok && rec.link != nil {
		link = rec.link
		if rec.state == PeerStateCreated {
			rec.state = PeerStateSignaling
		}
	} else {
		o.pending.add(sig.SenderID, sig.Data)
	}
	o.mu.Unlock()

	if link == nil {
		o.log.Debugf("buffered signal from unknown peer %s", sig.SenderID)
		return
	}
	if err := link.Accept(sig.Data); err != nil {
		o.log.Warnf("signal from %s rejected: %v", sig.SenderID, err)
	}
}

// handleReconnectRequest replaces the peer's link with a fresh responder
// so the remote side can run a new initiator handshake
func (o *Orchestrator) handleReconnectRequest(env signaling.Envelope) {
	if !o.inRoom() {
		o.log.Debugf("ignoring reconnect_request outside a room")
		return
	}
	var req signaling.ReconnectRequestPayload
	if err := env.DecodePayload(&req); err != nil {
		o.log.Warnf("bad reconnect_request: %v", err)
		return
	}

	o.log.Infof("reconnect requested by %s", req.UserID)
	o.removePeer(req.UserID)
	o.addPeer(req.UserID, false)
}

func (o *Orchestrator) handleServerError(env signaling.Envelope) {
	var srvErr signaling.ErrorPayload
	if err := env.DecodePayload(&srvErr); err != nil {
		o.log.Warnf("bad error message: %v", err)
		return
	}

	o.mu.Lock()
	if o.joinPending {
		// The join was rejected; roll the optimistic state back.
		o.joinPending = false
		o.roomID = ""
		o.localID = ""
	}
	cb := o.onServerError
	o.mu.Unlock()

	o.log.Warnf("relay error: %s", srvErr.Message)
	if cb != nil {
		cb(srvErr.Message)
	}
}

// addPeer creates a record and link for a remote participant. Duplicate
// notifications for an existing peer are ignored, which keeps the
// initiator/responder tie-break stable when notifications race.
func (o *Orchestrator) addPeer(remoteID string, initiator bool) {
	o.mu.Lock()
	if _, exists := o.peers[remoteID]; exists {
		o.mu.Unlock()
		return
	}
	o.genSeq++
	gen := o.genSeq
	rec := &peerRecord{id: remoteID, initiator: initiator, state: PeerStateCreated, gen: gen}
	o.peers[remoteID] = rec
	o.mu.Unlock()

	link, err := o.factory(remoteID, initiator, func(ev PeerEvent) {
		o.handlePeerEvent(remoteID, gen, ev)
	})
	if err != nil {
		o.log.Errorf("creating link to %s: %v", remoteID, err)
		o.mu.Lock()
		delete(o.peers, remoteID)
		o.mu.Unlock()
		return
	}

	o.mu.Lock()
	current, ok := o.peers[remoteID]
	if !ok || current != rec {
		// The peer left while the link was being built.
		o.mu.Unlock()
		link.Close()
		return
	}
	rec.link = link
	replay := o.pending.take(remoteID)
	if initiator || len(replay) > 0 {
		rec.state = PeerStateSignaling
	}
	o.mu.Unlock()

	for _, data := range replay {
		if err := link.Accept(data); err != nil {
			o.log.Warnf("replayed signal for %s rejected: %v", remoteID, err)
		}
	}

	if initiator {
		if err := link.StartNegotiation(); err != nil {
			o.log.Errorf("negotiation with %s failed to start: %v", remoteID, err)
			o.removePeer(remoteID)
		}
	}

	o.log.Infof("peer %s added (initiator=%t)", remoteID, initiator)
}

// removePeer destroys the peer's link and drops the record. Safe to call
// for unknown peers.
func (o *Orchestrator) removePeer(remoteID string) {
	o.removePeerGen(remoteID, 0)
}

// removePeerGen removes the record only while its link generation still
// matches; zero matches any generation. Stale events from a replaced
// link carry the old generation and miss here.
func (o *Orchestrator) removePeerGen(remoteID string, gen uint64) {
	o.mu.Lock()
	rec, ok := o.peers[remoteID]
	if !ok || (gen != 0 && rec.gen != gen) {
		o.mu.Unlock()
		return
	}
	delete(o.peers, remoteID)
	o.pending.drop(remoteID)
	rec.state = PeerStateClosed
	link := rec.link
	cb := o.onPeerClosed
	o.mu.Unlock()

	if link != nil {
		link.Close()
	}
	if cb != nil {
		cb(remoteID)
	}
	o.log.Infof("peer %s removed", remoteID)
}

// handlePeerEvent consumes one link's event stream. Events are bound to
// the generation of the link that produced them: a replaced link keeps
// delivering state changes from its own goroutines after Close returns,
// and those must never touch the record's current link.
func (o *Orchestrator) handlePeerEvent(remoteID string, gen uint64, ev PeerEvent) {
	switch ev.Kind {
	case PeerEventSignalProduced:
		o.sendSignal(remoteID, gen, ev.Signal)

	case PeerEventStreamReceived:
		o.mu.Lock()
		rec, ok := o.peers[remoteID]
		if !ok || rec.gen != gen {
			o.mu.Unlock()
			return
		}
		rec.track = ev.Track
		rec.streamID = ev.StreamID
		rec.state = PeerStateConnected
		cb := o.onPeerStream
		o.mu.Unlock()

		if cb != nil {
			cb(remoteID, ev.Track, ev.StreamID)
		}

	case PeerEventConnected:
		o.mu.Lock()
		if rec, ok := o.peers[remoteID]; ok && rec.gen == gen && rec.state != PeerStateRecreating {
			rec.state = PeerStateConnected
		}
		o.mu.Unlock()

	case PeerEventClosed, PeerEventErrored:
		if ev.Kind == PeerEventErrored {
			o.log.Warnf("peer %s errored: %v", remoteID, ev.Err)
		}
		o.removePeerGen(remoteID, gen)
	}
}

// sendSignal forwards an outbound blob to the remote peer via the relay,
// dropping blobs from links that have since been replaced
func (o *Orchestrator) sendSignal(remoteID string, gen uint64, data json.RawMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.peers[remoteID]
	if !ok || rec.gen != gen {
		return
	}

	if err := o.sendLocked(signaling.MessageTypeSignal, signaling.SignalPayload{
		ReceiverID: remoteID,
		Data:       data,
	}); err != nil {
		o.log.Warnf("sending signal to %s: %v", remoteID, err)
	}
}

func (o *Orchestrator) sendLocked(t signaling.MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return o.channel.Send(signaling.Envelope{Type: t, Payload: data})
}
