package call

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/tully-8888/video-chat-app/pkg/media"
)

// Link is one client-to-client connection as the orchestrator sees it:
// it accepts remote signaling blobs, produces its own through the event
// stream, and exposes the two quality-control operations.
type Link interface {
	// StartNegotiation begins the handshake. Only the initiator side
	// produces an offer; for responders it is a no-op.
	StartNegotiation() error
	// Accept applies a remote offer, answer or candidate blob.
	Accept(payload json.RawMessage) error
	// SetMaxBitrate caps the outgoing video bitrate in bits per second.
	SetMaxBitrate(bps int) error
	// ReplaceVideoTrack swaps the outgoing video track without a full
	// connection rebuild.
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// LinkFactory builds a Link toward a remote participant. Events flow to
// emit from the link's own goroutines; the consumer serializes them.
type LinkFactory func(remoteID string, initiator bool, emit func(PeerEvent)) (Link, error)

// LinkConfig configures the pion-backed LinkFactory
type LinkConfig struct {
	// ICEServers for NAT traversal. Payload contents stay opaque to the
	// relay either way.
	ICEServers []webrtc.ICEServer

	// Source supplies the outgoing tracks attached to every link.
	// A nil source produces receive-only links.
	Source *media.Source

	// API overrides the default WebRTC API, mainly for tests.
	API *webrtc.API

	// LoggerFactory feeds pion's internals. Defaults to the standard one.
	LoggerFactory logging.LoggerFactory
}

// NewLinkFactory returns a LinkFactory producing PeerLinks
func NewLinkFactory(cfg LinkConfig) (LinkFactory, error) {
	api := cfg.API
	if api == nil {
		m := &webrtc.MediaEngine{}
		if err := m.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}
		lf := cfg.LoggerFactory
		if lf == nil {
			lf = logging.NewDefaultLoggerFactory()
		}
		se := webrtc.SettingEngine{LoggerFactory: lf}
		api = webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))
	}

	config := webrtc.Configuration{ICEServers: cfg.ICEServers}

	return func(remoteID string, initiator bool, emit func(PeerEvent)) (Link, error) {
		return newPeerLink(api, config, cfg.Source, remoteID, initiator, emit)
	}, nil
}

// PeerLink wraps one webrtc.PeerConnection toward a single remote
// participant. The initiator creates the offer; the responder answers.
// Remote candidates that arrive before the remote description are held
// back and applied once it lands.
type PeerLink struct {
	mu sync.Mutex

	remoteID  string
	initiator bool
	pc        *webrtc.PeerConnection
	emit      func(PeerEvent)

	videoSender *webrtc.RTPSender
	audioSender *webrtc.RTPSender

	pendingCandidates []webrtc.ICECandidateInit
	remoteSet         bool
	maxBitrateKbps    int

	closed bool
}

func newPeerLink(api *webrtc.API, config webrtc.Configuration, source *media.Source,
	remoteID string, initiator bool, emit func(PeerEvent)) (*PeerLink, error) {

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}

	link := &PeerLink{
		remoteID:  remoteID,
		initiator: initiator,
		pc:        pc,
		emit:      emit,
	}

	if source != nil {
		videoSender, err := pc.AddTrack(source.VideoTrack())
		if err != nil {
			pc.Close()
			return nil, err
		}
		link.videoSender = videoSender
		go link.drainRTCP(videoSender)

		audioSender, err := pc.AddTrack(source.AudioTrack())
		if err != nil {
			pc.Close()
			return nil, err
		}
		link.audioSender = audioSender
		go link.drainRTCP(audioSender)
	} else if !initiator {
		// Receive-only responders still need transceivers so the answer
		// accepts the initiator's media sections.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}
	}

	link.setupEventHandlers()
	return link, nil
}

// RemoteID returns the remote participant identifier
func (l *PeerLink) RemoteID() string {
	return l.remoteID
}

// Initiator reports which side of the handshake this link plays
func (l *PeerLink) Initiator() bool {
	return l.initiator
}

func (l *PeerLink) setupEventHandlers() {
	l.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		l.emitSignal(SignalData{Type: "candidate", Candidate: &init})
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		l.emit(PeerEvent{
			Kind:     PeerEventStreamReceived,
			Track:    track,
			StreamID: track.StreamID(),
		})
	})

	l.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			l.emit(PeerEvent{Kind: PeerEventConnected})
		case webrtc.PeerConnectionStateFailed:
			l.emit(PeerEvent{Kind: PeerEventErrored, Err: ErrConnectionFailed})
		case webrtc.PeerConnectionStateClosed:
			l.emit(PeerEvent{Kind: PeerEventClosed})
		}
	})

	l.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed {
			l.emit(PeerEvent{Kind: PeerEventErrored, Err: ErrICEFailed})
		}
	})
}

// StartNegotiation produces the initial offer on the initiator side
func (l *PeerLink) StartNegotiation() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if !l.initiator {
		return nil
	}
	return l.negotiateLocked()
}

// Accept applies a remote signaling blob produced by the other side's link
func (l *PeerLink) Accept(payload json.RawMessage) error {
	var sig SignalData
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("parse signal: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}

	switch sig.Type {
	case "offer":
		return l.acceptOfferLocked(sig.SDP)
	case "answer":
		return l.acceptAnswerLocked(sig.SDP)
	case "candidate":
		return l.acceptCandidateLocked(sig.Candidate)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSignal, sig.Type)
	}
}

func (l *PeerLink) acceptOfferLocked(sdp string) error {
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return err
	}
	l.remoteSet = true
	l.flushCandidatesLocked()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	l.emitSignal(SignalData{Type: "answer", SDP: l.applyBitrateLocked(answer.SDP)})
	return nil
}

func (l *PeerLink) acceptAnswerLocked(sdp string) error {
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := l.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	l.remoteSet = true
	l.flushCandidatesLocked()
	return nil
}

func (l *PeerLink) acceptCandidateLocked(candidate *webrtc.ICECandidateInit) error {
	if candidate == nil {
		return fmt.Errorf("%w: empty candidate", ErrUnknownSignal)
	}
	if !l.remoteSet {
		l.pendingCandidates = append(l.pendingCandidates, *candidate)
		return nil
	}
	return l.pc.AddICECandidate(*candidate)
}

// flushCandidatesLocked applies candidates held back before the remote
// description arrived
func (l *PeerLink) flushCandidatesLocked() {
	for _, c := range l.pendingCandidates {
		l.pc.AddICECandidate(c)
	}
	l.pendingCandidates = nil
}

// SetMaxBitrate caps outgoing video by stamping a bandwidth line on the
// SDP sent to the remote side. A renegotiation is triggered immediately
// when the link is in a stable state; otherwise the cap rides on the
// next exchanged description.
func (l *PeerLink) SetMaxBitrate(bps int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if l.videoSender == nil {
		return ErrNoVideoSender
	}

	l.maxBitrateKbps = bps / 1000

	if !l.remoteSet || l.pc.SignalingState() != webrtc.SignalingStateStable {
		return nil
	}
	return l.negotiateLocked()
}

// ReplaceVideoTrack swaps the outgoing video track on the live sender
func (l *PeerLink) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if l.videoSender == nil {
		return ErrNoVideoSender
	}
	return l.videoSender.ReplaceTrack(track)
}

// negotiateLocked creates and publishes a local offer
func (l *PeerLink) negotiateLocked() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	l.emitSignal(SignalData{Type: "offer", SDP: l.applyBitrateLocked(offer.SDP)})
	return nil
}

// Close releases the underlying connection
func (l *PeerLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pc := l.pc
	l.mu.Unlock()

	return pc.Close()
}

func (l *PeerLink) emitSignal(sig SignalData) {
	data, err := json.Marshal(sig)
	if err != nil {
		l.emit(PeerEvent{Kind: PeerEventErrored, Err: err})
		return
	}
	l.emit(PeerEvent{Kind: PeerEventSignalProduced, Signal: data})
}

// applyBitrateLocked stamps the configured cap onto outbound SDP
func (l *PeerLink) applyBitrateLocked(sdp string) string {
	if l.maxBitrateKbps <= 0 {
		return sdp
	}
	return setVideoBandwidth(sdp, l.maxBitrateKbps)
}

// drainRTCP consumes RTCP feedback so interceptors keep running
func (l *PeerLink) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// setVideoBandwidth rewrites the video media section of an SDP blob with
// a b=AS bandwidth line, replacing any existing one. The receiving side
// applies the cap to the media it accepts from us.
func setVideoBandwidth(sdp string, kbps int) string {
	lines := strings.Split(sdp, "\r\n")
	out := make([]string, 0, len(lines)+1)

	inVideo := false
	needInsert := false
	for _, line := range lines {
		if strings.HasPrefix(line, "m=") {
			// Insert before leaving a video section that had no c= line.
			if needInsert {
				out = append(out, fmt.Sprintf("b=AS:%d", kbps))
				needInsert = false
			}
			inVideo = strings.HasPrefix(line, "m=video")
			out = append(out, line)
			needInsert = inVideo
			continue
		}
		if inVideo && strings.HasPrefix(line, "b=AS:") {
			continue
		}
		out = append(out, line)
		if needInsert && strings.HasPrefix(line, "c=") {
			out = append(out, fmt.Sprintf("b=AS:%d", kbps))
			needInsert = false
		}
	}
	if needInsert {
		out = append(out, fmt.Sprintf("b=AS:%d", kbps))
	}

	return strings.Join(out, "\r\n")
}
