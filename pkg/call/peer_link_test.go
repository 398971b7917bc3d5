package call

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/tully-8888/video-chat-app/pkg/media"
)

func collectEvents() (func(PeerEvent), chan PeerEvent) {
	events := make(chan PeerEvent, 64)
	return func(ev PeerEvent) { events <- ev }, events
}

func waitForSignal(t *testing.T, events chan PeerEvent, wantType string) SignalData {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind != PeerEventSignalProduced {
				continue
			}
			var sig SignalData
			if err := json.Unmarshal(ev.Signal, &sig); err != nil {
				t.Fatalf("bad signal blob: %v", err)
			}
			if sig.Type == wantType {
				return sig
			}
		case <-deadline:
			t.Fatalf("no %s produced in time", wantType)
		}
	}
}

func newTestSource(t *testing.T) *media.Source {
	t.Helper()
	src, err := media.NewSource("test-stream")
	if err != nil {
		t.Fatalf("source: %v", err)
	}
	return src
}

func TestOfferAnswerLoopback(t *testing.T) {
	src, err := media.NewSource("loopback")
	if err != nil {
		t.Fatal(err)
	}
	factory, err := NewLinkFactory(LinkConfig{Source: src})
	if err != nil {
		t.Fatal(err)
	}

	emitA, eventsA := collectEvents()
	emitB, eventsB := collectEvents()

	alice, err := factory("bob", true, emitA)
	if err != nil {
		t.Fatal(err)
	}
	defer alice.Close()
	bob, err := factory("alice", false, emitB)
	if err != nil {
		t.Fatal(err)
	}
	defer bob.Close()

	if err := alice.StartNegotiation(); err != nil {
		t.Fatalf("start: %v", err)
	}
	offer := waitForSignal(t, eventsA, "offer")
	if !strings.Contains(offer.SDP, "m=video") || !strings.Contains(offer.SDP, "m=audio") {
		t.Fatalf("offer lacks media sections:\n%s", offer.SDP)
	}

	offerBlob, _ := json.Marshal(offer)
	if err := bob.Accept(offerBlob); err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	answer := waitForSignal(t, eventsB, "answer")

	answerBlob, _ := json.Marshal(answer)
	if err := alice.Accept(answerBlob); err != nil {
		t.Fatalf("accept answer: %v", err)
	}

	// Both sides settled the exchange.
	if got := alice.(*PeerLink).pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("alice not stable: %s", got)
	}
	if got := bob.(*PeerLink).pc.SignalingState(); got != webrtc.SignalingStateStable {
		t.Fatalf("bob not stable: %s", got)
	}
}

func TestResponderDoesNotOffer(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{Source: newTestSource(t)})
	if err != nil {
		t.Fatal(err)
	}

	emit, events := collectEvents()
	link, err := factory("alice", false, emit)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	if err := link.StartNegotiation(); err != nil {
		t.Fatalf("start on responder: %v", err)
	}
	select {
	case ev := <-events:
		if ev.Kind == PeerEventSignalProduced {
			t.Fatal("responder produced a signal unprompted")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBitrateCapStampedOnOffer(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{Source: newTestSource(t)})
	if err != nil {
		t.Fatal(err)
	}

	emit, events := collectEvents()
	link, err := factory("bob", true, emit)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	// Before any negotiation the cap is just stored.
	if err := link.SetMaxBitrate(500_000); err != nil {
		t.Fatalf("set bitrate: %v", err)
	}
	if err := link.StartNegotiation(); err != nil {
		t.Fatal(err)
	}

	offer := waitForSignal(t, events, "offer")
	if !strings.Contains(offer.SDP, "b=AS:500") {
		t.Fatalf("offer missing bandwidth line:\n%s", offer.SDP)
	}
	// The audio section carries no cap.
	audio := offer.SDP[strings.Index(offer.SDP, "m=audio"):]
	if idx := strings.Index(audio, "m=video"); idx >= 0 {
		audio = audio[:idx]
	}
	if strings.Contains(audio, "b=AS:") {
		t.Fatal("cap leaked into audio section")
	}
}

func TestSetMaxBitrateWithoutVideoSender(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{})
	if err != nil {
		t.Fatal(err)
	}

	emit, _ := collectEvents()
	link, err := factory("alice", false, emit)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	if err := link.SetMaxBitrate(500_000); !errors.Is(err, ErrNoVideoSender) {
		t.Fatalf("expected ErrNoVideoSender, got %v", err)
	}
	if err := link.ReplaceVideoTrack(nil); !errors.Is(err, ErrNoVideoSender) {
		t.Fatalf("expected ErrNoVideoSender, got %v", err)
	}
}

func TestCandidateQueuedBeforeRemoteDescription(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{Source: newTestSource(t)})
	if err != nil {
		t.Fatal(err)
	}

	emit, _ := collectEvents()
	link, err := factory("bob", false, emit)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	blob, _ := json.Marshal(SignalData{
		Type: "candidate",
		Candidate: &webrtc.ICECandidateInit{
			Candidate: "candidate:1 1 UDP 2130706431 127.0.0.1 54321 typ host",
		},
	})
	if err := link.Accept(blob); err != nil {
		t.Fatalf("early candidate rejected: %v", err)
	}
	if got := len(link.(*PeerLink).pendingCandidates); got != 1 {
		t.Fatalf("expected 1 queued candidate, got %d", got)
	}
}

func TestAcceptUnknownSignalType(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{Source: newTestSource(t)})
	if err != nil {
		t.Fatal(err)
	}

	emit, _ := collectEvents()
	link, err := factory("bob", false, emit)
	if err != nil {
		t.Fatal(err)
	}
	defer link.Close()

	if err := link.Accept(json.RawMessage(`{"type":"renegotiate"}`)); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("expected ErrUnknownSignal, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	factory, err := NewLinkFactory(LinkConfig{Source: newTestSource(t)})
	if err != nil {
		t.Fatal(err)
	}

	emit, _ := collectEvents()
	link, err := factory("bob", true, emit)
	if err != nil {
		t.Fatal(err)
	}

	if err := link.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := link.StartNegotiation(); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
	if err := link.Accept(json.RawMessage(`{"type":"offer","sdp":""}`)); !errors.Is(err, ErrLinkClosed) {
		t.Fatalf("expected ErrLinkClosed, got %v", err)
	}
}

func TestSetVideoBandwidth(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=- 0 0 IN IP4 127.0.0.1",
		"s=-",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"c=IN IP4 0.0.0.0",
		"a=rtpmap:111 opus/48000/2",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"c=IN IP4 0.0.0.0",
		"a=rtpmap:96 VP8/90000",
		"",
	}, "\r\n")

	got := setVideoBandwidth(sdp, 500)
	lines := strings.Split(got, "\r\n")

	// b=AS sits right after the video section's c= line.
	idx := -1
	for i, line := range lines {
		if line == "b=AS:500" {
			idx = i
		}
	}
	if idx == -1 {
		t.Fatalf("no bandwidth line:\n%s", got)
	}
	if lines[idx-1] != "c=IN IP4 0.0.0.0" || lines[idx-2] != "m=video 9 UDP/TLS/RTP/SAVPF 96" {
		t.Fatalf("bandwidth line misplaced:\n%s", got)
	}
	if strings.Count(got, "b=AS:") != 1 {
		t.Fatalf("expected a single bandwidth line:\n%s", got)
	}

	// A second cap replaces the first instead of stacking.
	again := setVideoBandwidth(got, 250)
	if strings.Count(again, "b=AS:") != 1 || !strings.Contains(again, "b=AS:250") {
		t.Fatalf("old cap not replaced:\n%s", again)
	}
}

func TestSetVideoBandwidthWithoutVideoSection(t *testing.T) {
	sdp := "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\n"
	if got := setVideoBandwidth(sdp, 500); strings.Contains(got, "b=AS:") {
		t.Fatalf("bandwidth line added without video section:\n%s", got)
	}
}
