package call

import (
	"github.com/pion/webrtc/v4"

	"github.com/tully-8888/video-chat-app/pkg/signaling"
)

// SetOutgoingBitrate applies a send-side bitrate cap across every
// connected peer. Failures are isolated per peer: the returned map holds
// one entry per peer whose renegotiation failed, and an empty map means
// every peer (possibly zero) accepted the cap.
func (o *Orchestrator) SetOutgoingBitrate(bps int) map[string]error {
	targets := o.connectedLinks()

	failures := make(map[string]error)
	for _, t := range targets {
		if err := t.link.SetMaxBitrate(bps); err != nil {
			o.log.Warnf("bitrate cap on %s: %v", t.id, err)
			failures[t.id] = err
		}
	}
	return failures
}

// ReplaceOutgoingVideoTrack swaps the outgoing video track on every
// connected peer without renegotiation. A peer whose sender rejects the
// replacement is torn down and rebuilt with a fresh initiator handshake,
// announced to the remote side by a reconnect_request; the other peers
// are unaffected.
func (o *Orchestrator) ReplaceOutgoingVideoTrack(track webrtc.TrackLocal) map[string]error {
	targets := o.connectedLinks()

	failures := make(map[string]error)
	for _, t := range targets {
		if err := t.link.ReplaceVideoTrack(track); err != nil {
			o.log.Warnf("track replace on %s failed, recreating: %v", t.id, err)
			failures[t.id] = err
			o.recreatePeer(t.id)
		}
	}
	return failures
}

type linkTarget struct {
	id   string
	link Link
}

func (o *Orchestrator) connectedLinks() []linkTarget {
	o.mu.Lock()
	defer o.mu.Unlock()

	targets := make([]linkTarget, 0, len(o.peers))
	for id, rec := range o.peers {
		if rec.state == PeerStateConnected && rec.link != nil {
			targets = append(targets, linkTarget{id: id, link: rec.link})
		}
	}
	return targets
}

// recreatePeer replaces a peer's link with a fresh one and restarts the
// handshake with the local side as initiator. The reconnect_request goes
// out before the new offer, so per-channel ordering guarantees the remote
// side resets its link first.
func (o *Orchestrator) recreatePeer(remoteID string) {
	o.mu.Lock()
	rec, ok := o.peers[remoteID]
	if !ok {
		o.mu.Unlock()
		return
	}
	rec.state = PeerStateRecreating
	rec.initiator = true
	oldLink := rec.link
	rec.link = nil
	// New generation: late events from the old link must miss the record.
	o.genSeq++
	gen := o.genSeq
	rec.gen = gen
	o.pending.drop(remoteID)
	localID := o.localID
	o.mu.Unlock()

	if oldLink != nil {
		oldLink.Close()
	}

	o.mu.Lock()
	err := o.sendLocked(signaling.MessageTypeReconnectRequest, signaling.ReconnectRequestPayload{
		UserID:   localID,
		TargetID: remoteID,
	})
	o.mu.Unlock()
	if err != nil {
		o.log.Warnf("sending reconnect_request to %s: %v", remoteID, err)
	}

	link, ferr := o.factory(remoteID, true, func(ev PeerEvent) {
		o.handlePeerEvent(remoteID, gen, ev)
	})
	if ferr != nil {
		o.log.Errorf("recreating link to %s: %v", remoteID, ferr)
		o.removePeer(remoteID)
		return
	}

	o.mu.Lock()
	current, stillOk := o.peers[remoteID]
	if !stillOk || current != rec || rec.gen != gen {
		o.mu.Unlock()
		link.Close()
		return
	}
	rec.link = link
	rec.state = PeerStateSignaling
	o.mu.Unlock()

	if err := link.StartNegotiation(); err != nil {
		o.log.Errorf("renegotiation with %s failed to start: %v", remoteID, err)
		o.removePeer(remoteID)
	}
}
