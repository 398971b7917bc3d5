package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrSourceClosed indicates the source has been closed
	ErrSourceClosed = errors.New("media source is closed")
)

// Source is the local capture collaborator: it owns one outgoing video
// track and one outgoing audio track and the per-kind enable switches.
// Callers inject RTP through WriteVideo/WriteAudio; disabled kinds drop
// packets without renegotiating, so the tracks stay attached to every
// peer connection.
type Source struct {
	mu sync.RWMutex

	video *webrtc.TrackLocalStaticRTP
	audio *webrtc.TrackLocalStaticRTP

	videoEnabled bool
	audioEnabled bool

	closed bool
}

// NewSource creates a source with a VP8 video track and an Opus audio
// track sharing one stream identifier
func NewSource(streamID string) (*Source, error) {
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		streamID,
	)
	if err != nil {
		return nil, err
	}

	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, err
	}

	return &Source{
		video:        video,
		audio:        audio,
		videoEnabled: true,
		audioEnabled: true,
	}, nil
}

// VideoTrack returns the outgoing video track
func (s *Source) VideoTrack() *webrtc.TrackLocalStaticRTP {
	return s.video
}

// AudioTrack returns the outgoing audio track
func (s *Source) AudioTrack() *webrtc.TrackLocalStaticRTP {
	return s.audio
}

// SetVideoEnabled toggles outgoing video without renegotiation
func (s *Source) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

// SetAudioEnabled toggles outgoing audio without renegotiation
func (s *Source) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
}

// VideoEnabled reports whether outgoing video is enabled
func (s *Source) VideoEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videoEnabled
}

// AudioEnabled reports whether outgoing audio is enabled
func (s *Source) AudioEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.audioEnabled
}

// WriteVideo forwards one RTP packet to the video track. Packets are
// dropped while video is disabled.
func (s *Source) WriteVideo(pkt *rtp.Packet) error {
	s.mu.RLock()
	closed, enabled := s.closed, s.videoEnabled
	s.mu.RUnlock()

	if closed {
		return ErrSourceClosed
	}
	if !enabled {
		return nil
	}
	return s.video.WriteRTP(pkt)
}

// WriteAudio forwards one RTP packet to the audio track. Packets are
// dropped while audio is disabled.
func (s *Source) WriteAudio(pkt *rtp.Packet) error {
	s.mu.RLock()
	closed, enabled := s.closed, s.audioEnabled
	s.mu.RUnlock()

	if closed {
		return ErrSourceClosed
	}
	if !enabled {
		return nil
	}
	return s.audio.WriteRTP(pkt)
}

// StartTestPattern pumps synthetic RTP into both tracks until the context
// is cancelled. It exists for headless clients and tests; it is not a
// capture layer.
func (s *Source) StartTestPattern(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(33 * time.Millisecond)
		defer ticker.Stop()

		var seq uint16
		var ts uint32
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq++
				ts += 3000
				s.WriteVideo(&rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    96,
						SequenceNumber: seq,
						Timestamp:      ts,
						SSRC:           0x1234,
					},
					Payload: make([]byte, 64),
				})
				s.WriteAudio(&rtp.Packet{
					Header: rtp.Header{
						Version:        2,
						PayloadType:    111,
						SequenceNumber: seq,
						Timestamp:      ts,
						SSRC:           0x5678,
					},
					Payload: make([]byte, 16),
				})
			}
		}
	}()
}

// Close marks the source closed; subsequent writes fail
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
