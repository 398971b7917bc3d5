package call

import (
	"encoding/json"
	"time"
)

const (
	defaultPendingPerSender = 16
	defaultPendingMaxAge    = 10 * time.Second
)

type pendingSignal struct {
	data json.RawMessage
	at   time.Time
}

// signalBuffer holds signals that arrived before their peer record
// existed, per sender, bounded in count and age. Buffered signals are
// replayed in arrival order once the peer link is created, instead of
// being dropped when user_joined and signal race across channels.
type signalBuffer struct {
	perSender int
	maxAge    time.Duration
	entries   map[string][]pendingSignal
	now       func() time.Time
}

func newSignalBuffer(perSender int, maxAge time.Duration) *signalBuffer {
	if perSender <= 0 {
		perSender = defaultPendingPerSender
	}
	if maxAge <= 0 {
		maxAge = defaultPendingMaxAge
	}
	return &signalBuffer{
		perSender: perSender,
		maxAge:    maxAge,
		entries:   make(map[string][]pendingSignal),
		now:       time.Now,
	}
}

// add buffers one signal for a sender, evicting the oldest entry when
// the per-sender cap is reached
func (b *signalBuffer) add(senderID string, data json.RawMessage) {
	queue := b.fresh(senderID)
	if len(queue) >= b.perSender {
		queue = queue[1:]
	}
	b.entries[senderID] = append(queue, pendingSignal{data: data, at: b.now()})
}

// take removes and returns the sender's buffered signals in arrival order
func (b *signalBuffer) take(senderID string) []json.RawMessage {
	queue := b.fresh(senderID)
	delete(b.entries, senderID)

	if len(queue) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(queue))
	for _, p := range queue {
		out = append(out, p.data)
	}
	return out
}

// drop discards everything buffered for a sender
func (b *signalBuffer) drop(senderID string) {
	delete(b.entries, senderID)
}

// clear discards all buffered signals
func (b *signalBuffer) clear() {
	b.entries = make(map[string][]pendingSignal)
}

// fresh returns the sender's queue with expired entries pruned
func (b *signalBuffer) fresh(senderID string) []pendingSignal {
	queue := b.entries[senderID]
	cutoff := b.now().Add(-b.maxAge)
	for len(queue) > 0 && queue[0].at.Before(cutoff) {
		queue = queue[1:]
	}
	return queue
}
