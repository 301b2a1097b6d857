package explorer

import (
	"sync"
	"time"
)

// DefaultCaptionTTL is how long a caption stays visible.
const DefaultCaptionTTL = 6 * time.Second

// StatusBoard holds the single status caption shown to the user. Every
// caption is dismissed after a delay; showing a new caption cancels the
// pending dismissal of the previous one.
type StatusBoard struct {
	ttl time.Duration

	mu      sync.Mutex
	caption string
	seq     uint64
	timer   *time.Timer
}

// NewStatusBoard creates a board. A ttl of zero keeps captions until they
// are replaced or cleared.
func NewStatusBoard(ttl time.Duration) *StatusBoard {
	return &StatusBoard{ttl: ttl}
}

// Show replaces the caption and schedules its dismissal.
func (b *StatusBoard) Show(caption string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()
	b.caption = caption
	if caption == "" || b.ttl <= 0 {
		return
	}

	seq := b.seq
	b.timer = time.AfterFunc(b.ttl, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		// a newer caption won the race against this timer
		if b.seq != seq {
			return
		}
		b.caption = ""
		b.timer = nil
	})
}

// Clear removes the caption and cancels its dismissal.
func (b *StatusBoard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	b.caption = ""
}

// Caption returns the visible caption.
func (b *StatusBoard) Caption() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caption
}

func (b *StatusBoard) stopLocked() {
	b.seq++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
