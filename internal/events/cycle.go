// Package events fans out trading cycle progress to live subscribers.
package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/sipbot/internal/domain"
)

// Type distinguishes cycle events.
type Type string

const (
	TypePhase   Type = "phase"
	TypeOutcome Type = "outcome"
	TypeReport  Type = "report"
)

// CycleEvent is one step of a running cycle.
type CycleEvent struct {
	Timestamp time.Time           `json:"ts"`
	Type      Type                `json:"type"`
	CycleID   string              `json:"cycle_id"`
	Phase     domain.CyclePhase   `json:"phase,omitempty"`
	Symbol    string              `json:"symbol,omitempty"`
	Decision  *domain.Decision    `json:"decision,omitempty"`
	Outcome   *domain.Outcome     `json:"outcome,omitempty"`
	Report    *domain.CycleReport `json:"report,omitempty"`
}

// Broadcaster fans out events to all subscribers via buffered channels.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan CycleEvent]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan CycleEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping if a reader is slow.
func (b *Broadcaster) Publish(e CycleEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan CycleEvent {
	ch := make(chan CycleEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan CycleEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
