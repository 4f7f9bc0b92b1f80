package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event is one broadcast message. Type names follow the scan lifecycle
// (scan_started, scan_progress, ...) plus keepalive and connected.
type Event struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers without ever blocking a publisher. A
// subscriber that cannot keep up silently drops messages.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan []byte]bool

	stateMu   sync.RWMutex
	lastState json.RawMessage // most recent scan event, replayed to new subscribers
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[chan []byte]bool)}
}

// Publish marshals and broadcasts an event. Scan events are snapshotted so
// late subscribers immediately learn the current scan state.
func (b *Bus) Publish(eventType string, data any) {
	raw, err := json.Marshal(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}

	// only scan lifecycle events form the replayed snapshot; autofix and
	// issue events are transient
	if strings.HasPrefix(eventType, "scan_") {
		b.stateMu.Lock()
		b.lastState = raw
		b.stateMu.Unlock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- raw:
		default:
		}
	}
}

// Subscribe registers a new listener. The returned channel receives a
// connected event first, then the latest scan state if one exists.
func (b *Bus) Subscribe() chan []byte {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subscribers[ch] = true
	b.mu.Unlock()

	if connected, err := json.Marshal(Event{Type: "connected", Timestamp: time.Now().UTC()}); err == nil {
		ch <- connected
	}

	b.stateMu.RLock()
	last := b.lastState
	b.stateMu.RUnlock()
	if last != nil {
		select {
		case ch <- last:
		default:
		}
	}
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// SubscriberCount reports the number of live listeners.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
