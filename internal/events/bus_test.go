package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch chan []byte) Event {
	t.Helper()
	select {
	case raw := <-ch:
		var e Event
		require.NoError(t, json.Unmarshal(raw, &e))
		return e
	default:
		t.Fatal("expected an event")
		return Event{}
	}
}

func TestSubscribeGetsConnected(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	assert.Equal(t, "connected", drain(t, ch).Type)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe()
	b := bus.Subscribe()
	drain(t, a)
	drain(t, b)

	bus.Publish("scan_progress", map[string]any{"processed": 5})

	for _, ch := range []chan []byte{a, b} {
		e := drain(t, ch)
		assert.Equal(t, "scan_progress", e.Type)
	}
}

func TestLateSubscriberGetsLastScanState(t *testing.T) {
	bus := NewBus()
	bus.Publish("scan_started", map[string]any{"scan_id": "abc"})
	bus.Publish("keepalive", nil) // keepalives are not state

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	assert.Equal(t, "connected", drain(t, ch).Type)
	assert.Equal(t, "scan_started", drain(t, ch).Type)
}

func TestOnlyScanEventsFormTheSnapshot(t *testing.T) {
	bus := NewBus()
	bus.Publish("scan_completed", map[string]any{"scan_id": "abc"})
	bus.Publish("autofix_progress", map[string]any{"processed": 3})
	bus.Publish("issue_applied", map[string]any{"issue_id": "def"})

	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	assert.Equal(t, "connected", drain(t, ch).Type)
	// the replayed state is still the scan event, not the autofix chatter
	assert.Equal(t, "scan_completed", drain(t, ch).Type)
	assert.Empty(t, ch)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	// fill the buffer well past capacity; Publish must never block
	for range 200 {
		bus.Publish("scan_progress", nil)
	}
	assert.LessOrEqual(t, len(ch), 64)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	bus.Unsubscribe(ch) // second call is a no-op

	_, open := <-ch
	for open {
		_, open = <-ch
	}
	assert.Equal(t, 0, bus.SubscriberCount())
}
