package broadcast

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-observer channel capacity before the oldest
// buffered event is dropped to make room for a new one.
const DefaultBufferSize = 256

// Observer is a handle returned by Hub.Subscribe. The caller reads from
// Events until Close is called or the hub itself is closed.
type Observer struct {
	id      uint64
	events  chan Event
	dropped uint64
	hub     *Hub
}

// Events returns the channel of events delivered to this observer.
func (o *Observer) Events() <-chan Event { return o.events }

// Dropped returns the number of events dropped for this observer because it
// was not draining fast enough.
func (o *Observer) Dropped() uint64 { return atomic.LoadUint64(&o.dropped) }

// Close unsubscribes the observer. Safe to call more than once.
func (o *Observer) Close() {
	if o.hub != nil {
		o.hub.unsubscribe(o.id)
	}
}

// Hub fans out Events to any number of subscribed Observers. Producers call
// Publish and are never blocked by a slow or absent observer: each observer
// has its own bounded buffer, and once that buffer is full the oldest queued
// event for that observer is discarded to make room for the new one.
//
// Observers are held only for as long as they're subscribed -- the hub never
// keeps an observer alive past a call to Close, so a caller that forgets to
// unsubscribe merely leaks one buffered channel rather than the whole
// downstream consumer.
type Hub struct {
	mu        sync.RWMutex
	observers map[uint64]*Observer
	nextID    uint64
	seq       uint64
	bufSize   int
}

// NewHub creates a broadcast hub with the given per-observer buffer size.
// A size <= 0 uses DefaultBufferSize.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Hub{
		observers: make(map[uint64]*Observer),
		bufSize:   bufSize,
	}
}

// Subscribe registers a new observer and returns its handle.
func (h *Hub) Subscribe() *Observer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	obs := &Observer{
		id:     h.nextID,
		events: make(chan Event, h.bufSize),
		hub:    h,
	}
	h.observers[obs.id] = obs
	return obs
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	obs, ok := h.observers[id]
	if ok {
		delete(h.observers, id)
	}
	h.mu.Unlock()
	if ok {
		close(obs.events)
	}
}

// ObserverCount returns the number of currently subscribed observers.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Publish delivers ev to every subscribed observer. It never blocks: an
// observer whose buffer is full has its oldest event dropped to make room.
func (h *Hub) Publish(ev Event) {
	ev.Seq = atomic.AddUint64(&h.seq, 1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, obs := range h.observers {
		deliver(obs, ev)
	}
}

// deliver sends ev to obs, dropping the oldest queued event for obs if its
// buffer is already full.
func deliver(obs *Observer, ev Event) {
	select {
	case obs.events <- ev:
		return
	default:
	}

	// Buffer full: drop the oldest queued event and retry once. If another
	// goroutine drains concurrently the retry still succeeds non-blockingly.
	select {
	case <-obs.events:
		atomic.AddUint64(&obs.dropped, 1)
	default:
	}

	select {
	case obs.events <- ev:
	default:
		// Lost a race with another publisher; count this event as dropped
		// too rather than block the producer.
		atomic.AddUint64(&obs.dropped, 1)
	}
}

// Close unsubscribes and closes the channel of every observer. The hub
// itself remains usable for new Subscribe calls afterward.
func (h *Hub) Close() {
	h.mu.Lock()
	observers := h.observers
	h.observers = make(map[uint64]*Observer)
	h.mu.Unlock()

	for _, obs := range observers {
		close(obs.events)
	}
}
