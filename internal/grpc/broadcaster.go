package grpc

import (
	"sync"
	"sync/atomic"

	"github.com/mr1hm/go-raid-alerts/internal/models"
)

const DefaultListenerBuffer = 64

// Broadcaster fans transition events out to in-process listeners such as
// server-sent event streams. Slow listeners lose events rather than block
// the dispatcher.
type Broadcaster struct {
	listeners map[uint64]chan *models.TransitionEvent
	buffer    int
	nextID    atomic.Uint64
	dropped   atomic.Uint64
	mu        sync.RWMutex
}

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultListenerBuffer
	}
	return &Broadcaster{
		listeners: make(map[uint64]chan *models.TransitionEvent),
		buffer:    buffer,
	}
}

func (b *Broadcaster) Subscribe() (uint64, <-chan *models.TransitionEvent) {
	id := b.nextID.Add(1)
	ch := make(chan *models.TransitionEvent, b.buffer)

	b.mu.Lock()
	b.listeners[id] = ch
	b.mu.Unlock()

	return id, ch
}

func (b *Broadcaster) Unsubscribe(id uint64) {
	b.mu.Lock()
	if ch, ok := b.listeners[id]; ok {
		close(ch)
		delete(b.listeners, id)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Broadcast(e *models.TransitionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.listeners {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Dropped counts events skipped because a listener's buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every listener channel so streams end.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.listeners {
		close(ch)
		delete(b.listeners, id)
	}
}
