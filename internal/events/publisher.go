package events

import "sync"

// MemoryPublisher is an in-memory, non-blocking Publisher. Subscribers
// with a full buffer silently miss events rather than stall a publish
// call made from inside the git lock or a worker's hot path.
type MemoryPublisher struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	bufferSize  int
	closed      bool
}

// NewMemoryPublisher creates a ready-to-use MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		subscribers: make(map[chan Event]struct{}),
		bufferSize:  100,
	}
}

// Publish fans out event to every current subscriber.
func (p *MemoryPublisher) Publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	for ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a channel receiving all future events.
func (p *MemoryPublisher) Subscribe() <-chan Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Event, p.bufferSize)
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (p *MemoryPublisher) Unsubscribe(ch <-chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.subscribers {
		if c == ch {
			delete(p.subscribers, c)
			close(c)
			return
		}
	}
}

// Close shuts the publisher down, closing every subscriber channel.
func (p *MemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// NopPublisher discards every event. Useful when the HTTP façade isn't
// running (e.g. CLI-only usage) and no one can be subscribed.
type NopPublisher struct{}

func (NopPublisher) Publish(Event)                {}
func (NopPublisher) Subscribe() <-chan Event       { ch := make(chan Event); close(ch); return ch }
func (NopPublisher) Unsubscribe(<-chan Event)      {}
func (NopPublisher) Close()                        {}
