package records

import "sync"

// Op names a committed mutation.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ChangeEvent describes one committed mutation.
type ChangeEvent struct {
	Op Op
	ID int64
}

// Notifier fans change events out to subscribers. Delivery never blocks the
// writer: each subscriber has a small buffer and, when it is full, the
// oldest pending event is dropped in favour of the newest.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan ChangeEvent
}

const subscriberBuffer = 16

// Subscribe registers a new listener.
func (n *Notifier) Subscribe() (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]chan ChangeEvent)
	}
	id := n.nextID
	n.nextID++
	ch := make(chan ChangeEvent, subscriberBuffer)
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers ev to every subscriber.
func (n *Notifier) Publish(ev ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest pending event.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close releases every subscriber.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
