package rpc

import "sync"

// Notification is broadcast whenever a job's observable state changes, so
// that a subscribed connection can be told without polling `list`.
type Notification struct {
	Label string
	State string
}

// subscriber is one connection's notification channel. Grounded on the
// teacher's pkg/safebuffer.Readers: a goroutine registers itself once, and
// is removed lazily the next time a broadcast notices it has gone away,
// rather than requiring every writer to know about every reader's lifetime.
type subscriber struct {
	ch     chan Notification
	closed bool
}

// Notifier fans out job state transitions to every subscribed RPC
// connection. Adapted from the teacher's internal/safebuffer.Buffer /
// pkg/safebuffer.Readers channel-fan-out (a byte-stream broadcast for
// streaming job stdout to many readers) into a broadcast of discrete
// Notification values instead of a shared byte buffer, since the control
// plane has no log stream to replay and only needs "tell me what changed
// next", not "tell me everything since offset N".
type Notifier struct {
	mu   sync.Mutex
	subs []*subscriber
}

// NewNotifier returns an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Subscribe registers a new listener and returns a channel delivering every
// subsequent Publish call, plus an unsubscribe function the caller must run
// when it stops reading (typically when the owning connection closes).
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	sub := &subscriber{ch: make(chan Notification, 16)}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	unsubscribe := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		sub.closed = true
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts note to every live subscriber. A subscriber whose
// channel is full is skipped rather than blocking the event loop; a slow
// RPC client sees a gap, not a stall (the notification stream is
// best-effort — `list` remains the source of truth).
func (n *Notifier) Publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	live := n.subs[:0]
	for _, sub := range n.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- note:
		default:
		}
		live = append(live, sub)
	}
	n.subs = live
}
