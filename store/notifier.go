package store

import (
	"context"
	"sync"
)

// Notifier implements the Watch half of Storage for backends whose change
// visibility is process-local. Delivery is non-blocking: a watcher that
// falls behind drops intermediate changes but always sees the latest state
// on its next read.
type Notifier struct {
	mu       sync.Mutex
	watchers map[chan Change]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{watchers: make(map[chan Change]struct{})}
}

// Watch registers a watcher that lives until ctx is done.
func (n *Notifier) Watch(ctx context.Context) (<-chan Change, error) {
	ch := make(chan Change, 16)

	n.mu.Lock()
	n.watchers[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.watchers, ch)
		n.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Notify fans a change out to every watcher.
func (n *Notifier) Notify(change Change) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.watchers {
		select {
		case ch <- change:
		default:
		}
	}
}
