package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// subscriberBuffer is the per-listener channel capacity. A listener
// that falls this many snapshots behind is dropped.
const subscriberBuffer = 16

// Subscribe registers a listener and returns its id and channel. The
// current snapshot is already buffered on the channel when Subscribe
// returns, so the first receive never blocks and every later receive
// follows mutation order.
func (s *Store) Subscribe() (uuid.UUID, <-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return uuid.Nil, nil, ErrClosed
	}

	data, err := json.Marshal(s.stateLocked())
	if err != nil {
		return uuid.Nil, nil, fmt.Errorf("failed to encode state: %w", err)
	}

	id := uuid.New()
	ch := make(chan []byte, subscriberBuffer)
	ch <- data
	s.listeners[id] = ch
	s.metrics.Listeners.Set(float64(len(s.listeners)))
	return id, ch, nil
}

// Unsubscribe removes the listener and closes its channel. Unknown
// ids are ignored, so it is safe to call after the listener was
// already dropped for falling behind.
func (s *Store) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.listeners[id]
	if !ok {
		return
	}
	delete(s.listeners, id)
	close(ch)
	s.metrics.Listeners.Set(float64(len(s.listeners)))
}

// broadcastLocked delivers the snapshot to every listener. A full
// buffer is a delivery fault for that listener alone: it is dropped
// and its channel closed while the rest keep receiving. Caller holds
// the mutex.
func (s *Store) broadcastLocked(data []byte) {
	for id, ch := range s.listeners {
		select {
		case ch <- data:
		default:
			delete(s.listeners, id)
			close(ch)
			s.logger.Warn("Dropped listener that stopped draining snapshots", "subscription_id", id)
			s.metrics.ListenerFaults.Inc()
		}
	}
	s.metrics.Snapshots.Inc()
	s.metrics.Listeners.Set(float64(len(s.listeners)))
}
