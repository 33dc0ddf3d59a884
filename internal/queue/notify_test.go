package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func decodeSnapshot(t *testing.T, data []byte) State {
	t.Helper()
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("failed to decode snapshot: %v", err)
	}
	return state
}

// TestSubscribeDeliversSnapshot verifies that the current state is
// already buffered when Subscribe returns.
func TestSubscribeDeliversSnapshot(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())
	mustSubmit(t, s, 1, "Alice", "")

	id, ch, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer s.Unsubscribe(id)

	if len(ch) != 1 {
		t.Fatalf("expected 1 buffered snapshot, got %d", len(ch))
	}
	state := decodeSnapshot(t, <-ch)
	if len(state.List) != 1 || state.List[0].Song != 1 {
		t.Fatalf("expected snapshot list [1], got %v", songsOf(state.List))
	}
}

// TestBroadcastPerMutation verifies exactly one snapshot per applied
// mutation, in mutation order.
func TestBroadcastPerMutation(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())
	id, ch, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer s.Unsubscribe(id)
	<-ch // initial snapshot

	first := mustSubmit(t, s, 1, "Alice", "")
	state := decodeSnapshot(t, <-ch)
	if len(state.List) != 1 {
		t.Fatalf("expected 1 entry after first submit, got %d", len(state.List))
	}

	mustSubmit(t, s, 2, "Bob", "")
	state = decodeSnapshot(t, <-ch)
	if len(state.List) != 2 {
		t.Fatalf("expected 2 entries after second submit, got %d", len(state.List))
	}

	if _, err := s.Advance(context.Background(), first); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	state = decodeSnapshot(t, <-ch)
	if len(state.List) != 1 || len(state.PlayHistory) != 1 {
		t.Fatalf("expected list=1 history=1, got list=%d history=%d", len(state.List), len(state.PlayHistory))
	}

	if len(ch) != 0 {
		t.Fatalf("expected no pending snapshots, got %d", len(ch))
	}
}

// TestRejectedSubmitDoesNotBroadcast verifies that a rejected
// submission produces no snapshot.
func TestRejectedSubmitDoesNotBroadcast(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())
	id, ch, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer s.Unsubscribe(id)
	<-ch

	if _, ok, err := s.Submit(context.Background(), 99, "Mallory", ""); ok || err != nil {
		t.Fatalf("expected rejection, got ok=%v err=%v", ok, err)
	}
	if len(ch) != 0 {
		t.Fatalf("expected no snapshot after rejection, got %d", len(ch))
	}
}

// TestSlowListenerDropped verifies that a listener that stops draining
// is dropped once its buffer fills while other listeners keep
// receiving.
func TestSlowListenerDropped(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())

	slowID, slow, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	_, fast, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-fast // initial snapshot

	// The slow listener holds the initial snapshot plus 15 more before
	// its buffer is full; the 16th mutation drops it.
	for i := 0; i < subscriberBuffer; i++ {
		mustSubmit(t, s, int64(i%4)+1, "Alice", "")
		<-fast
	}

	received := 0
	for range slow {
		received++
	}
	if received != subscriberBuffer {
		t.Fatalf("expected %d snapshots before the drop, got %d", subscriberBuffer, received)
	}

	// Unsubscribing an already dropped listener is a no-op.
	s.Unsubscribe(slowID)

	// The fast listener is unaffected.
	mustSubmit(t, s, 1, "Bob", "")
	state := decodeSnapshot(t, <-fast)
	if len(state.List) != subscriberBuffer+1 {
		t.Fatalf("expected %d entries, got %d", subscriberBuffer+1, len(state.List))
	}
}

// TestUnsubscribeClosesChannel verifies that unsubscribing closes the
// channel after any buffered snapshots are drained.
func TestUnsubscribeClosesChannel(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())
	id, ch, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	s.Unsubscribe(id)
	if _, ok := <-ch; !ok {
		t.Fatal("expected the buffered initial snapshot")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}

	s.Unsubscribe(id) // idempotent
}

// TestCloseDropsListeners verifies that Close ends every subscription
// while mutations keep working.
func TestCloseDropsListeners(t *testing.T) {
	s := newTestStore(t, newFakeCatalog())
	_, ch, err := s.Subscribe()
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	s.Close()
	if _, ok := <-ch; !ok {
		t.Fatal("expected the buffered initial snapshot")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed")
	}

	if _, _, err := s.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	mustSubmit(t, s, 1, "Alice", "")
	if s.Len() != 1 {
		t.Fatalf("expected mutations to keep working after close, got %d entries", s.Len())
	}
}
