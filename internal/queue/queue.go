// Package queue implements the live performance queue: an ordered
// pending list with derived wait-time predictions, a bounded history
// of recently played entries, intermission statistics and snapshot
// fan-out to subscribed listeners. All state is guarded by a single
// mutex; every mutation recomputes predictions, persists the full
// state and broadcasts it before returning.
package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solttila/rotation/internal/catalog"
	"github.com/solttila/rotation/internal/metrics"
)

const (
	// maxPlayHistory bounds the recently-played list; the oldest entry
	// is evicted first.
	maxPlayHistory = 3

	// maxIntermission is the upper bound (exclusive) for a gap between
	// a predicted end and the next actual play to count as a regular
	// intermission. Longer gaps are breaks, not intermissions.
	maxIntermission = 5 * time.Minute
)

var (
	// ErrSongNotResolvable reports a song that is in the valid set but
	// missing from the catalog, which means catalog and valid set have
	// drifted apart.
	ErrSongNotResolvable = errors.New("song not resolvable in catalog")

	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("queue store is closed")
)

// Entry is one queued performance request.
type Entry struct {
	ID           uuid.UUID `json:"id"`
	Song         int64     `json:"song"`
	Singer       string    `json:"singer"`
	PasswordHash string    `json:"passwordHash"`
	PredictedEnd time.Time `json:"predictedEnd"`
}

// State is the complete queue snapshot: what gets persisted on every
// mutation and broadcast to listeners.
type State struct {
	PlayHistory          []Entry       `json:"playHistory"`
	List                 []Entry       `json:"list"`
	IntermissionDuration time.Duration `json:"intermissionDuration"`
	IntermissionCount    int           `json:"intermissionCount"`
}

type intermissionStats struct {
	total time.Duration
	count int
}

func (s intermissionStats) average() time.Duration {
	if s.count == 0 {
		return 0
	}
	return s.total / time.Duration(s.count)
}

// AuditSink appends one timestamped record per event. Implementations
// live outside the store; see the audit package.
type AuditSink interface {
	Append(ts time.Time, fields ...string) error
}

// Store owns the pending queue, play history, intermission statistics
// and listener registry. One mutex serializes every operation,
// including subscribe and unsubscribe.
type Store struct {
	mu        sync.Mutex
	list      []Entry
	history   *ring
	stats     intermissionStats
	listeners map[uuid.UUID]chan []byte
	closed    bool

	resolver   catalog.Resolver
	validSongs map[int64]struct{}
	statePath  string
	songLog    AuditSink
	bugLog     AuditSink
	logger     *slog.Logger
	metrics    *metrics.Metrics

	now func() time.Time
}

// Load restores the queue from the snapshot at path, dropping any
// persisted entry whose song is no longer in the valid set. A missing
// file starts an empty queue; any other read or decode failure is
// fatal.
func Load(path string, resolver catalog.Resolver, validSongs map[int64]struct{}, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	state, err := loadState(path)
	if err != nil {
		return nil, err
	}

	list := filterValid(state.List, validSongs)
	if dropped := len(state.List) - len(list); dropped > 0 {
		logger.Warn("Dropped pending entries with unknown songs", "count", dropped)
	}

	history := newRing(maxPlayHistory)
	kept := filterValid(state.PlayHistory, validSongs)
	for _, e := range kept {
		history.push(e)
	}
	if dropped := len(state.PlayHistory) - len(kept); dropped > 0 {
		logger.Warn("Dropped history entries with unknown songs", "count", dropped)
	}

	s := &Store{
		list:      list,
		history:   history,
		stats:     intermissionStats{total: state.IntermissionDuration, count: state.IntermissionCount},
		listeners: make(map[uuid.UUID]chan []byte),

		resolver:   resolver,
		validSongs: validSongs,
		statePath:  path,
		logger:     logger,
		metrics:    m,

		now: time.Now,
	}
	s.metrics.QueueLength.Set(float64(len(s.list)))
	return s, nil
}

// SetSongLog configures the sink that receives one record per played
// song. A nil sink disables song logging. Safe on a live store.
func (s *Store) SetSongLog(sink AuditSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.songLog = sink
}

// SetBugLog configures the sink that receives bug reports. A nil sink
// routes reports to the process log instead. Safe on a live store.
func (s *Store) SetBugLog(sink AuditSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bugLog = sink
}

// Submit appends a new entry to the queue tail. It reports false
// without touching any state when the song is outside the valid set,
// and fails when a valid song cannot be resolved.
func (s *Store) Submit(ctx context.Context, song int64, singer, secret string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.validSongs[song]; !ok {
		s.metrics.SubmissionsRejected.Inc()
		return uuid.Nil, false, nil
	}

	resolved, err := s.resolver.Resolve(ctx, []int64{song})
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to resolve song %d: %w", song, err)
	}
	record, ok := resolved[song]
	if !ok {
		return uuid.Nil, false, fmt.Errorf("song %d: %w", song, ErrSongNotResolvable)
	}

	// Seed the prediction from the current tail; the recompute in
	// applyChange folds in the intermission average.
	start := s.now()
	if n := len(s.list); n > 0 {
		start = s.list[n-1].PredictedEnd
	}

	entry := Entry{
		ID:           uuid.New(),
		Song:         song,
		Singer:       singer,
		PasswordHash: hashSecret(secret),
		PredictedEnd: start.Add(record.Duration),
	}
	s.list = append(s.list, entry)

	if err := s.applyChange(ctx); err != nil {
		return uuid.Nil, false, err
	}
	s.metrics.Submissions.Inc()
	return entry.ID, true, nil
}

// Advance moves the entry to the play history, evicting the oldest
// entry if the history is full, and updates the intermission average
// when the measured gap is plausible. One song-log record is emitted
// if a sink is configured; sink failures never fail the call.
func (s *Store) Advance(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}

	entry := s.list[i]
	s.list = append(s.list[:i], s.list[i+1:]...)

	// Measure the gap against the previous history tail before the
	// played entry replaces it.
	if tail, ok := s.history.tail(); ok {
		delta := s.now().Sub(tail.PredictedEnd)
		if delta >= 0 && delta < maxIntermission {
			s.stats.total += delta
			s.stats.count++
		}
	}
	s.history.push(entry)

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.logSongPlayed(ctx, entry)
	s.metrics.Plays.Inc()
	return true, nil
}

func (s *Store) logSongPlayed(ctx context.Context, entry Entry) {
	if s.songLog == nil {
		return
	}
	resolved, err := s.resolver.Resolve(ctx, []int64{entry.Song})
	if err != nil {
		s.logger.Error("Failed to resolve played song for the song log", "song", entry.Song, "error", err)
		return
	}
	record, ok := resolved[entry.Song]
	if !ok {
		s.logger.Warn("Played song missing from catalog, skipping song log", "song", entry.Song)
		return
	}
	if err := s.songLog.Append(s.now(), record.Artist, record.Title); err != nil {
		s.logger.Error("Failed to append song log record", "song", entry.Song, "error", err)
	}
}

// Remove deletes the entry unconditionally.
func (s *Store) Remove(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	s.list = append(s.list[:i], s.list[i+1:]...)

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.metrics.Removals.Inc()
	return true, nil
}

// RemoveWithSecret deletes the entry only when the secret matches the
// digest stored at submission. A wrong secret and a missing id are
// both reported as plain false.
func (s *Store) RemoveWithSecret(ctx context.Context, id uuid.UUID, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}
	if s.list[i].PasswordHash != hashSecret(secret) {
		return false, nil
	}
	s.list = append(s.list[:i], s.list[i+1:]...)

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.metrics.Removals.Inc()
	return true, nil
}

// Swap exchanges the positions of two entries.
func (s *Store) Swap(ctx context.Context, a, b uuid.UUID) (bool, error) {
	if a == b {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, j := s.indexLocked(a), s.indexLocked(b)
	if i < 0 || j < 0 {
		return false, nil
	}
	s.list[i], s.list[j] = s.list[j], s.list[i]

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.metrics.Reorders.Inc()
	return true, nil
}

// MoveAfter relocates id to the position directly after afterID. The
// landing slot is computed against the list with id already removed,
// so moving an entry forward and backward land differently relative
// to the original order.
func (s *Store) MoveAfter(ctx context.Context, id, afterID uuid.UUID) (bool, error) {
	if id == afterID {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, j := s.indexLocked(id), s.indexLocked(afterID)
	if i < 0 || j < 0 {
		return false, nil
	}

	at := j
	if i > j {
		at = j + 1
	}

	entry := s.list[i]
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.list = append(s.list[:at], append([]Entry{entry}, s.list[at:]...)...)

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.metrics.Reorders.Inc()
	return true, nil
}

// MoveToFront relocates the entry to the queue head.
func (s *Store) MoveToFront(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false, nil
	}

	entry := s.list[i]
	s.list = append(s.list[:i], s.list[i+1:]...)
	s.list = append([]Entry{entry}, s.list...)

	if err := s.applyChange(ctx); err != nil {
		return true, err
	}
	s.metrics.Reorders.Inc()
	return true, nil
}

// ReportBug records a user report against a song. It never fails the
// caller and touches no queue state; the lock is held only to read
// the configured sink, never across catalog or sink I/O.
func (s *Store) ReportBug(ctx context.Context, song int64, text string) {
	if _, ok := s.validSongs[song]; !ok {
		s.logger.Warn("Bug report for song outside the valid set", "song", song)
		return
	}

	resolved, err := s.resolver.Resolve(ctx, []int64{song})
	if err != nil {
		s.logger.Error("Failed to resolve bug report song", "song", song, "error", err)
		return
	}
	record, ok := resolved[song]
	if !ok {
		s.logger.Warn("Bug report song missing from catalog", "song", song)
		return
	}

	s.mu.Lock()
	sink := s.bugLog
	s.mu.Unlock()

	if sink == nil {
		s.logger.Info("Bug report received", "artist", record.Artist, "title", record.Title, "text", text)
		return
	}
	if err := sink.Append(s.now(), record.Artist, record.Title, text); err != nil {
		s.logger.Error("Failed to append bug report record", "song", song, "error", err)
	}
}

// State returns a copy of the full queue state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Len returns the number of pending entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Close drops all listeners and closes their channels. Further
// subscriptions fail; mutations keep working.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.listeners {
		delete(s.listeners, id)
		close(ch)
	}
	s.metrics.Listeners.Set(0)
}

// applyChange recomputes predictions, persists the full state and
// broadcasts it, in that order. Persisting before notifying means a
// failed broadcast can at worst leave listeners one snapshot behind
// the file, which heals on the next load. Caller holds the mutex.
func (s *Store) applyChange(ctx context.Context) error {
	if err := s.recomputeLocked(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(s.stateLocked())
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := saveState(s.statePath, data); err != nil {
		s.metrics.PersistErrors.Inc()
		return err
	}
	s.broadcastLocked(data)
	s.metrics.QueueLength.Set(float64(len(s.list)))
	return nil
}

// stateLocked copies the live state. Slices are always non-nil so the
// serialized form has empty arrays instead of nulls.
func (s *Store) stateLocked() State {
	list := make([]Entry, len(s.list))
	copy(list, s.list)
	return State{
		PlayHistory:          s.history.entries(),
		List:                 list,
		IntermissionDuration: s.stats.total,
		IntermissionCount:    s.stats.count,
	}
}

func (s *Store) indexLocked(id uuid.UUID) int {
	for i := range s.list {
		if s.list[i].ID == id {
			return i
		}
	}
	return -1
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
