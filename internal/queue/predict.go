package queue

import (
	"context"
	"fmt"
)

// recomputeLocked reassigns the predicted end time of every pending
// entry from scratch: starting at the last played entry's predicted
// end (or now, if nothing was played yet), each resolvable entry adds
// the average intermission plus its song duration. Entries whose song
// cannot be resolved keep their previous prediction. Recomputing on
// unchanged inputs is idempotent. Caller holds the mutex.
func (s *Store) recomputeLocked(ctx context.Context) error {
	if len(s.list) == 0 {
		return nil
	}

	ids := make([]int64, len(s.list))
	for i, e := range s.list {
		ids[i] = e.Song
	}
	songs, err := s.resolver.Resolve(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to resolve queued songs: %w", err)
	}

	ts := s.now()
	if tail, ok := s.history.tail(); ok {
		ts = tail.PredictedEnd
	}
	avg := s.stats.average()

	for i := range s.list {
		song, ok := songs[s.list[i].Song]
		if !ok {
			// Stale prediction stays in place; degraded but not fatal.
			continue
		}
		ts = ts.Add(avg + song.Duration)
		s.list[i].PredictedEnd = ts
	}
	return nil
}
