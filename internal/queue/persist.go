package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// loadState reads the persisted snapshot. A missing file yields the
// empty state; any other failure is surfaced so startup can abort
// rather than silently discard a session.
func loadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	return state, nil
}

// saveState atomically replaces the snapshot file: write to a temp
// file in the same directory, sync, then rename over the target. The
// file on disk is always a complete snapshot, old or new.
func saveState(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to flush state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	success = true
	return nil
}

// filterValid drops entries whose song is not in the valid set,
// tolerating catalog changes between runs.
func filterValid(entries []Entry, valid map[int64]struct{}) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := valid[e.Song]; ok {
			out = append(out, e)
		}
	}
	return out
}
