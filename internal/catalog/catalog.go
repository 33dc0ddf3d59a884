// Package catalog resolves song keys to artist, title and duration.
// The queue store consumes it through the Resolver interface; the local
// SQLite store and the remote HTTP client both satisfy the full Catalog
// surface.
package catalog

import (
	"context"
	"time"
)

// Song is one catalog row. ID is the stable key queue entries refer to.
type Song struct {
	ID       int64
	Artist   string
	Title    string
	Duration time.Duration
}

// Resolver is the lookup surface the queue store depends on. Keys
// absent from the result map are unknown to the catalog; a non-nil
// error means the catalog itself failed.
type Resolver interface {
	Resolve(ctx context.Context, ids []int64) (map[int64]Song, error)
}

// Catalog is the full surface the service uses, provided by both the
// local Store and the remote Client.
type Catalog interface {
	Resolver
	Search(ctx context.Context, query string, limit int) ([]Song, error)
	AllIDs(ctx context.Context) (map[int64]struct{}, error)
	Ping(ctx context.Context) error
	Close() error
}

// songRecord is the JSON form of Song shared by the remote catalog API
// and the songbook file format.
type songRecord struct {
	ID         int64  `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	DurationMs int64  `json:"durationMs"`
}

func (r songRecord) song() Song {
	return Song{
		ID:       r.ID,
		Artist:   r.Artist,
		Title:    r.Title,
		Duration: time.Duration(r.DurationMs) * time.Millisecond,
	}
}
