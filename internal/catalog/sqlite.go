package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultSearchLimit = 25

// Store is the local SQLite-backed catalog with an FTS5 trigram index
// over artist and title.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path and
// ensures the schema and full-text index exist.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`CREATE TABLE IF NOT EXISTS songs (
			id INTEGER PRIMARY KEY,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS songs_fts USING fts5(
			artist, title, song_id UNINDEXED,
			tokenize='trigram'
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize catalog schema: %w", err)
		}
	}
	return nil
}

// Import upserts songs and rebuilds the full-text index in one
// transaction.
func (s *Store) Import(ctx context.Context, songs []Song) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO songs (id, artist, title, duration_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			artist = excluded.artist,
			title = excluded.title,
			duration_ms = excluded.duration_ms`)
	if err != nil {
		return fmt.Errorf("failed to prepare import: %w", err)
	}
	defer stmt.Close()

	for _, song := range songs {
		if _, err := stmt.ExecContext(ctx, song.ID, song.Artist, song.Title, song.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("failed to import song %d: %w", song.ID, err)
		}
	}

	// Rebuild the index from scratch; the songbook is small enough that
	// incremental sync is not worth the trigger machinery.
	if _, err := tx.ExecContext(ctx, `DELETE FROM songs_fts`); err != nil {
		return fmt.Errorf("failed to clear search index: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO songs_fts (artist, title, song_id)
		SELECT artist, title, id FROM songs`); err != nil {
		return fmt.Errorf("failed to rebuild search index: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	return nil
}

// ImportFile loads a JSON songbook (array of {id, artist, title,
// durationMs}) into the catalog and reports how many songs it held.
func (s *Store) ImportFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read songbook: %w", err)
	}

	var records []songRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to parse songbook %s: %w", path, err)
	}

	songs := make([]Song, len(records))
	for i, r := range records {
		songs[i] = r.song()
	}
	if err := s.Import(ctx, songs); err != nil {
		return 0, err
	}
	return len(songs), nil
}

// Resolve batch-fetches the given keys. Unknown keys are simply absent
// from the result.
func (s *Store) Resolve(ctx context.Context, ids []int64) (map[int64]Song, error) {
	out := make(map[int64]Song, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, artist, title, duration_ms FROM songs WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query songs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		out[song.ID] = song
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read songs: %w", err)
	}
	return out, nil
}

// Search runs a full-text query over artist and title, best match
// first.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Song, error) {
	escaped := escapeFTSQuery(query)
	if escaped == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.artist, s.title, s.duration_ms
		FROM songs_fts f
		JOIN songs s ON s.id = f.song_id
		WHERE songs_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, escaped, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search songs: %w", err)
	}
	defer rows.Close()

	var songs []Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return songs, nil
}

// AllIDs enumerates every song key; the result serves as the
// process-lifetime valid set for queue submissions.
func (s *Store) AllIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM songs`)
	if err != nil {
		return nil, fmt.Errorf("failed to list song ids: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan song id: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read song ids: %w", err)
	}
	return out, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func scanSong(rows *sql.Rows) (Song, error) {
	var song Song
	var ms int64
	if err := rows.Scan(&song.ID, &song.Artist, &song.Title, &ms); err != nil {
		return Song{}, fmt.Errorf("failed to scan song: %w", err)
	}
	song.Duration = time.Duration(ms) * time.Millisecond
	return song, nil
}

// escapeFTSQuery quotes every word so user input cannot inject FTS5
// syntax; quoted words give trigram substring matching.
func escapeFTSQuery(query string) string {
	words := strings.Fields(query)
	if len(words) == 0 {
		return ""
	}

	quoted := make([]string, len(words))
	for i, word := range words {
		quoted[i] = `"` + strings.ReplaceAll(word, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}
