package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a remote catalog served over HTTP. It mirrors the Catalog
// surface of the local store so the two are interchangeable at startup.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a catalog client for the service at baseURL. An
// empty token disables the Authorization header.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("catalog returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// Resolve batch-fetches the given keys in a single request. Keys the
// service does not know are absent from the result.
func (c *Client) Resolve(ctx context.Context, ids []int64) (map[int64]Song, error) {
	out := make(map[int64]Song, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	query := url.Values{"ids": {strings.Join(parts, ",")}}

	var records []songRecord
	if err := c.get(ctx, "/api/songs", query, &records); err != nil {
		return nil, err
	}
	for _, r := range records {
		out[r.ID] = r.song()
	}
	return out, nil
}

// Search asks the service for best matches on artist and title.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Song, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	values := url.Values{
		"q":     {query},
		"limit": {strconv.Itoa(limit)},
	}

	var records []songRecord
	if err := c.get(ctx, "/api/songs/search", values, &records); err != nil {
		return nil, err
	}

	songs := make([]Song, len(records))
	for i, r := range records {
		songs[i] = r.song()
	}
	return songs, nil
}

// AllIDs fetches every song key the service knows.
func (c *Client) AllIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	if err := c.get(ctx, "/api/songs/ids", nil, &ids); err != nil {
		return nil, err
	}

	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// Ping checks the service health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil, nil)
}

// Close satisfies Catalog; the HTTP client holds no resources that
// need explicit release.
func (c *Client) Close() error {
	return nil
}
