package wayback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chronovista/storage"
)

// SnapshotCache stores CDX results per video id. A miss is (nil, false, nil).
type SnapshotCache interface {
	Get(ctx context.Context, videoID string) ([]CDXSnapshot, bool, error)
	Set(ctx context.Context, videoID string, snapshots []CDXSnapshot) error
}

// FileCache keeps one JSON file per video under a directory and expires
// entries by file modification time.
type FileCache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

var _ SnapshotCache = (*FileCache)(nil)

// NewFileCache creates dir if needed. A ttl of zero never expires entries.
func NewFileCache(dir string, ttl time.Duration) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileCache{dir: dir, ttl: ttl, now: time.Now}, nil
}

func (c *FileCache) path(videoID string) string {
	return filepath.Join(c.dir, url.PathEscape(videoID)+".json")
}

// Get returns the cached snapshots for videoID.
func (c *FileCache) Get(ctx context.Context, videoID string) ([]CDXSnapshot, bool, error) {
	p := c.path(videoID)
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("stat cache entry: %w", err)
	}
	if c.ttl > 0 && c.now().Sub(info.ModTime()) > c.ttl {
		return nil, false, nil
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	var snapshots []CDXSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", p, err)
	}
	return snapshots, true, nil
}

// Set writes the entry atomically.
func (c *FileCache) Set(ctx context.Context, videoID string, snapshots []CDXSnapshot) error {
	return storage.WriteJSONAtomic(c.path(videoID), snapshots)
}
