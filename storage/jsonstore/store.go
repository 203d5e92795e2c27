// Package jsonstore implements storage.Store on a single JSON file, for
// running recovery without a database.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"chronovista/storage"
)

const (
	schemaVersion = "1.0"
	lockTimeout   = 5 * time.Second
)

// Store implements storage.Store using a single JSON file.
// Transactions stage their writes privately and apply them on commit, so
// concurrent transactions only contend while committing.
type Store struct {
	path string
	lock *FileLock
	data *storeData
	mu   sync.RWMutex
}

var _ storage.Store = (*Store)(nil)

// storeData is the top-level JSON structure.
type storeData struct {
	Version   string                         `json:"version"`
	UpdatedAt time.Time                      `json:"updated_at"`
	Channels  map[string]*storage.Channel    `json:"channels"`
	Videos    map[string]*storage.Video      `json:"videos"`
	Tags      map[string][]*storage.VideoTag `json:"tags"` // video_id -> tags
}

// Open opens the JSON store at path, creating an empty one if the file does
// not exist. The file stays locked until Close.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		lock: NewFileLock(path),
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}

	return s, nil
}

// load reads the JSON file into memory. Creates empty data if file doesn't exist.
func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = newStoreData()
			// Save immediately to catch permission errors early
			return s.save(s.data)
		}
		return &storage.StorageError{Op: "read", Entity: "store", Err: err}
	}

	data := &storeData{}
	if err := json.Unmarshal(raw, data); err != nil {
		return &storage.StorageError{Op: "read", Entity: "store", Err: storage.ErrStorageCorrupt}
	}
	if data.Channels == nil {
		data.Channels = make(map[string]*storage.Channel)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]*storage.Video)
	}
	if data.Tags == nil {
		data.Tags = make(map[string][]*storage.VideoTag)
	}
	s.data = data
	return nil
}

// save persists data to disk atomically.
func (s *Store) save(data *storeData) error {
	data.UpdatedAt = time.Now()
	if err := storage.WriteJSONAtomic(s.path, data); err != nil {
		return &storage.StorageError{Op: "write", Entity: "store", Err: err}
	}
	return nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Unlock()
}

// InTx runs fn against a session whose writes become visible, and are
// written to disk, only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, sess storage.Session) error) error {
	tx := newSession(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies staged writes, restoring the previous state if the file
// cannot be written.
func (s *Store) commit(tx *session) error {
	if tx.empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := tx.applyTo(next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// ListUnavailableVideoIDs returns ids of videos not marked AVAILABLE, oldest first.
func (s *Store) ListUnavailableVideoIDs(ctx context.Context, limit int) ([]string, error) {
	videos := s.listUnavailable(limit)
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.VideoID
	}
	return ids, nil
}

func (s *Store) listUnavailable(limit int) []*storage.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Video
	for _, v := range s.data.Videos {
		if v.AvailabilityStatus != storage.StatusAvailable {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].VideoID < out[j].VideoID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PutChannel inserts or replaces a channel outside any transaction. It is
// how rows produced by other tools get into the file.
func (s *Store) PutChannel(ctx context.Context, ch *storage.Channel) error {
	if ch.ChannelID == "" {
		return &storage.StorageError{Op: "put", Entity: "channel", Err: storage.ErrInvalidInput}
	}
	return s.put(func(d *storeData) error {
		c := *ch
		stampTimes(&c.CreatedAt, &c.UpdatedAt)
		d.Channels[c.ChannelID] = &c
		return nil
	})
}

// PutVideo inserts or replaces a video outside any transaction.
func (s *Store) PutVideo(ctx context.Context, v *storage.Video) error {
	if v.VideoID == "" || !v.AvailabilityStatus.Valid() {
		return &storage.StorageError{Op: "put", Entity: "video", ID: v.VideoID, Err: storage.ErrInvalidInput}
	}
	return s.put(func(d *storeData) error {
		if v.ChannelID != nil {
			if _, ok := d.Channels[*v.ChannelID]; !ok {
				return &storage.StorageError{Op: "put", Entity: "video", ID: v.VideoID, Err: storage.ErrForeignKey}
			}
		}
		c := v.Clone()
		stampTimes(&c.CreatedAt, &c.UpdatedAt)
		d.Videos[c.VideoID] = c
		return nil
	})
}

func (s *Store) put(apply func(*storeData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.data.clone()
	if err := apply(next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func stampTimes(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func newStoreData() *storeData {
	return &storeData{
		Version:   schemaVersion,
		UpdatedAt: time.Now(),
		Channels:  make(map[string]*storage.Channel),
		Videos:    make(map[string]*storage.Video),
		Tags:      make(map[string][]*storage.VideoTag),
	}
}

// clone copies the maps; rows are treated as immutable once stored, so
// replacing a row never mutates a value another reader holds.
func (d *storeData) clone() *storeData {
	c := &storeData{
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
		Channels:  make(map[string]*storage.Channel, len(d.Channels)),
		Videos:    make(map[string]*storage.Video, len(d.Videos)),
		Tags:      make(map[string][]*storage.VideoTag, len(d.Tags)),
	}
	for k, v := range d.Channels {
		c.Channels[k] = v
	}
	for k, v := range d.Videos {
		c.Videos[k] = v
	}
	for k, v := range d.Tags {
		c.Tags[k] = append([]*storage.VideoTag(nil), v...)
	}
	return c
}
