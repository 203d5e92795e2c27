package jsonstore

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chronovista/storage"
)

// session stages writes for one transaction. It is not safe for concurrent use.
type session struct {
	store    *Store
	videos   map[string]*storage.Video
	channels map[string]*storage.Channel
	tags     map[string][]*storage.VideoTag
}

func newSession(s *Store) *session {
	return &session{
		store:    s,
		videos:   make(map[string]*storage.Video),
		channels: make(map[string]*storage.Channel),
		tags:     make(map[string][]*storage.VideoTag),
	}
}

func (s *session) Videos() storage.VideoRepository     { return videoRepo{s} }
func (s *session) Channels() storage.ChannelRepository { return channelRepo{s} }
func (s *session) Tags() storage.VideoTagRepository    { return tagRepo{s} }

func (s *session) empty() bool {
	return len(s.videos) == 0 && len(s.channels) == 0 && len(s.tags) == 0
}

// video returns the staged or committed row, uncloned.
func (s *session) video(id string) (*storage.Video, bool) {
	if v, ok := s.videos[id]; ok {
		return v, true
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	v, ok := s.store.data.Videos[id]
	return v, ok
}

func (s *session) channel(id string) (*storage.Channel, bool) {
	if c, ok := s.channels[id]; ok {
		return c, true
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	c, ok := s.store.data.Channels[id]
	return c, ok
}

func (s *session) tagsFor(videoID string) []*storage.VideoTag {
	s.store.mu.RLock()
	committed := append([]*storage.VideoTag(nil), s.store.data.Tags[videoID]...)
	s.store.mu.RUnlock()
	return append(committed, s.tags[videoID]...)
}

// applyTo merges staged writes into d. Channels created concurrently by
// another transaction are kept as they are.
func (s *session) applyTo(d *storeData) error {
	for id, ch := range s.channels {
		if _, exists := d.Channels[id]; !exists {
			d.Channels[id] = ch
		}
	}

	for id, v := range s.videos {
		current, ok := d.Videos[id]
		if !ok {
			return &storage.StorageError{Op: "update", Entity: "video", ID: id, Err: storage.ErrNotFound}
		}
		if v.ChannelID != nil {
			if _, ok := d.Channels[*v.ChannelID]; !ok {
				return &storage.StorageError{Op: "update", Entity: "video", ID: id, Err: storage.ErrForeignKey}
			}
		}
		v.AvailabilityStatus = current.AvailabilityStatus
		d.Videos[id] = v
	}

	for videoID, staged := range s.tags {
		have := make(map[string]bool, len(d.Tags[videoID]))
		for _, t := range d.Tags[videoID] {
			have[t.Tag] = true
		}
		for _, t := range staged {
			if !have[t.Tag] {
				d.Tags[videoID] = append(d.Tags[videoID], t)
				have[t.Tag] = true
			}
		}
	}
	return nil
}

type videoRepo struct{ s *session }

func (r videoRepo) GetByVideoID(ctx context.Context, videoID string) (*storage.Video, error) {
	v, ok := r.s.video(videoID)
	if !ok {
		return nil, &storage.StorageError{Op: "read", Entity: "video", ID: videoID, Err: storage.ErrNotFound}
	}
	return v.Clone(), nil
}

func (r videoRepo) UpdateRecovery(ctx context.Context, video *storage.Video) error {
	existing, ok := r.s.video(video.VideoID)
	if !ok {
		return &storage.StorageError{Op: "update", Entity: "video", ID: video.VideoID, Err: storage.ErrNotFound}
	}
	if video.ChannelID != nil {
		if _, ok := r.s.channel(*video.ChannelID); !ok {
			return &storage.StorageError{Op: "update", Entity: "video", ID: video.VideoID, Err: storage.ErrForeignKey}
		}
	}

	staged := video.Clone()
	staged.AvailabilityStatus = existing.AvailabilityStatus
	staged.CreatedAt = existing.CreatedAt
	staged.UpdatedAt = time.Now().UTC()
	r.s.videos[video.VideoID] = staged
	return nil
}

type channelRepo struct{ s *session }

func (r channelRepo) Exists(ctx context.Context, channelID string) (bool, error) {
	_, ok := r.s.channel(channelID)
	return ok, nil
}

func (r channelRepo) Get(ctx context.Context, channelID string) (*storage.Channel, error) {
	ch, ok := r.s.channel(channelID)
	if !ok {
		return nil, &storage.StorageError{Op: "read", Entity: "channel", ID: channelID, Err: storage.ErrNotFound}
	}
	c := *ch
	return &c, nil
}

func (r channelRepo) Create(ctx context.Context, channel *storage.Channel) (*storage.Channel, error) {
	if channel.ChannelID == "" {
		return nil, &storage.StorageError{Op: "create", Entity: "channel", Err: storage.ErrInvalidInput}
	}
	if _, ok := r.s.channel(channel.ChannelID); ok {
		return nil, &storage.StorageError{Op: "create", Entity: "channel", ID: channel.ChannelID, Err: storage.ErrAlreadyExists}
	}

	c := *channel
	if c.AvailabilityStatus == "" {
		c.AvailabilityStatus = storage.StatusAvailable
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.s.channels[c.ChannelID] = &c

	out := c
	return &out, nil
}

type tagRepo struct{ s *session }

func (r tagRepo) BulkCreateVideoTags(ctx context.Context, videoID string, tags []string, tagOrders []int) ([]*storage.VideoTag, error) {
	if tagOrders != nil && len(tagOrders) != len(tags) {
		return nil, &storage.StorageError{Op: "create", Entity: "video_tag", ID: videoID, Err: storage.ErrInvalidInput}
	}
	if _, ok := r.s.video(videoID); !ok {
		return nil, &storage.StorageError{Op: "create", Entity: "video_tag", ID: videoID, Err: storage.ErrForeignKey}
	}

	have := make(map[string]bool)
	for _, t := range r.s.tagsFor(videoID) {
		have[t.Tag] = true
	}

	now := time.Now().UTC()
	var created []*storage.VideoTag
	for i, raw := range tags {
		tag := strings.TrimSpace(raw)
		if tag == "" || have[tag] {
			continue
		}
		have[tag] = true

		vt := &storage.VideoTag{
			ID:        uuid.NewString(),
			VideoID:   videoID,
			Tag:       tag,
			CreatedAt: now,
		}
		if tagOrders != nil {
			order := tagOrders[i]
			vt.TagOrder = &order
		}
		r.s.tags[videoID] = append(r.s.tags[videoID], vt)
		c := *vt
		created = append(created, &c)
	}
	return created, nil
}

func (r tagRepo) ListByVideo(ctx context.Context, videoID string) ([]*storage.VideoTag, error) {
	all := r.s.tagsFor(videoID)
	out := make([]*storage.VideoTag, len(all))
	for i, t := range all {
		c := *t
		out[i] = &c
	}
	// Unordered tags keep insertion order after ordered ones.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].TagOrder, out[j].TagOrder
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return out, nil
}
