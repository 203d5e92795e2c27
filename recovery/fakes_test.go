package recovery

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chronovista/internal/logger"
	"chronovista/storage"
	"chronovista/wayback"
)

const (
	testVideoID   = "dQw4w9WgXcQ"
	testChannelID = "UCuAXFkgsw1L7xaCfnd5JJOw"
)

var fixedNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func observedLogger() (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.FromZap(zap.New(core)), logs
}

// memSession is an in-memory storage.Session with injectable failures.
type memSession struct {
	mu       sync.Mutex
	videos   map[string]*storage.Video
	channels map[string]*storage.Channel
	tags     map[string][]string

	updates   int
	created   []*storage.Channel
	tagOrders [][]int

	getErr    error
	updateErr error
	existsErr error
	createErr error
	tagErr    error
	getPanic  bool
	// staleExists makes Exists report false for stored channels, as when
	// another transaction inserts the row after the lookup.
	staleExists bool
}

func newMemSession(videos ...*storage.Video) *memSession {
	s := &memSession{
		videos:   make(map[string]*storage.Video),
		channels: make(map[string]*storage.Channel),
		tags:     make(map[string][]string),
	}
	for _, v := range videos {
		s.videos[v.VideoID] = v
	}
	return s
}

func (s *memSession) addChannel(id string, status storage.AvailabilityStatus) {
	s.channels[id] = &storage.Channel{ChannelID: id, Title: id, AvailabilityStatus: status}
}

func (s *memSession) video(id string) *storage.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videos[id]
}

func (s *memSession) Videos() storage.VideoRepository     { return memVideos{s} }
func (s *memSession) Channels() storage.ChannelRepository { return memChannels{s} }
func (s *memSession) Tags() storage.VideoTagRepository    { return memTags{s} }

type memVideos struct{ s *memSession }

func (r memVideos) GetByVideoID(ctx context.Context, videoID string) (*storage.Video, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.getPanic {
		panic("session closed")
	}
	if r.s.getErr != nil {
		return nil, r.s.getErr
	}
	v, ok := r.s.videos[videoID]
	if !ok {
		return nil, &storage.StorageError{Op: "read", Entity: "video", ID: videoID, Err: storage.ErrNotFound}
	}
	return v.Clone(), nil
}

func (r memVideos) UpdateRecovery(ctx context.Context, video *storage.Video) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.updateErr != nil {
		return r.s.updateErr
	}
	existing, ok := r.s.videos[video.VideoID]
	if !ok {
		return storage.ErrNotFound
	}
	if video.ChannelID != nil {
		if _, ok := r.s.channels[*video.ChannelID]; !ok {
			return storage.ErrForeignKey
		}
	}
	staged := video.Clone()
	staged.AvailabilityStatus = existing.AvailabilityStatus
	r.s.videos[video.VideoID] = staged
	r.s.updates++
	return nil
}

type memChannels struct{ s *memSession }

func (r memChannels) Exists(ctx context.Context, channelID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.existsErr != nil {
		return false, r.s.existsErr
	}
	_, ok := r.s.channels[channelID]
	return ok && !r.s.staleExists, nil
}

func (r memChannels) Get(ctx context.Context, channelID string) (*storage.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ch, ok := r.s.channels[channelID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *ch
	return &c, nil
}

func (r memChannels) Create(ctx context.Context, channel *storage.Channel) (*storage.Channel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.createErr != nil {
		return nil, r.s.createErr
	}
	if _, ok := r.s.channels[channel.ChannelID]; ok {
		return nil, storage.ErrAlreadyExists
	}
	c := *channel
	if c.AvailabilityStatus == "" {
		c.AvailabilityStatus = storage.StatusAvailable
	}
	r.s.channels[c.ChannelID] = &c
	r.s.created = append(r.s.created, &c)
	return &c, nil
}

type memTags struct{ s *memSession }

func (r memTags) BulkCreateVideoTags(ctx context.Context, videoID string, tags []string, tagOrders []int) ([]*storage.VideoTag, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.tagOrders = append(r.s.tagOrders, tagOrders)
	if r.s.tagErr != nil {
		return nil, r.s.tagErr
	}
	var out []*storage.VideoTag
	for _, tag := range tags {
		if slices.Contains(r.s.tags[videoID], tag) {
			continue
		}
		r.s.tags[videoID] = append(r.s.tags[videoID], tag)
		out = append(out, &storage.VideoTag{VideoID: videoID, Tag: tag})
	}
	return out, nil
}

func (r memTags) ListByVideo(ctx context.Context, videoID string) ([]*storage.VideoTag, error) {
	return nil, nil
}

// fakeCDX serves fixed capture lists per video.
type fakeCDX struct {
	mu      sync.Mutex
	byVideo map[string][]wayback.CDXSnapshot
	err     error
	calls   int
}

func (f *fakeCDX) FetchSnapshots(ctx context.Context, videoID string) ([]wayback.CDXSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byVideo[videoID], nil
}

type pageResult struct {
	data  *wayback.RecoveredVideoData
	err   error
	panic bool
}

// fakeParser answers by capture timestamp. Unknown timestamps yield an
// empty page.
type fakeParser struct {
	mu     sync.Mutex
	pages  map[string]pageResult
	called []string
	// cancel, when set, runs after the first extraction.
	cancel context.CancelFunc
}

func (f *fakeParser) ExtractMetadata(ctx context.Context, snap wayback.CDXSnapshot) (*wayback.RecoveredVideoData, error) {
	f.mu.Lock()
	f.called = append(f.called, snap.Timestamp)
	page, ok := f.pages[snap.Timestamp]
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if page.panic {
		panic("nil map write")
	}
	if !ok {
		return &wayback.RecoveredVideoData{SnapshotTimestamp: snap.Timestamp}, nil
	}
	if page.data != nil && page.data.SnapshotTimestamp == "" {
		page.data.SnapshotTimestamp = snap.Timestamp
	}
	return page.data, page.err
}

func (f *fakeParser) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.called...)
}

type fakeThrottle struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeThrottle) WaitForBackoff(ctx context.Context, urlStr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, urlStr)
	return ctx.Err()
}

func snapshotsAt(videoID string, timestamps ...string) []wayback.CDXSnapshot {
	out := make([]wayback.CDXSnapshot, len(timestamps))
	for i, ts := range timestamps {
		out[i] = wayback.CDXSnapshot{
			Timestamp:  ts,
			Original:   fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID),
			MimeType:   "text/html",
			StatusCode: "200",
			Digest:     "D" + ts,
		}
	}
	return out
}

func deletedVideo(id string) *storage.Video {
	return &storage.Video{VideoID: id, AvailabilityStatus: storage.StatusDeleted}
}
