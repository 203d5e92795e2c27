package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"chronovista/storage"
	"chronovista/wayback"
)

const (
	tsNewest = "20220106075526"
	tsMiddle = "20190512103000"
	tsOldest = "20150101000000"
)

type harness struct {
	sess     *memSession
	cdx      *fakeCDX
	parser   *fakeParser
	throttle *fakeThrottle
	logs     *observer.ObservedLogs
	r        *Recoverer
}

func newHarness(t *testing.T, video *storage.Video, snapshots []wayback.CDXSnapshot, pages map[string]pageResult, opts ...Option) *harness {
	t.Helper()
	log, logs := observedLogger()
	h := &harness{
		sess:     newMemSession(),
		cdx:      &fakeCDX{byVideo: map[string][]wayback.CDXSnapshot{testVideoID: snapshots}},
		parser:   &fakeParser{pages: pages},
		throttle: &fakeThrottle{},
		logs:     logs,
	}
	if video != nil {
		h.sess.videos[video.VideoID] = video
	}
	opts = append([]Option{WithLogger(log), WithClock(func() time.Time { return fixedNow })}, opts...)
	h.r = New(h.cdx, h.parser, h.throttle, opts...)
	return h
}

func (h *harness) runOnce(dryRun bool) *Result {
	return h.r.RecoverVideo(context.Background(), h.sess, testVideoID, dryRun)
}

func fullPage() *wayback.RecoveredVideoData {
	return &wayback.RecoveredVideoData{
		Title:           ptr("Never Gonna Give You Up"),
		Description:     ptr("The official video"),
		ChannelID:       ptr(testChannelID),
		ChannelNameHint: ptr("Rick Astley"),
		CategoryID:      ptr("10"),
		UploadDate:      ptr(time.Date(2009, 10, 25, 0, 0, 0, 0, time.UTC)),
		ViewCount:       ptr(int64(1_000_000)),
		LikeCount:       ptr(int64(50_000)),
		ThumbnailURL:    ptr("https://i.ytimg.com/vi/dQw4w9WgXcQ/maxresdefault.jpg"),
		Tags:            []string{"rick astley", "80s"},
	}
}

func TestRecoverVideo_NotFound(t *testing.T) {
	h := newHarness(t, nil, nil, nil)

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonVideoNotFound, res.FailureReason)
	assert.Zero(t, h.cdx.calls, "archive must not be queried")
}

func TestRecoverVideo_AvailableVideo(t *testing.T) {
	video := &storage.Video{VideoID: testVideoID, AvailabilityStatus: storage.StatusAvailable}
	h := newHarness(t, video, snapshotsAt(testVideoID, tsNewest), nil)

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonVideoAvailable, res.FailureReason)
	assert.Zero(t, h.cdx.calls)
}

func TestRecoverVideo_LookupError(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), nil, nil)
	h.sess.getErr = errors.New("connection refused")

	res := h.runOnce(false)

	assert.Equal(t, ReasonUnexpectedError, res.FailureReason)
	assert.Contains(t, res.Error, "connection refused")
}

func TestRecoverVideo_CDXErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"timeout", fmt.Errorf("%w after 30s", wayback.ErrCDXTimeout), ReasonCDXTimeout},
		{"http failure", &wayback.CDXError{VideoID: testVideoID, Err: errors.New("503")}, ReasonUnexpectedError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, deletedVideo(testVideoID), nil, nil)
			h.cdx.err = tt.err

			res := h.runOnce(false)

			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.FailureReason)
			assert.True(t, res.FailureReason.Fatal())
			assert.Empty(t, h.parser.calls())
		})
	}
}

func TestRecoverVideo_NoSnapshots(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), nil, nil)

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoSnapshots, res.FailureReason)
	assert.False(t, res.FailureReason.Fatal())
	assert.Zero(t, res.SnapshotsAvailable)
}

func TestRecoverVideo_DryRun(t *testing.T) {
	snaps := snapshotsAt(testVideoID, tsNewest, tsMiddle, tsOldest)
	h := newHarness(t, deletedVideo(testVideoID), snaps, map[string]pageResult{tsNewest: {data: fullPage()}})

	res := h.runOnce(true)

	require.True(t, res.Success)
	assert.True(t, res.DryRun)
	assert.Equal(t, tsNewest, res.SnapshotUsed)
	assert.Equal(t, 3, res.SnapshotsAvailable)
	assert.Equal(t, 1, res.SnapshotsTried)
	assert.Empty(t, h.parser.calls(), "dry run must not fetch pages")
	assert.Zero(t, h.sess.updates)
	assert.Empty(t, res.FieldsRecovered)
}

func TestRecoverVideo_FillsEmptyVideo(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest, tsMiddle),
		map[string]pageResult{tsNewest: {data: fullPage()}})

	res := h.runOnce(false)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, Fields(), res.FieldsRecovered)
	assert.Empty(t, res.FieldsSkipped)
	assert.Equal(t, tsNewest, res.SnapshotUsed)
	assert.Equal(t, 1, res.SnapshotsTried)
	assert.Equal(t, 2, res.SnapshotsAvailable)

	stored := h.sess.video(testVideoID)
	assert.Equal(t, "Never Gonna Give You Up", *stored.Title)
	assert.Equal(t, testChannelID, *stored.ChannelID)
	assert.Equal(t, "10", *stored.CategoryID)
	assert.Equal(t, int64(50_000), *stored.LikeCount)
	assert.Equal(t, "wayback:"+tsNewest, *stored.RecoverySource)
	assert.Equal(t, fixedNow, *stored.RecoveredAt)
	assert.Equal(t, storage.StatusDeleted, stored.AvailabilityStatus)

	require.Len(t, h.sess.created, 1)
	assert.Equal(t, "Rick Astley", h.sess.created[0].Title)
	assert.True(t, h.sess.created[0].IsStub)
	assert.Equal(t, Outcome{Attempted: true, OK: true}, res.StubChannel)

	assert.Equal(t, []string{"rick astley", "80s"}, h.sess.tags[testVideoID])
	require.Len(t, h.sess.tagOrders, 1)
	assert.Nil(t, h.sess.tagOrders[0])
	assert.Equal(t, Outcome{Attempted: true, OK: true}, res.Tags)

	assert.Empty(t, res.ChannelRecoveryCandidates, "stub channels are AVAILABLE")
}

func TestRecoverVideo_StubTitleFallsBackToChannelID(t *testing.T) {
	page := &wayback.RecoveredVideoData{Title: ptr("t"), ChannelID: ptr(testChannelID)}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})

	res := h.runOnce(false)

	require.True(t, res.Success)
	require.Len(t, h.sess.created, 1)
	assert.Equal(t, testChannelID, h.sess.created[0].Title)
}

func TestRecoverVideo_ImmutableFieldsKept(t *testing.T) {
	video := deletedVideo(testVideoID)
	video.ChannelID = ptr("UCoriginal000000000000A")
	video.CategoryID = ptr("22")
	h := newHarness(t, video, snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: fullPage()}})
	h.sess.addChannel("UCoriginal000000000000A", storage.StatusAvailable)

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.ElementsMatch(t, []Field{FieldChannelID, FieldCategoryID}, res.FieldsSkipped)
	assert.NotContains(t, res.FieldsRecovered, FieldChannelID)
	assert.Contains(t, res.FieldsRecovered, FieldTitle)

	stored := h.sess.video(testVideoID)
	assert.Equal(t, "UCoriginal000000000000A", *stored.ChannelID)
	assert.Equal(t, "22", *stored.CategoryID)
	assert.Empty(t, h.sess.created, "no stub for a skipped channel_id")
	assert.Equal(t, Outcome{}, res.StubChannel)
}

func TestRecoverVideo_MutableFields(t *testing.T) {
	tests := []struct {
		name          string
		source        *string
		wantOverwrite bool
	}{
		{"never recovered", nil, true},
		{"older recovery", ptr("wayback:" + tsOldest), true},
		{"same snapshot", ptr("wayback:" + tsNewest), false},
		{"newer recovery", ptr("wayback:20240101000000"), false},
		{"foreign source", ptr("import:2021"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			video := deletedVideo(testVideoID)
			video.Title = ptr("Old title")
			video.ViewCount = ptr(int64(10))
			video.RecoverySource = tt.source
			page := &wayback.RecoveredVideoData{Title: ptr("New title"), ViewCount: ptr(int64(99))}
			h := newHarness(t, video, snapshotsAt(testVideoID, tsNewest),
				map[string]pageResult{tsNewest: {data: page}})

			res := h.runOnce(false)
			require.True(t, res.Success)

			stored := h.sess.video(testVideoID)
			if tt.wantOverwrite {
				assert.Equal(t, []Field{FieldTitle, FieldViewCount}, res.FieldsRecovered)
				assert.Equal(t, "New title", *stored.Title)
				assert.Equal(t, int64(99), *stored.ViewCount)
				assert.Equal(t, "wayback:"+tsNewest, *stored.RecoverySource)
				return
			}
			assert.Empty(t, res.FieldsRecovered)
			assert.Equal(t, []Field{FieldTitle, FieldViewCount}, res.FieldsSkipped)
			assert.Equal(t, "Old title", *stored.Title)
			assert.Zero(t, h.sess.updates, "nothing to write")
		})
	}
}

func TestRecoverVideo_MissingValuesNeverBlank(t *testing.T) {
	video := deletedVideo(testVideoID)
	video.Description = ptr("keep me")
	video.LikeCount = ptr(int64(7))
	page := &wayback.RecoveredVideoData{Title: ptr("Only a title")}
	h := newHarness(t, video, snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.Equal(t, []Field{FieldTitle}, res.FieldsRecovered)
	assert.Empty(t, res.FieldsSkipped)
	stored := h.sess.video(testVideoID)
	assert.Equal(t, "keep me", *stored.Description)
	assert.Equal(t, int64(7), *stored.LikeCount)
}

func TestRecoverVideo_ScanSkipsBadSnapshots(t *testing.T) {
	snaps := snapshotsAt(testVideoID, "20230101000000", "20220101000000", "20210101000000", "20200101000000", "20190101000000")
	pages := map[string]pageResult{
		"20230101000000": {err: fmt.Errorf("%w: deadline", wayback.ErrPageTimeout)},
		"20220101000000": {err: errors.New("fetch snapshot: status 502")},
		"20210101000000": {data: &wayback.RecoveredVideoData{}},
		"20200101000000": {data: &wayback.RecoveredVideoData{Title: ptr("Found")}},
	}
	h := newHarness(t, deletedVideo(testVideoID), snaps, pages)

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.Equal(t, "20200101000000", res.SnapshotUsed)
	assert.Equal(t, 4, res.SnapshotsTried)
	assert.Equal(t, 5, res.SnapshotsAvailable)
	assert.Equal(t, []string{"20230101000000", "20220101000000", "20210101000000", "20200101000000"}, h.parser.calls())
	assert.Len(t, h.throttle.urls, 4)
	assert.Equal(t, wayback.DefaultArchiveURL, h.throttle.urls[0])

	warns := h.logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 2)
	assert.Equal(t, "snapshot fetch timed out, skipping", warns[0].Message)
	assert.Equal(t, "20230101000000", warns[0].ContextMap()["snapshot"])
}

func TestRecoverVideo_ScanExhausted(t *testing.T) {
	snaps := snapshotsAt(testVideoID, tsNewest, tsMiddle, tsOldest)
	h := newHarness(t, deletedVideo(testVideoID), snaps, nil)

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoSnapshots, res.FailureReason)
	assert.Equal(t, 3, res.SnapshotsTried)
	assert.Zero(t, h.sess.updates)
}

func TestRecoverVideo_MaxSnapshots(t *testing.T) {
	snaps := snapshotsAt(testVideoID, "20240101000000", "20230101000000", "20220101000000", "20210101000000")
	h := newHarness(t, deletedVideo(testVideoID), snaps, nil, WithMaxSnapshots(2))

	res := h.runOnce(false)

	assert.Equal(t, ReasonNoSnapshots, res.FailureReason)
	assert.Equal(t, 2, res.SnapshotsTried)
	assert.Equal(t, 4, res.SnapshotsAvailable)
}

func TestRecoverVideo_DefaultCapThirtySnapshots(t *testing.T) {
	timestamps := make([]string, 30)
	for i := range timestamps {
		timestamps[i] = fmt.Sprintf("2023%02d%02d000000", 12-i/28, 28-i%28)
	}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, timestamps...), nil)

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonNoSnapshots, res.FailureReason)
	assert.Equal(t, 30, res.SnapshotsAvailable)
	assert.Equal(t, wayback.MaxSnapshots, res.SnapshotsTried)
	assert.Equal(t, timestamps[:wayback.MaxSnapshots], h.parser.calls())
}

func TestRecoverVideo_Idempotent(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest, tsMiddle),
		map[string]pageResult{tsNewest: {data: fullPage()}})

	first := h.runOnce(false)
	require.True(t, first.Success, first.Error)
	require.Equal(t, Fields(), first.FieldsRecovered)
	afterFirst := h.sess.video(testVideoID).Clone()
	tagsAfterFirst := slices.Clone(h.sess.tags[testVideoID])

	second := h.runOnce(false)

	require.True(t, second.Success, second.Error)
	assert.Equal(t, tsNewest, second.SnapshotUsed)
	assert.Empty(t, second.FieldsRecovered)
	assert.Equal(t, Fields(), second.FieldsSkipped)
	assert.Equal(t, afterFirst, h.sess.video(testVideoID))
	assert.Equal(t, tagsAfterFirst, h.sess.tags[testVideoID])
	assert.Equal(t, 1, h.sess.updates)
	assert.Len(t, h.sess.created, 1)
}

func TestRecoverVideo_TagsAccumulate(t *testing.T) {
	page := &wayback.RecoveredVideoData{Title: ptr("Title"), Tags: []string{"80s", "synthpop"}}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})
	h.sess.tags[testVideoID] = []string{"rick astley", "80s"}

	res := h.runOnce(false)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, Outcome{Attempted: true, OK: true}, res.Tags)
	assert.Equal(t, []string{"rick astley", "80s", "synthpop"}, h.sess.tags[testVideoID])
}

func TestWithMaxSnapshots_IgnoresOutOfRange(t *testing.T) {
	for _, n := range []int{0, -1, wayback.MaxSnapshots + 1} {
		r := New(&fakeCDX{}, &fakeParser{}, nil, WithMaxSnapshots(n))
		assert.Equal(t, wayback.MaxSnapshots, r.maxSnapshots, "n=%d", n)
	}
}

func TestRecoverVideo_CancelledDuringScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	snaps := snapshotsAt(testVideoID, tsNewest, tsMiddle, tsOldest)
	h := newHarness(t, deletedVideo(testVideoID), snaps, nil)
	h.parser.cancel = cancel

	res := h.r.RecoverVideo(ctx, h.sess, testVideoID, false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnexpectedError, res.FailureReason)
	assert.Equal(t, 1, res.SnapshotsTried)
	assert.Contains(t, res.Error, context.Canceled.Error())
}

func TestRecoverVideo_StubChannelFailure(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*memSession)
	}{
		{"exists check fails", func(s *memSession) { s.existsErr = errors.New("relation channels does not exist") }},
		{"create fails", func(s *memSession) { s.createErr = errors.New("connection reset") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := &wayback.RecoveredVideoData{Title: ptr("Title"), ChannelID: ptr(testChannelID)}
			h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
				map[string]pageResult{tsNewest: {data: page}})
			tt.inject(h.sess)

			res := h.runOnce(false)

			require.True(t, res.Success)
			assert.Equal(t, []Field{FieldTitle}, res.FieldsRecovered)
			assert.Equal(t, []Field{FieldChannelID}, res.FieldsSkipped)
			assert.True(t, res.StubChannel.Attempted)
			assert.False(t, res.StubChannel.OK)
			assert.NotEmpty(t, res.StubChannel.Reason)

			stored := h.sess.video(testVideoID)
			assert.Nil(t, stored.ChannelID)
			assert.Equal(t, "Title", *stored.Title)
		})
	}
}

func TestRecoverVideo_StubChannelCreatedConcurrently(t *testing.T) {
	page := &wayback.RecoveredVideoData{Title: ptr("Title"), ChannelID: ptr(testChannelID)}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})
	h.sess.addChannel(testChannelID, storage.StatusAvailable)
	h.sess.staleExists = true

	res := h.runOnce(false)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []Field{FieldChannelID, FieldTitle}, res.FieldsRecovered)
	assert.Empty(t, res.FieldsSkipped)
	assert.Equal(t, Outcome{}, res.StubChannel)
	assert.Empty(t, h.sess.created)
	assert.Equal(t, testChannelID, *h.sess.video(testVideoID).ChannelID)
}

func TestRecoverVideo_ExistingChannel(t *testing.T) {
	page := &wayback.RecoveredVideoData{Title: ptr("Title"), ChannelID: ptr(testChannelID)}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})
	h.sess.addChannel(testChannelID, storage.StatusTerminated)

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.Empty(t, h.sess.created)
	assert.Equal(t, Outcome{}, res.StubChannel)
	assert.Contains(t, res.FieldsRecovered, FieldChannelID)
	assert.Equal(t, []string{testChannelID}, res.ChannelRecoveryCandidates)
}

func TestRecoverVideo_ChannelCandidateFromStoredChannel(t *testing.T) {
	video := deletedVideo(testVideoID)
	video.ChannelID = ptr(testChannelID)
	h := newHarness(t, video, snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: &wayback.RecoveredVideoData{Title: ptr("T")}}})
	h.sess.addChannel(testChannelID, storage.StatusDeleted)

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.Equal(t, []string{testChannelID}, res.ChannelRecoveryCandidates)
}

func TestRecoverVideo_TagFailureIsBestEffort(t *testing.T) {
	page := &wayback.RecoveredVideoData{Title: ptr("Title"), Tags: []string{"a", "b"}}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})
	h.sess.tagErr = errors.New("unique violation")

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.True(t, res.Tags.Attempted)
	assert.False(t, res.Tags.OK)
	assert.Equal(t, "unique violation", res.Tags.Reason)
	assert.Equal(t, "Title", *h.sess.video(testVideoID).Title)

	warns := h.logs.FilterMessage("tag persistence failed").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.Equal(t, testVideoID, warns[0].ContextMap()["video_id"])
}

func TestRecoverVideo_TagsOnlyPage(t *testing.T) {
	page := &wayback.RecoveredVideoData{Tags: []string{"only", "tags"}}
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: page}})

	res := h.runOnce(false)

	require.True(t, res.Success)
	assert.Empty(t, res.FieldsRecovered)
	assert.Zero(t, h.sess.updates)
	assert.Equal(t, []string{"only", "tags"}, h.sess.tags[testVideoID])
}

func TestRecoverVideo_UpdateFails(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {data: &wayback.RecoveredVideoData{Title: ptr("T")}}})
	h.sess.updateErr = &storage.StorageError{Op: "update", Entity: "video", ID: testVideoID, Err: storage.ErrForeignKey}

	res := h.runOnce(false)

	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnexpectedError, res.FailureReason)
	assert.Contains(t, res.Error, "foreign key")
}

func TestRecoverVideo_PanicBecomesResult(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest),
		map[string]pageResult{tsNewest: {panic: true}})

	var res *Result
	require.NotPanics(t, func() { res = h.runOnce(false) })

	assert.False(t, res.Success)
	assert.Equal(t, ReasonUnexpectedError, res.FailureReason)
	assert.Contains(t, res.Error, "panic")
	assert.NotNil(t, res.FieldsRecovered)
	assert.Equal(t, 1, h.logs.FilterMessage("recovery panicked").Len())
}

func TestRecoverVideo_FinishedLog(t *testing.T) {
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest), nil)

	h.runOnce(false)

	entries := h.logs.FilterMessage("recovery finished").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, false, ctx["success"])
	assert.Equal(t, string(ReasonNoSnapshots), ctx["reason"])
	assert.Equal(t, testVideoID, ctx["video_id"])
}

func TestRecoverVideo_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, deletedVideo(testVideoID), snapshotsAt(testVideoID, tsNewest, tsMiddle),
		map[string]pageResult{tsMiddle: {data: &wayback.RecoveredVideoData{Title: ptr("T"), LikeCount: ptr(int64(3))}}},
		WithMetrics(m))

	h.runOnce(false)
	h.r.RecoverVideo(context.Background(), h.sess, "missingVid1", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("failure", string(ReasonVideoNotFound))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldsRecoveredTotal.WithLabelValues(string(FieldTitle))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldsRecoveredTotal.WithLabelValues(string(FieldLikeCount))))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AttemptsTotal))

	m.CircuitStateChanged("web.archive.org", "closed", "open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerChanges.WithLabelValues("web.archive.org", "closed", "open")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.observe(&Result{})
		m.CircuitStateChanged("h", "closed", "open")
	})
}
