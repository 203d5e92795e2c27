// Package recovery reconstructs metadata for unavailable videos from
// archived watch pages and merges it into the local database.
//
// A Recoverer walks a video's captures newest first, takes the first one
// that yields data, and writes fields under a tiered overwrite policy:
// channel_id and category_id are filled only while NULL, descriptive fields
// and upload_date may be overwritten by a strictly newer capture, and a
// value missing from the capture never blanks a stored one.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"chronovista/internal/logger"
	"chronovista/storage"
	"chronovista/wayback"
)

// SnapshotLister lists captures for a video, newest first.
// *wayback.CDXClient satisfies it.
type SnapshotLister interface {
	FetchSnapshots(ctx context.Context, videoID string) ([]wayback.CDXSnapshot, error)
}

// MetadataExtractor reads one capture. *wayback.PageParser satisfies it.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, snapshot wayback.CDXSnapshot) (*wayback.RecoveredVideoData, error)
}

// Throttle is the part of the shared rate limiter the orchestrator uses
// between captures. Request tokens are taken by the HTTP client that the
// lister and extractor share with it. *http.RateLimiter satisfies it.
type Throttle interface {
	WaitForBackoff(ctx context.Context, urlStr string) error
}

// Recoverer runs recoveries. It is safe for concurrent use when its
// collaborators are.
type Recoverer struct {
	cdx          SnapshotLister
	parser       MetadataExtractor
	limiter      Throttle
	maxSnapshots int
	archiveURL   string
	log          logger.Logger
	metrics      *Metrics
	now          func() time.Time
}

// Option configures a Recoverer.
type Option func(*Recoverer)

// WithMaxSnapshots caps how many captures one recovery reads.
// Values outside 1..wayback.MaxSnapshots are ignored.
func WithMaxSnapshots(n int) Option {
	return func(r *Recoverer) {
		if n > 0 && n <= wayback.MaxSnapshots {
			r.maxSnapshots = n
		}
	}
}

// WithArchiveURL sets the archive base used to key backoff waits.
func WithArchiveURL(base string) Option {
	return func(r *Recoverer) {
		r.archiveURL = base
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Recoverer) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics records every recovery in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Recoverer) {
		r.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recoverer) {
		r.now = now
	}
}

// New creates a Recoverer. limiter may be nil.
func New(cdx SnapshotLister, parser MetadataExtractor, limiter Throttle, opts ...Option) *Recoverer {
	r := &Recoverer{
		cdx:          cdx,
		parser:       parser,
		limiter:      limiter,
		maxSnapshots: wayback.MaxSnapshots,
		archiveURL:   wayback.DefaultArchiveURL,
		log:          logger.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecoverVideo recovers one video inside the caller's session. It never
// commits or rolls back, and it reports every failure in the Result rather
// than returning an error or panicking.
func (r *Recoverer) RecoverVideo(ctx context.Context, sess storage.Session, videoID string, dryRun bool) (res *Result) {
	start := r.now()
	res = &Result{VideoID: videoID, DryRun: dryRun}
	log := r.log.With(logger.String("video_id", videoID))

	log.Info("starting recovery", logger.Bool("dry_run", dryRun))

	defer func() {
		if p := recover(); p != nil {
			log.Error("recovery panicked", logger.String("panic", fmt.Sprint(p)))
			res.fail(ReasonUnexpectedError, fmt.Errorf("panic: %v", p))
		}
		res.finish(r.now().Sub(start))
		r.metrics.observe(res)

		fields := []logger.Field{
			logger.Bool("success", res.Success),
			logger.String("snapshot", res.SnapshotUsed),
			logger.Int("snapshots_available", res.SnapshotsAvailable),
			logger.Int("snapshots_tried", res.SnapshotsTried),
			logger.Int("fields_recovered", len(res.FieldsRecovered)),
			logger.Duration("duration", res.Duration),
		}
		if !res.Success {
			fields = append(fields, logger.String("reason", string(res.FailureReason)))
		}
		log.Info("recovery finished", fields...)
	}()

	r.run(ctx, log, sess, res)
	return res
}

func (r *Recoverer) run(ctx context.Context, log logger.Logger, sess storage.Session, res *Result) {
	video, err := sess.Videos().GetByVideoID(ctx, res.VideoID)
	if errors.Is(err, storage.ErrNotFound) {
		res.fail(ReasonVideoNotFound, nil)
		return
	}
	if err != nil {
		res.fail(ReasonUnexpectedError, err)
		return
	}
	if video.AvailabilityStatus == storage.StatusAvailable {
		res.fail(ReasonVideoAvailable, nil)
		return
	}

	snapshots, err := r.cdx.FetchSnapshots(ctx, res.VideoID)
	if errors.Is(err, wayback.ErrCDXTimeout) {
		res.fail(ReasonCDXTimeout, err)
		return
	}
	if err != nil {
		res.fail(ReasonUnexpectedError, err)
		return
	}
	if len(snapshots) == 0 {
		res.fail(ReasonNoSnapshots, nil)
		return
	}
	res.SnapshotsAvailable = len(snapshots)

	if res.DryRun {
		res.Success = true
		res.SnapshotsTried = 1
		res.SnapshotUsed = snapshots[0].Timestamp
		return
	}

	data := r.scan(ctx, log, snapshots, res)
	if data == nil {
		if err := ctx.Err(); err != nil {
			res.fail(ReasonUnexpectedError, err)
			return
		}
		res.fail(ReasonNoSnapshots, nil)
		return
	}
	res.SnapshotUsed = data.SnapshotTimestamp

	recovered, skipped := planMerge(video, data)

	if slices.Contains(recovered, FieldChannelID) {
		res.StubChannel = r.ensureChannel(ctx, log, sess, *data.ChannelID, data.ChannelNameHint)
		if res.StubChannel.Attempted && !res.StubChannel.OK {
			recovered = without(recovered, FieldChannelID)
			skipped = append(skipped, FieldChannelID)
		}
	}

	if len(recovered) > 0 {
		updated := video.Clone()
		applyFields(updated, data, recovered)
		source := storage.RecoverySourcePrefix + data.SnapshotTimestamp
		at := r.now().UTC()
		updated.RecoverySource = &source
		updated.RecoveredAt = &at

		if err := sess.Videos().UpdateRecovery(ctx, updated); err != nil {
			res.fail(ReasonUnexpectedError, err)
			return
		}
		video = updated
	}
	res.FieldsRecovered = recovered
	res.FieldsSkipped = skipped

	if video.ChannelID != nil {
		res.ChannelRecoveryCandidates = r.channelCandidates(ctx, log, sess, *video.ChannelID)
	}

	if len(data.Tags) > 0 {
		res.Tags = r.persistTags(ctx, log, sess, res.VideoID, data.Tags)
	}

	res.Success = true
}

// scan reads captures newest first and returns the first that has data, or
// nil when none does. Failures of single captures are skipped.
func (r *Recoverer) scan(ctx context.Context, log logger.Logger, snapshots []wayback.CDXSnapshot, res *Result) *wayback.RecoveredVideoData {
	limit := min(len(snapshots), r.maxSnapshots)

	for _, snap := range snapshots[:limit] {
		if ctx.Err() != nil {
			return nil
		}
		if r.limiter != nil {
			if err := r.limiter.WaitForBackoff(ctx, r.archiveURL); err != nil {
				return nil
			}
		}

		res.SnapshotsTried++
		snapLog := log.With(logger.String("snapshot", snap.Timestamp))

		data, err := r.parser.ExtractMetadata(ctx, snap)
		switch {
		case errors.Is(err, wayback.ErrPageTimeout):
			snapLog.Warn("snapshot fetch timed out, skipping", logger.Error(err))
		case err != nil:
			snapLog.Warn("snapshot extraction failed, skipping", logger.Error(err))
		case !data.HasData():
			snapLog.Debug("snapshot has no usable data, skipping")
		default:
			if data.SnapshotTimestamp == "" {
				data.SnapshotTimestamp = snap.Timestamp
			}
			snapLog.Debug("snapshot yielded data")
			return data
		}
	}
	return nil
}

// ensureChannel creates a stub channel row when channelID is unknown. A
// zero Outcome means the channel already existed, including when a
// concurrent recovery inserted it between the lookup and the insert.
func (r *Recoverer) ensureChannel(ctx context.Context, log logger.Logger, sess storage.Session, channelID string, hint *string) Outcome {
	exists, err := sess.Channels().Exists(ctx, channelID)
	if err != nil {
		log.Warn("channel lookup failed, leaving channel_id unset",
			logger.String("channel_id", channelID), logger.Error(err))
		return failed(err)
	}
	if exists {
		return Outcome{}
	}

	title := channelID
	if hint != nil && *hint != "" {
		title = *hint
	}
	_, err = sess.Channels().Create(ctx, &storage.Channel{
		ChannelID: channelID,
		Title:     title,
		IsStub:    true,
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		log.Debug("channel created concurrently", logger.String("channel_id", channelID))
		return Outcome{}
	}
	if err != nil {
		log.Warn("stub channel creation failed, leaving channel_id unset",
			logger.String("channel_id", channelID), logger.Error(err))
		return failed(err)
	}

	log.Info("created stub channel", logger.String("channel_id", channelID), logger.String("title", title))
	return succeeded()
}

func (r *Recoverer) channelCandidates(ctx context.Context, log logger.Logger, sess storage.Session, channelID string) []string {
	ch, err := sess.Channels().Get(ctx, channelID)
	if err != nil {
		log.Debug("channel status unavailable", logger.String("channel_id", channelID), logger.Error(err))
		return nil
	}
	if ch.AvailabilityStatus != storage.StatusAvailable {
		return []string{channelID}
	}
	return nil
}

// persistTags adds tags the video does not have yet. Tags already stored,
// including ones no longer on the page, are kept.
func (r *Recoverer) persistTags(ctx context.Context, log logger.Logger, sess storage.Session, videoID string, tags []string) Outcome {
	created, err := sess.Tags().BulkCreateVideoTags(ctx, videoID, tags, nil)
	if err != nil {
		log.Warn("tag persistence failed", logger.Int("tags", len(tags)), logger.Error(err))
		return failed(err)
	}
	log.Debug("tags persisted", logger.Int("created", len(created)), logger.Int("tags", len(tags)))
	return succeeded()
}
