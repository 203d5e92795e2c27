package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chronovista/internal/logger"
	"chronovista/storage"
)

// errDiscard rolls back a transaction whose recovery should not persist.
var errDiscard = errors.New("recovery: discard transaction")

// BatchOptions controls a batch run.
type BatchOptions struct {
	DryRun      bool
	Concurrency int
}

// BatchSummary aggregates a batch run.
type BatchSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	// Results holds one entry per scheduled video, in input order.
	Results   []*Result `json:"results"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	// NotStarted counts videos skipped after the context was cancelled.
	NotStarted int `json:"not_started"`

	FailuresByReason          map[FailureReason]int `json:"failures_by_reason"`
	ChannelRecoveryCandidates []string              `json:"channel_recovery_candidates"`
	FieldsRecovered           map[Field]int         `json:"fields_recovered"`

	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// HasFatalFailures reports whether any recovery failed for environmental
// reasons.
func (s *BatchSummary) HasFatalFailures() bool {
	for reason := range s.FailuresByReason {
		if reason.Fatal() {
			return true
		}
	}
	return false
}

// BatchRunner recovers many videos, each in its own transaction, with
// bounded concurrency. All workers share one Recoverer and so one rate
// limiter.
type BatchRunner struct {
	recoverer *Recoverer
	log       logger.Logger
}

// NewBatchRunner creates a runner around r.
func NewBatchRunner(r *Recoverer, log logger.Logger) *BatchRunner {
	if log == nil {
		log = logger.NewNop()
	}
	return &BatchRunner{recoverer: r, log: log}
}

// Run recovers videoIDs. A successful live recovery commits; failures and
// dry runs roll back. Cancelling ctx stops new videos from starting while
// started ones finish.
func (b *BatchRunner) Run(ctx context.Context, store storage.Store, videoIDs []string, opts BatchOptions) *BatchSummary {
	summary := &BatchSummary{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		DryRun:    opts.DryRun,
		Total:     len(videoIDs),
	}
	log := b.log.With(logger.String("run_id", summary.RunID))

	concurrency := max(opts.Concurrency, 1)
	log.Info("starting batch recovery",
		logger.Int("videos", len(videoIDs)),
		logger.Int("concurrency", concurrency),
		logger.Bool("dry_run", opts.DryRun))

	results := make([]*Result, len(videoIDs))

	// Workers use a context detached from cancellation so a started
	// recovery runs to completion; ctx only gates scheduling.
	workCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, id := range videoIDs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = b.recoverOne(workCtx, store, id, opts.DryRun)
			return nil
		})
	}
	_ = g.Wait()

	summary.FinishedAt = time.Now().UTC()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	summary.DurationSeconds = summary.Duration.Seconds()
	summary.aggregate(results)

	log.Info("batch recovery finished",
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Int("not_started", summary.NotStarted),
		logger.Duration("duration", summary.Duration))
	return summary
}

func (b *BatchRunner) recoverOne(ctx context.Context, store storage.Store, videoID string, dryRun bool) *Result {
	var res *Result
	err := store.InTx(ctx, func(ctx context.Context, sess storage.Session) error {
		res = b.recoverer.RecoverVideo(ctx, sess, videoID, dryRun)
		if !res.Success || dryRun {
			return errDiscard
		}
		return nil
	})
	if err == nil || errors.Is(err, errDiscard) {
		return res
	}

	// The transaction itself failed to begin or commit.
	b.log.Error("recovery transaction failed", logger.String("video_id", videoID), logger.Error(err))
	if res == nil {
		res = &Result{VideoID: videoID, DryRun: dryRun}
		res.finish(0)
	}
	res.fail(ReasonUnexpectedError, fmt.Errorf("transaction: %w", err))
	return res
}

func (s *BatchSummary) aggregate(results []*Result) {
	s.FailuresByReason = make(map[FailureReason]int)
	s.FieldsRecovered = make(map[Field]int)
	channels := make(map[string]bool)

	for _, res := range results {
		if res == nil {
			s.NotStarted++
			continue
		}
		s.Results = append(s.Results, res)
		if res.Success {
			s.Succeeded++
		} else {
			s.Failed++
			s.FailuresByReason[res.FailureReason]++
		}
		for _, f := range res.FieldsRecovered {
			s.FieldsRecovered[f]++
		}
		for _, ch := range res.ChannelRecoveryCandidates {
			channels[ch] = true
		}
	}

	s.ChannelRecoveryCandidates = make([]string, 0, len(channels))
	for ch := range channels {
		s.ChannelRecoveryCandidates = append(s.ChannelRecoveryCandidates, ch)
	}
	sort.Strings(s.ChannelRecoveryCandidates)
}
