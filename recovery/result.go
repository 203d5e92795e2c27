package recovery

import "time"

// FailureReason explains why a recovery did not succeed.
type FailureReason string

const (
	ReasonVideoNotFound   FailureReason = "video_not_found"
	ReasonVideoAvailable  FailureReason = "video_available"
	ReasonCDXTimeout      FailureReason = "cdx_query_timeout"
	ReasonNoSnapshots     FailureReason = "no_snapshots_found"
	ReasonUnexpectedError FailureReason = "unexpected_error"
)

// Fatal reports whether the reason points at the environment rather than
// at the video, so a batch run should exit non-zero.
func (r FailureReason) Fatal() bool {
	return r == ReasonUnexpectedError || r == ReasonCDXTimeout
}

// Outcome records a best-effort side operation. A zero Outcome means the
// operation was not needed.
type Outcome struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
}

func succeeded() Outcome { return Outcome{Attempted: true, OK: true} }

func failed(err error) Outcome {
	return Outcome{Attempted: true, Reason: err.Error()}
}

// Result describes one recovery attempt.
type Result struct {
	VideoID            string        `json:"video_id"`
	DryRun             bool          `json:"dry_run,omitempty"`
	Success            bool          `json:"success"`
	FailureReason      FailureReason `json:"failure_reason,omitempty"`
	Error              string        `json:"error,omitempty"`
	SnapshotUsed       string        `json:"snapshot_used,omitempty"`
	SnapshotsAvailable int           `json:"snapshots_available"`
	SnapshotsTried     int           `json:"snapshots_tried"`
	FieldsRecovered    []Field       `json:"fields_recovered"`
	FieldsSkipped      []Field       `json:"fields_skipped"`

	// ChannelRecoveryCandidates lists channel ids tied to the video whose
	// own status is not AVAILABLE.
	ChannelRecoveryCandidates []string `json:"channel_recovery_candidates"`

	StubChannel Outcome `json:"stub_channel"`
	Tags        Outcome `json:"tags"`

	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
}

func (r *Result) fail(reason FailureReason, err error) {
	r.Success = false
	r.FailureReason = reason
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *Result) finish(d time.Duration) {
	r.Duration = d
	r.DurationSeconds = d.Seconds()
	if r.FieldsRecovered == nil {
		r.FieldsRecovered = []Field{}
	}
	if r.FieldsSkipped == nil {
		r.FieldsSkipped = []Field{}
	}
	if r.ChannelRecoveryCandidates == nil {
		r.ChannelRecoveryCandidates = []string{}
	}
}
