package chronovista

import (
	ythttp "chronovista/http"
	"chronovista/internal/retry"
	"chronovista/recovery"
	"chronovista/storage"
	"chronovista/wayback"
	"chronovista/youtube"
)

// Error handling types exported for library users.
//
// Sentinel errors are matched with errors.Is:
//
//	if errors.Is(err, chronovista.ErrCDXTimeout) {
//		fmt.Println("the archive did not answer in time")
//	}
//
// Typed errors carry context and are extracted with errors.As:
//
//	var storErr *chronovista.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("%s %s %s failed: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
//
// Recovery itself never returns an error; failures are reported through
// Result.FailureReason.

// Type aliases for convenient error handling.
type (
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
	// CDXError wraps a failed CDX query that was not a timeout.
	CDXError = wayback.CDXError
	// HTTPError is a non-success HTTP response from the archive.
	HTTPError = ythttp.HTTPError
	// RateLimitError is a 429 or 503 response from the archive.
	RateLimitError = ythttp.RateLimitError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// FailureReason explains why a recovery did not succeed.
	FailureReason = recovery.FailureReason
)

// Sentinel errors exported from sub-packages.
var (
	// ErrCDXTimeout indicates the CDX query did not finish in time.
	ErrCDXTimeout = wayback.ErrCDXTimeout
	// ErrPageTimeout indicates an archived page did not load in time.
	ErrPageTimeout = wayback.ErrPageTimeout
	// ErrCircuitOpen indicates requests to a host are paused after repeated failures.
	ErrCircuitOpen = ythttp.ErrCircuitOpen
	// ErrInvalidVideoID indicates a malformed YouTube video id.
	ErrInvalidVideoID = youtube.ErrInvalidVideoID
	// ErrInvalidChannelID indicates a malformed YouTube channel id.
	ErrInvalidChannelID = youtube.ErrInvalidChannelID

	// Storage errors
	// ErrNotFound indicates an entity was not found in storage.
	ErrNotFound = storage.ErrNotFound
	// ErrAlreadyExists indicates an entity already exists in storage.
	ErrAlreadyExists = storage.ErrAlreadyExists
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = storage.ErrInvalidInput
	// ErrForeignKey indicates a reference to a missing row.
	ErrForeignKey = storage.ErrForeignKey
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = storage.ErrLockTimeout
)

// Failure reasons reported in recovery results.
const (
	ReasonVideoNotFound   = recovery.ReasonVideoNotFound
	ReasonVideoAvailable  = recovery.ReasonVideoAvailable
	ReasonCDXTimeout      = recovery.ReasonCDXTimeout
	ReasonNoSnapshots     = recovery.ReasonNoSnapshots
	ReasonUnexpectedError = recovery.ReasonUnexpectedError
)

// IsRetryable determines if an error should be retried.
// It returns false for permanent errors like ErrInvalidVideoID.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
