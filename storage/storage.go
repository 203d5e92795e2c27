// Package storage defines the persisted entities recovery works on and the
// repository interfaces backends implement.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrForeignKey indicates a reference to a row that does not exist.
	ErrForeignKey = errors.New("storage: foreign key violation")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("create", "read", "update", "list").
	Op string
	// Entity is the entity type ("channel", "video", "video_tag", "store").
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Store owns connections and transaction boundaries.
// Implementations must be safe for concurrent use.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, s Session) error) error
	// ListUnavailableVideoIDs returns ids of videos whose status is not
	// AVAILABLE, oldest first. limit <= 0 means no limit.
	ListUnavailableVideoIDs(ctx context.Context, limit int) ([]string, error)
	// Close releases any resources held by the store.
	Close() error
}

// Session exposes repositories bound to a single caller-owned transaction.
type Session interface {
	Videos() VideoRepository
	Channels() ChannelRepository
	Tags() VideoTagRepository
}

// VideoRepository reads and updates video rows. Recovery never creates or
// deletes videos.
type VideoRepository interface {
	// GetByVideoID returns the video or an error wrapping ErrNotFound.
	GetByVideoID(ctx context.Context, videoID string) (*Video, error)
	// UpdateRecovery writes every column recovery may touch. The
	// availability status is never written.
	UpdateRecovery(ctx context.Context, video *Video) error
}

// ChannelRepository handles channel lookups and stub creation.
type ChannelRepository interface {
	Exists(ctx context.Context, channelID string) (bool, error)
	// Get returns the channel or an error wrapping ErrNotFound.
	Get(ctx context.Context, channelID string) (*Channel, error)
	// Create inserts a channel; an existing id yields ErrAlreadyExists.
	Create(ctx context.Context, channel *Channel) (*Channel, error)
}

// VideoTagRepository persists video tags.
type VideoTagRepository interface {
	// BulkCreateVideoTags inserts tags for a video, skipping tags the video
	// already has, and returns the rows actually created. tagOrders may be
	// nil; otherwise it must have the same length as tags.
	BulkCreateVideoTags(ctx context.Context, videoID string, tags []string, tagOrders []int) ([]*VideoTag, error)
	// ListByVideo returns a video's tags ordered by tag_order then tag.
	ListByVideo(ctx context.Context, videoID string) ([]*VideoTag, error)
}
