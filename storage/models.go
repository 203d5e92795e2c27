package storage

import (
	"strings"
	"time"
)

// AvailabilityStatus is a video's or channel's availability on YouTube.
type AvailabilityStatus string

const (
	StatusAvailable    AvailabilityStatus = "AVAILABLE"
	StatusDeleted      AvailabilityStatus = "DELETED"
	StatusPrivate      AvailabilityStatus = "PRIVATE"
	StatusTerminated   AvailabilityStatus = "TERMINATED"
	StatusCopyright    AvailabilityStatus = "COPYRIGHT"
	StatusTOSViolation AvailabilityStatus = "TOS_VIOLATION"
	StatusUnavailable  AvailabilityStatus = "UNAVAILABLE"
)

// Valid reports whether s is one of the known statuses.
func (s AvailabilityStatus) Valid() bool {
	switch s {
	case StatusAvailable, StatusDeleted, StatusPrivate, StatusTerminated,
		StatusCopyright, StatusTOSViolation, StatusUnavailable:
		return true
	}
	return false
}

// RecoverySourcePrefix prefixes Video.RecoverySource values.
const RecoverySourcePrefix = "wayback:"

// Video is a persisted YouTube video. Nullable columns are pointers; nil
// means NULL.
type Video struct {
	// VideoID is the 11-character YouTube id.
	VideoID string `db:"video_id" json:"video_id"`
	// ChannelID references Channel.ChannelID.
	ChannelID  *string `db:"channel_id" json:"channel_id,omitempty"`
	CategoryID *string `db:"category_id" json:"category_id,omitempty"`

	Title           *string    `db:"title" json:"title,omitempty"`
	Description     *string    `db:"description" json:"description,omitempty"`
	UploadDate      *time.Time `db:"upload_date" json:"upload_date,omitempty"`
	ViewCount       *int64     `db:"view_count" json:"view_count,omitempty"`
	LikeCount       *int64     `db:"like_count" json:"like_count,omitempty"`
	ChannelNameHint *string    `db:"channel_name_hint" json:"channel_name_hint,omitempty"`
	ThumbnailURL    *string    `db:"thumbnail_url" json:"thumbnail_url,omitempty"`

	AvailabilityStatus AvailabilityStatus `db:"availability_status" json:"availability_status"`

	// RecoverySource is "wayback:<timestamp>" of the snapshot last used.
	RecoverySource *string    `db:"recovery_source" json:"recovery_source,omitempty"`
	RecoveredAt    *time.Time `db:"recovered_at" json:"recovered_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// RecoveryTimestamp returns the snapshot timestamp recorded in
// RecoverySource, or "" when the video was never recovered from the archive.
func (v *Video) RecoveryTimestamp() string {
	if v.RecoverySource == nil {
		return ""
	}
	ts, ok := strings.CutPrefix(*v.RecoverySource, RecoverySourcePrefix)
	if !ok {
		return ""
	}
	return ts
}

// Clone returns a deep copy of v.
func (v *Video) Clone() *Video {
	c := *v
	c.ChannelID = clonePtr(v.ChannelID)
	c.CategoryID = clonePtr(v.CategoryID)
	c.Title = clonePtr(v.Title)
	c.Description = clonePtr(v.Description)
	c.UploadDate = clonePtr(v.UploadDate)
	c.ViewCount = clonePtr(v.ViewCount)
	c.LikeCount = clonePtr(v.LikeCount)
	c.ChannelNameHint = clonePtr(v.ChannelNameHint)
	c.ThumbnailURL = clonePtr(v.ThumbnailURL)
	c.RecoverySource = clonePtr(v.RecoverySource)
	c.RecoveredAt = clonePtr(v.RecoveredAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Channel is a persisted YouTube channel.
type Channel struct {
	ChannelID          string             `db:"channel_id" json:"channel_id"`
	Title              string             `db:"title" json:"title"`
	AvailabilityStatus AvailabilityStatus `db:"availability_status" json:"availability_status"`
	// IsStub marks rows created only to satisfy a video's foreign key.
	IsStub    bool      `db:"is_stub" json:"is_stub"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// VideoTag is one tag attached to a video.
type VideoTag struct {
	ID       string `db:"id" json:"id"`
	VideoID  string `db:"video_id" json:"video_id"`
	Tag      string `db:"tag" json:"tag"`
	TagOrder *int   `db:"tag_order" json:"tag_order,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
