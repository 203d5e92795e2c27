// Package wayback queries the Internet Archive's Wayback Machine for
// archived YouTube watch pages and extracts video metadata from them.
package wayback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the layout of a 14-digit Wayback capture timestamp.
const TimestampLayout = "20060102150405"

// Sentinel errors.
var (
	// ErrCDXTimeout indicates the CDX index did not answer within the
	// configured window. It is distinct from an empty result.
	ErrCDXTimeout = errors.New("wayback: cdx query timed out")
	// ErrPageTimeout indicates an archived page fetch timed out.
	ErrPageTimeout = errors.New("wayback: snapshot fetch timed out")
)

// CDXError wraps a CDX failure that is not a timeout.
type CDXError struct {
	VideoID string
	Err     error
}

func (e *CDXError) Error() string {
	return fmt.Sprintf("wayback: cdx query for %s failed: %v", e.VideoID, e.Err)
}

func (e *CDXError) Unwrap() error { return e.Err }

// CDXSnapshot is one capture record from the CDX index.
type CDXSnapshot struct {
	Timestamp  string `json:"timestamp"`
	Original   string `json:"original"`
	MimeType   string `json:"mimetype"`
	StatusCode string `json:"statuscode"`
	Digest     string `json:"digest"`
	Length     int64  `json:"length"`
}

// ArchiveURL returns the raw-content URL of the capture under base
// (e.g. https://web.archive.org/web). The id_ flag asks the archive for the
// page as captured, without its own toolbar or link rewriting.
func (s CDXSnapshot) ArchiveURL(base string) string {
	return strings.TrimRight(base, "/") + "/" + s.Timestamp + "id_/" + s.Original
}

// Time parses the capture timestamp as UTC.
func (s CDXSnapshot) Time() (time.Time, error) {
	return time.Parse(TimestampLayout, s.Timestamp)
}

// RecoveredVideoData holds whatever one archived page revealed. Nil fields
// were not found on the page.
type RecoveredVideoData struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	ChannelID       *string    `json:"channel_id,omitempty"`
	ChannelNameHint *string    `json:"channel_name_hint,omitempty"`
	CategoryID      *string    `json:"category_id,omitempty"`
	UploadDate      *time.Time `json:"upload_date,omitempty"`
	ViewCount       *int64     `json:"view_count,omitempty"`
	LikeCount       *int64     `json:"like_count,omitempty"`
	ThumbnailURL    *string    `json:"thumbnail_url,omitempty"`
	Tags            []string   `json:"tags,omitempty"`

	// SnapshotTimestamp is the capture the data came from. It is set even
	// when nothing else is.
	SnapshotTimestamp string `json:"snapshot_timestamp"`
}

// HasData reports whether any data field is populated. Removal notices and
// empty pages have none.
func (d *RecoveredVideoData) HasData() bool {
	if d == nil {
		return false
	}
	return d.Title != nil || d.Description != nil || d.ChannelID != nil ||
		d.ChannelNameHint != nil || d.CategoryID != nil || d.UploadDate != nil ||
		d.ViewCount != nil || d.LikeCount != nil || d.ThumbnailURL != nil ||
		len(d.Tags) > 0
}
