// Package youtube holds YouTube identifier helpers shared by the archive
// client and the recovery orchestrator.
package youtube

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"chronovista/internal/retry"
)

// Sentinel errors for identifier validation.
var (
	// ErrInvalidVideoID wraps retry.ErrInvalidVideoID so retry classifiers
	// treat it as permanent.
	ErrInvalidVideoID   = fmt.Errorf("youtube: %w", retry.ErrInvalidVideoID)
	ErrInvalidChannelID = errors.New("youtube: invalid channel id")
)

var (
	// videoIDRegex matches YouTube video IDs (11 base64url chars).
	videoIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

	// channelIDRegex matches YouTube channel IDs (UC followed by 22 base64url chars).
	channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)

	channelIDInText = regexp.MustCompile(`UC[a-zA-Z0-9_-]{22}`)
)

const (
	watchURLPrefix   = "https://www.youtube.com/watch?v="
	channelURLPrefix = "https://www.youtube.com/channel/"
)

// ValidateVideoID returns an error wrapping ErrInvalidVideoID unless id is a
// well-formed video id.
func ValidateVideoID(id string) error {
	if !videoIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidVideoID, id)
	}
	return nil
}

// ValidateChannelID returns an error wrapping ErrInvalidChannelID unless id
// is a well-formed UC channel id.
func ValidateChannelID(id string) error {
	if !channelIDRegex.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidChannelID, id)
	}
	return nil
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return watchURLPrefix + url.QueryEscape(videoID)
}

// ChannelURL returns the canonical channel URL for a channel id.
func ChannelURL(channelID string) string {
	return channelURLPrefix + channelID
}

// ChannelIDFromURL extracts a UC channel id from a /channel/ URL, or from
// any text that embeds one. It returns "" when none is found.
func ChannelIDFromURL(raw string) string {
	if i := strings.Index(raw, "/channel/"); i >= 0 {
		id := raw[i+len("/channel/"):]
		if j := strings.IndexAny(id, "/?#\""); j >= 0 {
			id = id[:j]
		}
		if channelIDRegex.MatchString(id) {
			return id
		}
	}
	return channelIDInText.FindString(raw)
}

// VideoIDFromURL extracts the video id from watch, youtu.be, shorts and
// embed URLs. Anything else, including a bare id, is returned unchanged.
func VideoIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	path := strings.Trim(u.Path, "/")
	if strings.HasSuffix(u.Hostname(), "youtu.be") {
		return path
	}
	for _, prefix := range []string{"shorts/", "embed/", "live/"} {
		if id, ok := strings.CutPrefix(path, prefix); ok {
			return id
		}
	}
	return raw
}
