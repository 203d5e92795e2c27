package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"chronovista/storage"
	"chronovista/youtube"
)

// videoDetail is a stored video with its channel and tags.
type videoDetail struct {
	Video   *storage.Video      `json:"video"`
	Channel *storage.Channel    `json:"channel,omitempty"`
	Tags    []*storage.VideoTag `json:"tags"`
}

func newShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Inspect stored rows",
	}
	cmd.AddCommand(newShowVideoCommand())
	return cmd
}

func newShowVideoCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "video <video-id|watch-url>",
		Short:   "Show a stored video with its channel and tags",
		Example: `  chronovista show video dQw4w9WgXcQ --json`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseVideoIDs(args)
			if err != nil {
				return err
			}

			store, err := openConfiguredStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			detail, err := loadVideoDetail(cmd.Context(), store, ids[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), detail)
			}
			renderVideoDetail(cmd.OutOrStdout(), detail)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// loadVideoDetail reads a video, its channel and its tags in one
// transaction. A dangling channel reference leaves Channel nil.
func loadVideoDetail(ctx context.Context, store storage.Store, videoID string) (*videoDetail, error) {
	if err := youtube.ValidateVideoID(videoID); err != nil {
		return nil, err
	}

	var d videoDetail
	err := store.InTx(ctx, func(ctx context.Context, s storage.Session) error {
		video, err := s.Videos().GetByVideoID(ctx, videoID)
		if err != nil {
			return err
		}
		d.Video = video

		if video.ChannelID != nil {
			ch, err := s.Channels().Get(ctx, *video.ChannelID)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			d.Channel = ch
		}

		d.Tags, err = s.Tags().ListByVideo(ctx, videoID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load video %s: %w", videoID, err)
	}
	return &d, nil
}

func renderVideoDetail(w io.Writer, d *videoDetail) {
	v := d.Video

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"video_id", v.VideoID},
		{"availability_status", string(v.AvailabilityStatus)},
		{"title", orDash(v.Title)},
		{"channel_id", orDash(v.ChannelID)},
		{"channel", channelLabel(d.Channel)},
		{"channel_name_hint", orDash(v.ChannelNameHint)},
		{"category_id", orDash(v.CategoryID)},
		{"upload_date", formatDate(v.UploadDate)},
		{"view_count", formatCount(v.ViewCount)},
		{"like_count", formatCount(v.LikeCount)},
		{"thumbnail_url", orDash(v.ThumbnailURL)},
		{"recovery_source", orDash(v.RecoverySource)},
		{"recovered_at", formatTime(v.RecoveredAt)},
		{"tags", tagList(d.Tags)},
	})
	t.Render()
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return strconv.FormatInt(*n, 10)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func channelLabel(ch *storage.Channel) string {
	if ch == nil {
		return "-"
	}
	label := fmt.Sprintf("%s (%s)", ch.Title, ch.AvailabilityStatus)
	if ch.IsStub {
		label += " stub"
	}
	return label
}

func tagList(tags []*storage.VideoTag) string {
	if len(tags) == 0 {
		return "-"
	}
	names := make([]string, len(tags))
	for i, tag := range tags {
		names[i] = tag.Tag
	}
	return strings.Join(names, ", ")
}
