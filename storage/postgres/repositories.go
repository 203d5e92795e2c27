package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chronovista/storage"
)

// videoSelectColumns lists columns for SELECT queries on videos.
const videoSelectColumns = `video_id, channel_id, category_id, title, description,
	upload_date, view_count, like_count, channel_name_hint, thumbnail_url,
	availability_status, recovery_source, recovered_at, created_at, updated_at`

const channelSelectColumns = `channel_id, title, availability_status, is_stub, created_at, updated_at`

// VideoRepository handles video rows.
type VideoRepository struct {
	q sqlx.ExtContext
}

// GetByVideoID returns the video or a StorageError wrapping ErrNotFound.
func (r *VideoRepository) GetByVideoID(ctx context.Context, videoID string) (*storage.Video, error) {
	query := `SELECT ` + videoSelectColumns + ` FROM videos WHERE video_id = $1`

	var v storage.Video
	if err := sqlx.GetContext(ctx, r.q, &v, query, videoID); err != nil {
		return nil, mapError("read", "video", videoID, err)
	}
	return &v, nil
}

// UpdateRecovery writes the recovery-touchable columns; availability_status
// is never written.
func (r *VideoRepository) UpdateRecovery(ctx context.Context, v *storage.Video) error {
	query := `
		UPDATE videos
		SET channel_id = $2, category_id = $3, title = $4, description = $5,
			upload_date = $6, view_count = $7, like_count = $8,
			channel_name_hint = $9, thumbnail_url = $10,
			recovery_source = $11, recovered_at = $12, updated_at = NOW()
		WHERE video_id = $1
	`

	result, err := r.q.ExecContext(ctx, query,
		v.VideoID, v.ChannelID, v.CategoryID, v.Title, v.Description,
		v.UploadDate, v.ViewCount, v.LikeCount,
		v.ChannelNameHint, v.ThumbnailURL,
		v.RecoverySource, v.RecoveredAt,
	)
	if err != nil {
		return mapError("update", "video", v.VideoID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError("update", "video", v.VideoID, err)
	}
	if n == 0 {
		return &storage.StorageError{Op: "update", Entity: "video", ID: v.VideoID, Err: storage.ErrNotFound}
	}
	return nil
}

// ChannelRepository handles channel rows.
type ChannelRepository struct {
	q sqlx.ExtContext
}

// Exists reports whether a channel row exists.
func (r *ChannelRepository) Exists(ctx context.Context, channelID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS (SELECT 1 FROM channels WHERE channel_id = $1)`, channelID)
	if err != nil {
		return false, mapError("read", "channel", channelID, err)
	}
	return exists, nil
}

// Get returns the channel or a StorageError wrapping ErrNotFound.
func (r *ChannelRepository) Get(ctx context.Context, channelID string) (*storage.Channel, error) {
	query := `SELECT ` + channelSelectColumns + ` FROM channels WHERE channel_id = $1`

	var ch storage.Channel
	if err := sqlx.GetContext(ctx, r.q, &ch, query, channelID); err != nil {
		return nil, mapError("read", "channel", channelID, err)
	}
	return &ch, nil
}

// Create inserts a channel and returns the stored row.
func (r *ChannelRepository) Create(ctx context.Context, ch *storage.Channel) (*storage.Channel, error) {
	if ch.ChannelID == "" {
		return nil, &storage.StorageError{Op: "create", Entity: "channel", Err: storage.ErrInvalidInput}
	}
	status := ch.AvailabilityStatus
	if status == "" {
		status = storage.StatusAvailable
	}

	query := `
		INSERT INTO channels (channel_id, title, availability_status, is_stub)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + channelSelectColumns

	var created storage.Channel
	err := withSavepoint(ctx, r.q, "channel_create", func() error {
		return sqlx.GetContext(ctx, r.q, &created, query, ch.ChannelID, ch.Title, status, ch.IsStub)
	})
	if err != nil {
		return nil, mapError("create", "channel", ch.ChannelID, err)
	}
	return &created, nil
}

// VideoTagRepository handles video_tags rows.
type VideoTagRepository struct {
	q sqlx.ExtContext
}

// BulkCreateVideoTags inserts each tag with ON CONFLICT DO NOTHING and
// returns only the rows inserted.
func (r *VideoTagRepository) BulkCreateVideoTags(ctx context.Context, videoID string, tags []string, tagOrders []int) ([]*storage.VideoTag, error) {
	if tagOrders != nil && len(tagOrders) != len(tags) {
		return nil, &storage.StorageError{Op: "create", Entity: "video_tag", ID: videoID, Err: storage.ErrInvalidInput}
	}

	query := `
		INSERT INTO video_tags (id, video_id, tag, tag_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (video_id, tag) DO NOTHING
		RETURNING id, video_id, tag, tag_order, created_at
	`

	seen := make(map[string]bool, len(tags))
	var created []*storage.VideoTag
	err := withSavepoint(ctx, r.q, "video_tags_create", func() error {
		for i, raw := range tags {
			tag := strings.TrimSpace(raw)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true

			var order *int
			if tagOrders != nil {
				o := tagOrders[i]
				order = &o
			}

			var vt storage.VideoTag
			err := sqlx.GetContext(ctx, r.q, &vt, query, uuid.NewString(), videoID, tag, order)
			if errors.Is(err, sql.ErrNoRows) {
				continue // already tagged
			}
			if err != nil {
				return err
			}
			created = append(created, &vt)
		}
		return nil
	})
	if err != nil {
		return nil, mapError("create", "video_tag", videoID, err)
	}
	return created, nil
}

// ListByVideo returns a video's tags, ordered ones first.
func (r *VideoTagRepository) ListByVideo(ctx context.Context, videoID string) ([]*storage.VideoTag, error) {
	query := `SELECT id, video_id, tag, tag_order, created_at FROM video_tags
		WHERE video_id = $1
		ORDER BY tag_order NULLS LAST, created_at, tag`

	var tags []*storage.VideoTag
	if err := sqlx.SelectContext(ctx, r.q, &tags, query, videoID); err != nil {
		return nil, mapError("list", "video_tag", videoID, err)
	}
	return tags, nil
}

// withSavepoint runs fn inside a savepoint. A failed statement aborts the
// whole Postgres transaction; rolling back to the savepoint keeps the
// enclosing transaction usable so callers can treat the failure as non-fatal.
func withSavepoint(ctx context.Context, q sqlx.ExtContext, name string, fn func() error) error {
	if _, err := q.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if _, rbErr := q.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := q.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
