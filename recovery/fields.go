package recovery

import (
	"slices"
	"time"

	"chronovista/storage"
	"chronovista/wayback"
)

// Field names a video column recovery may write.
type Field string

const (
	FieldChannelID       Field = "channel_id"
	FieldCategoryID      Field = "category_id"
	FieldTitle           Field = "title"
	FieldDescription     Field = "description"
	FieldViewCount       Field = "view_count"
	FieldLikeCount       Field = "like_count"
	FieldChannelNameHint Field = "channel_name_hint"
	FieldThumbnailURL    Field = "thumbnail_url"
	FieldUploadDate      Field = "upload_date"
)

// Tier decides when a recovered value may replace an existing one.
type Tier int

const (
	// TierImmutable fields are filled only while NULL.
	TierImmutable Tier = iota + 1
	// TierMutable fields are filled while NULL and overwritten by data from
	// a strictly newer snapshot than the row's last recovery.
	TierMutable
)

func (t Tier) String() string {
	switch t {
	case TierImmutable:
		return "immutable"
	case TierMutable:
		return "mutable"
	default:
		return "unknown"
	}
}

// fieldSpec binds a field to its tier and to the matching columns on both
// sides of the merge.
type fieldSpec struct {
	field     Field
	tier      Tier
	recovered func(*wayback.RecoveredVideoData) bool
	existing  func(*storage.Video) bool
	apply     func(*storage.Video, *wayback.RecoveredVideoData)
}

func column[T any](f Field, tier Tier, src func(*wayback.RecoveredVideoData) *T, dst func(*storage.Video) **T) fieldSpec {
	return fieldSpec{
		field:     f,
		tier:      tier,
		recovered: func(d *wayback.RecoveredVideoData) bool { return src(d) != nil },
		existing:  func(v *storage.Video) bool { return *dst(v) != nil },
		apply: func(v *storage.Video, d *wayback.RecoveredVideoData) {
			val := *src(d)
			*dst(v) = &val
		},
	}
}

// fieldTable lists every candidate field in evaluation order.
// availability_status is never a candidate.
var fieldTable = []fieldSpec{
	column(FieldChannelID, TierImmutable,
		func(d *wayback.RecoveredVideoData) *string { return d.ChannelID },
		func(v *storage.Video) **string { return &v.ChannelID }),
	column(FieldCategoryID, TierImmutable,
		func(d *wayback.RecoveredVideoData) *string { return d.CategoryID },
		func(v *storage.Video) **string { return &v.CategoryID }),
	column(FieldTitle, TierMutable,
		func(d *wayback.RecoveredVideoData) *string { return d.Title },
		func(v *storage.Video) **string { return &v.Title }),
	column(FieldDescription, TierMutable,
		func(d *wayback.RecoveredVideoData) *string { return d.Description },
		func(v *storage.Video) **string { return &v.Description }),
	column(FieldViewCount, TierMutable,
		func(d *wayback.RecoveredVideoData) *int64 { return d.ViewCount },
		func(v *storage.Video) **int64 { return &v.ViewCount }),
	column(FieldLikeCount, TierMutable,
		func(d *wayback.RecoveredVideoData) *int64 { return d.LikeCount },
		func(v *storage.Video) **int64 { return &v.LikeCount }),
	column(FieldChannelNameHint, TierMutable,
		func(d *wayback.RecoveredVideoData) *string { return d.ChannelNameHint },
		func(v *storage.Video) **string { return &v.ChannelNameHint }),
	column(FieldThumbnailURL, TierMutable,
		func(d *wayback.RecoveredVideoData) *string { return d.ThumbnailURL },
		func(v *storage.Video) **string { return &v.ThumbnailURL }),
	// upload_date is mutable: a later snapshot may correct a wrong date.
	column(FieldUploadDate, TierMutable,
		func(d *wayback.RecoveredVideoData) *time.Time { return d.UploadDate },
		func(v *storage.Video) **time.Time { return &v.UploadDate }),
}

var fieldIndex = func() map[Field]fieldSpec {
	m := make(map[Field]fieldSpec, len(fieldTable))
	for _, spec := range fieldTable {
		m[spec.field] = spec
	}
	return m
}()

// Fields returns every candidate field in evaluation order.
func Fields() []Field {
	out := make([]Field, len(fieldTable))
	for i, spec := range fieldTable {
		out[i] = spec.field
	}
	return out
}

// TierOf returns the tier of f, or 0 for a field recovery never writes.
func TierOf(f Field) Tier {
	return fieldIndex[f].tier
}

// planMerge decides, per field, whether data may be written over existing.
// Fields data does not carry are in neither list.
func planMerge(existing *storage.Video, data *wayback.RecoveredVideoData) (recovered, skipped []Field) {
	prior := existing.RecoveryTimestamp()
	// Timestamps are fixed-width digits, so string order is time order.
	newer := prior == "" || data.SnapshotTimestamp > prior

	for _, spec := range fieldTable {
		if !spec.recovered(data) {
			continue
		}
		switch {
		case !spec.existing(existing):
			recovered = append(recovered, spec.field)
		case spec.tier == TierMutable && newer:
			recovered = append(recovered, spec.field)
		default:
			skipped = append(skipped, spec.field)
		}
	}
	return recovered, skipped
}

// applyFields copies the listed fields from data onto v.
func applyFields(v *storage.Video, data *wayback.RecoveredVideoData, fields []Field) {
	for _, f := range fields {
		fieldIndex[f].apply(v, data)
	}
}

func without(fields []Field, f Field) []Field {
	return slices.DeleteFunc(slices.Clone(fields), func(x Field) bool { return x == f })
}
