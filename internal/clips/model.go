package clips

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
)

// Clip is the persisted metadata for an uploaded video.
type Clip struct {
	ID           string          `gorm:"column:id;primaryKey;size:64;not null"`
	Title        string          `gorm:"column:title;size:256;not null"`
	ThumbnailRef media.Reference `gorm:"column:thumbnail_ref;size:1024;not null"`
	VideoRef     media.Reference `gorm:"column:video_ref;size:1024;not null"`
	FileName     string          `gorm:"column:file_name;size:512;not null"`
	FileSize     int64           `gorm:"column:file_size;not null"`
	UploadDate   time.Time       `gorm:"column:upload_date;not null;index:idx_clips_upload_date"`
	Featured     bool            `gorm:"column:featured;not null"`
	UserID       *string         `gorm:"column:user_id;size:64;index:idx_clips_user"`
	Tags         []ClipTag       `gorm:"foreignKey:ClipID;references:ID"`
}

// TableName provides the explicit table binding for GORM.
func (Clip) TableName() string {
	return "clips"
}

// TagList returns the clip tags in their original order.
func (c Clip) TagList() []string {
	values := make([]string, 0, len(c.Tags))
	for _, tag := range c.Tags {
		values = append(values, tag.Tag)
	}
	return values
}

// TagString joins the tags with commas for the external representation.
func (c Clip) TagString() string {
	return strings.Join(c.TagList(), ",")
}

// OwnedBy reports whether userID owns the clip.
func (c Clip) OwnedBy(userID string) bool {
	return c.UserID != nil && *c.UserID == userID
}

// MediaReferences lists the stored media owned by the clip.
func (c Clip) MediaReferences() []media.Reference {
	return []media.Reference{c.VideoRef, c.ThumbnailRef}
}

// ClipTag is one normalized tag of a clip.
type ClipTag struct {
	ClipID   string `gorm:"column:clip_id;primaryKey;size:64;not null"`
	Tag      string `gorm:"column:tag;primaryKey;size:64;not null;index:idx_clip_tags_tag"`
	Position int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ClipTag) TableName() string {
	return "clip_tags"
}

// FeaturedClip mirrors Clip.Featured for fast existence checks.
type FeaturedClip struct {
	ClipID    string    `gorm:"column:clip_id;primaryKey;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (FeaturedClip) TableName() string {
	return "featured_clips"
}

// Comment is a user remark on a clip.
type Comment struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	ClipID    string    `gorm:"column:clip_id;size:64;not null;index:idx_comments_clip_created,priority:1"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index:idx_comments_user"`
	Content   string    `gorm:"column:content;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_comments_clip_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// Models lists every table owned by the package, in migration order.
func Models() []interface{} {
	return []interface{}{&Clip{}, &ClipTag{}, &FeaturedClip{}, &Comment{}}
}

// MediaOf flattens the media references of several clips.
func MediaOf(clips []Clip) []media.Reference {
	refs := make([]media.Reference, 0, len(clips)*2)
	for _, clip := range clips {
		refs = append(refs, clip.MediaReferences()...)
	}
	return refs
}
