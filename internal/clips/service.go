// Package clips persists clip metadata, normalized tags, featured markers and comments.
package clips

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
)

const (
	opServiceNew    = "clips.service.new"
	opCreate        = "clips.create"
	opGet           = "clips.get"
	opList          = "clips.list"
	opUpdate        = "clips.update"
	opDelete        = "clips.delete"
	opDeleteMany    = "clips.delete_many"
	opRemove        = "clips.remove"
	opSetFeatured   = "clips.set_featured"
	opDeleteRecords = "clips.delete_records"
	opDeleteOwned   = "clips.delete_owned"

	// MaxTitleLength is the title limit in characters.
	MaxTitleLength = 256
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the clip repository.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
	Cleaner    *media.Cleaner
}

// Service manages clip records.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	cleaner    *media.Cleaner
}

// NewClip describes a clip about to be persisted.
type NewClip struct {
	Title        string
	Tags         string
	VideoRef     media.Reference
	ThumbnailRef media.Reference
	FileName     string
	FileSize     int64
	UserID       *string
}

// ListFilter narrows List results. Zero values disable the corresponding filter;
// a non-positive Limit returns every match.
type ListFilter struct {
	Tag          string
	Search       string
	UserID       string
	FeaturedOnly bool
	Limit        int
}

// Patch carries the mutable clip fields. Nil fields are left untouched.
type Patch struct {
	Title *string
	Tags  *string
}

// NewService constructs the clip repository.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", nil, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", nil, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		cleaner:    cfg.Cleaner,
	}, nil
}

// TitleTooLong reports whether title exceeds MaxTitleLength characters.
func TitleTooLong(title string) bool {
	return utf8.RuneCountInString(title) > MaxTitleLength
}

// TruncateTitle cuts title to at most MaxTitleLength characters.
func TruncateTitle(title string) string {
	if !TitleTooLong(title) {
		return title
	}
	return strings.TrimSpace(string([]rune(title)[:MaxTitleLength]))
}

// Create persists a clip and its tags.
func (s *Service) Create(ctx context.Context, input NewClip) (Clip, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Clip{}, apperr.New(opCreate, "missing_title", apperr.ErrValidation, nil)
	}
	if TitleTooLong(title) {
		return Clip{}, apperr.New(opCreate, "title_too_long", apperr.ErrValidation, nil)
	}
	if !input.VideoRef.IsStored() {
		return Clip{}, apperr.New(opCreate, "missing_video", apperr.ErrValidation, nil)
	}
	if input.FileSize < 0 {
		return Clip{}, apperr.New(opCreate, "invalid_file_size", apperr.ErrValidation, nil)
	}
	tags, err := NormalizeTags(input.Tags)
	if err != nil {
		return Clip{}, apperr.New(opCreate, "invalid_tags", apperr.ErrValidation, err)
	}

	clipID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Clip{}, apperr.New(opCreate, "id_generation_failed", nil, err)
	}

	thumbnail := input.ThumbnailRef
	if strings.TrimSpace(thumbnail.String()) == "" {
		thumbnail = media.PlaceholderThumbnail
	}
	clip := Clip{
		ID:           clipID,
		Title:        title,
		ThumbnailRef: thumbnail,
		VideoRef:     input.VideoRef,
		FileName:     input.FileName,
		FileSize:     input.FileSize,
		UploadDate:   s.clock().UTC(),
		UserID:       input.UserID,
	}
	tagRows := buildTagRows(clipID, tags)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&clip).Error; err != nil {
			return err
		}
		if len(tagRows) > 0 {
			if err := tx.Create(&tagRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("clip_id", clipID))
		return Clip{}, apperr.New(opCreate, "insert_failed", nil, err)
	}
	clip.Tags = tagRows
	return clip, nil
}

// Get loads one clip with its tags.
func (s *Service) Get(ctx context.Context, clipID string) (Clip, error) {
	return s.getWith(s.db.WithContext(ctx), opGet, clipID)
}

func (s *Service) getWith(db *gorm.DB, operation, clipID string) (Clip, error) {
	identifier := strings.TrimSpace(clipID)
	if identifier == "" {
		return Clip{}, apperr.New(operation, "missing_clip_id", apperr.ErrValidation, nil)
	}
	var clip Clip
	err := db.Preload("Tags", orderTagsByPosition).Where("id = ?", identifier).Take(&clip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Clip{}, apperr.New(operation, "clip_not_found", apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(operation, "clip_select_failed", err, zap.String("clip_id", identifier))
		return Clip{}, apperr.New(operation, "clip_select_failed", nil, err)
	}
	return clip, nil
}

// List returns clips newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Clip, error) {
	query := s.db.WithContext(ctx).Model(&Clip{}).Preload("Tags", orderTagsByPosition)

	if tag := strings.ToLower(strings.TrimSpace(filter.Tag)); tag != "" {
		query = query.Where("id IN (?)", s.db.Model(&ClipTag{}).Select("clip_id").Where("tag = ?", tag))
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query = query.Where(
			"(LOWER(title) LIKE ? ESCAPE '\\' OR id IN (?))",
			pattern,
			s.db.Model(&ClipTag{}).Select("clip_id").Where("tag LIKE ? ESCAPE '\\'", pattern),
		)
	}
	if owner := strings.TrimSpace(filter.UserID); owner != "" {
		query = query.Where("user_id = ?", owner)
	}
	if filter.FeaturedOnly {
		query = query.Where("featured = ?", true)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var clips []Clip
	if err := query.Order("upload_date DESC").Order("id DESC").Find(&clips).Error; err != nil {
		s.logError(opList, "clip_select_failed", err)
		return nil, apperr.New(opList, "clip_select_failed", nil, err)
	}
	return clips, nil
}

// ListByIDs returns the clips matching clipIDs, newest first. Unknown ids are ignored.
func (s *Service) ListByIDs(ctx context.Context, clipIDs []string) ([]Clip, error) {
	identifiers := uniqueIdentifiers(clipIDs)
	if len(identifiers) == 0 {
		return []Clip{}, nil
	}
	var clips []Clip
	err := s.db.WithContext(ctx).
		Preload("Tags", orderTagsByPosition).
		Where("id IN ?", identifiers).
		Order("upload_date DESC").
		Order("id DESC").
		Find(&clips).Error
	if err != nil {
		s.logError(opList, "clip_select_failed", err, zap.Int("clip_count", len(identifiers)))
		return nil, apperr.New(opList, "clip_select_failed", nil, err)
	}
	return clips, nil
}

// Update applies a partial change to a clip without ownership checks.
func (s *Service) Update(ctx context.Context, clipID string, patch Patch) (Clip, error) {
	return s.update(ctx, clipID, patch, nil)
}

// Edit applies a partial change on behalf of actor, who must own the clip or be an admin.
func (s *Service) Edit(ctx context.Context, actor auth.Principal, clipID string, patch Patch) (Clip, error) {
	if !actor.Authenticated() {
		return Clip{}, apperr.New(opUpdate, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	return s.update(ctx, clipID, patch, func(clip Clip) error {
		if !actor.CanModify(clip.UserID) {
			return apperr.New(opUpdate, "not_owner", apperr.ErrForbidden, nil)
		}
		return nil
	})
}

func (s *Service) update(ctx context.Context, clipID string, patch Patch, authorize func(Clip) error) (Clip, error) {
	var title string
	if patch.Title != nil {
		title = strings.TrimSpace(*patch.Title)
		if title == "" {
			return Clip{}, apperr.New(opUpdate, "missing_title", apperr.ErrValidation, nil)
		}
		if TitleTooLong(title) {
			return Clip{}, apperr.New(opUpdate, "title_too_long", apperr.ErrValidation, nil)
		}
	}
	var tags []string
	if patch.Tags != nil {
		normalized, err := NormalizeTags(*patch.Tags)
		if err != nil {
			return Clip{}, apperr.New(opUpdate, "invalid_tags", apperr.ErrValidation, err)
		}
		tags = normalized
	}

	var updated Clip
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clip, err := s.getWith(tx, opUpdate, clipID)
		if err != nil {
			return err
		}
		if authorize != nil {
			if err := authorize(clip); err != nil {
				return err
			}
		}
		if patch.Title != nil {
			if err := tx.Model(&Clip{}).Where("id = ?", clip.ID).Update("title", title).Error; err != nil {
				s.logError(opUpdate, "title_update_failed", err, zap.String("clip_id", clip.ID))
				return apperr.New(opUpdate, "title_update_failed", nil, err)
			}
		}
		if patch.Tags != nil {
			if err := tx.Where("clip_id = ?", clip.ID).Delete(&ClipTag{}).Error; err != nil {
				s.logError(opUpdate, "tag_delete_failed", err, zap.String("clip_id", clip.ID))
				return apperr.New(opUpdate, "tag_delete_failed", nil, err)
			}
			if rows := buildTagRows(clip.ID, tags); len(rows) > 0 {
				if err := tx.Create(&rows).Error; err != nil {
					s.logError(opUpdate, "tag_insert_failed", err, zap.String("clip_id", clip.ID))
					return apperr.New(opUpdate, "tag_insert_failed", nil, err)
				}
			}
		}
		updated, err = s.getWith(tx, opUpdate, clip.ID)
		return err
	})
	if err != nil {
		return Clip{}, err
	}
	return updated, nil
}

// Delete removes a clip: stored media first, best effort, then the records.
func (s *Service) Delete(ctx context.Context, clipID string) error {
	clip, err := s.getWith(s.db.WithContext(ctx), opDelete, clipID)
	if err != nil {
		return err
	}
	return s.deleteClips(ctx, opDelete, []Clip{clip})
}

// Remove deletes a clip on behalf of actor, who must own it or be an admin.
func (s *Service) Remove(ctx context.Context, actor auth.Principal, clipID string) error {
	if !actor.Authenticated() {
		return apperr.New(opRemove, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	clip, err := s.getWith(s.db.WithContext(ctx), opRemove, clipID)
	if err != nil {
		return err
	}
	if !actor.CanModify(clip.UserID) {
		return apperr.New(opRemove, "not_owner", apperr.ErrForbidden, nil)
	}
	return s.deleteClips(ctx, opRemove, []Clip{clip})
}

// DeleteMany removes every listed clip and returns how many records were deleted.
func (s *Service) DeleteMany(ctx context.Context, clipIDs []string) (int64, error) {
	clips, err := s.ListByIDs(ctx, clipIDs)
	if err != nil {
		return 0, err
	}
	if len(clips) == 0 {
		return 0, nil
	}
	var deleted int64
	s.cleaner.Remove(ctx, MediaOf(clips)...)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.DeleteRecordsTx(tx, clipIdentifiers(clips))
		deleted = count
		return err
	})
	if err != nil {
		return 0, apperr.New(opDeleteMany, "delete_failed", nil, err)
	}
	return deleted, nil
}

func (s *Service) deleteClips(ctx context.Context, operation string, clips []Clip) error {
	s.cleaner.Remove(ctx, MediaOf(clips)...)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.DeleteRecordsTx(tx, clipIdentifiers(clips))
		return err
	})
	if err != nil {
		return apperr.New(operation, "delete_failed", nil, err)
	}
	return nil
}

// DeleteRecordsTx removes clips with their tags, comments and featured markers. Media bytes
// are left to the caller.
func (s *Service) DeleteRecordsTx(tx *gorm.DB, clipIDs []string) (int64, error) {
	identifiers := uniqueIdentifiers(clipIDs)
	if len(identifiers) == 0 {
		return 0, nil
	}
	dependents := []struct {
		reason string
		model  interface{}
	}{
		{reason: "tag_delete_failed", model: &ClipTag{}},
		{reason: "comment_delete_failed", model: &Comment{}},
		{reason: "featured_delete_failed", model: &FeaturedClip{}},
	}
	for _, dependent := range dependents {
		if err := tx.Where("clip_id IN ?", identifiers).Delete(dependent.model).Error; err != nil {
			s.logError(opDeleteRecords, dependent.reason, err)
			return 0, apperr.New(opDeleteRecords, dependent.reason, nil, err)
		}
	}
	result := tx.Where("id IN ?", identifiers).Delete(&Clip{})
	if result.Error != nil {
		s.logError(opDeleteRecords, "clip_delete_failed", result.Error)
		return 0, apperr.New(opDeleteRecords, "clip_delete_failed", nil, result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOwnedByUserTx removes the clips and comments owned by userID and returns the
// media references the deleted clips pointed at.
func (s *Service) DeleteOwnedByUserTx(tx *gorm.DB, userID string) ([]media.Reference, error) {
	var owned []Clip
	err := tx.Select("id", "video_ref", "thumbnail_ref").Where("user_id = ?", userID).Find(&owned).Error
	if err != nil {
		s.logError(opDeleteOwned, "clip_select_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(opDeleteOwned, "clip_select_failed", nil, err)
	}
	if _, err := s.DeleteRecordsTx(tx, clipIdentifiers(owned)); err != nil {
		return nil, err
	}
	if err := tx.Where("user_id = ?", userID).Delete(&Comment{}).Error; err != nil {
		s.logError(opDeleteOwned, "comment_delete_failed", err, zap.String("user_id", userID))
		return nil, apperr.New(opDeleteOwned, "comment_delete_failed", nil, err)
	}
	return MediaOf(owned), nil
}

// SetFeaturedTx sets Clip.Featured and keeps featured_clips in step. Repeating the current
// state is a no-op.
func (s *Service) SetFeaturedTx(tx *gorm.DB, clipID string, featured bool) (Clip, error) {
	clip, err := s.getWith(tx, opSetFeatured, clipID)
	if err != nil {
		return Clip{}, err
	}
	if err := tx.Model(&Clip{}).Where("id = ?", clip.ID).Update("featured", featured).Error; err != nil {
		s.logError(opSetFeatured, "flag_update_failed", err, zap.String("clip_id", clip.ID))
		return Clip{}, apperr.New(opSetFeatured, "flag_update_failed", nil, err)
	}
	if featured {
		marker := FeaturedClip{ClipID: clip.ID, CreatedAt: s.clock().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&marker).Error; err != nil {
			s.logError(opSetFeatured, "marker_insert_failed", err, zap.String("clip_id", clip.ID))
			return Clip{}, apperr.New(opSetFeatured, "marker_insert_failed", nil, err)
		}
	} else {
		if err := tx.Where("clip_id = ?", clip.ID).Delete(&FeaturedClip{}).Error; err != nil {
			s.logError(opSetFeatured, "marker_delete_failed", err, zap.String("clip_id", clip.ID))
			return Clip{}, apperr.New(opSetFeatured, "marker_delete_failed", nil, err)
		}
	}
	clip.Featured = featured
	return clip, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("clip repository operation failed", allFields...)
}

func orderTagsByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func clipIdentifiers(clips []Clip) []string {
	identifiers := make([]string, 0, len(clips))
	for _, clip := range clips {
		identifiers = append(identifiers, clip.ID)
	}
	return identifiers
}

func uniqueIdentifiers(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
