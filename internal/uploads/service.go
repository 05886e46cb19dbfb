// Package uploads turns a received video, with an optional thumbnail, into stored media and
// a clip record.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
)

const (
	opServiceNew = "uploads.service.new"
	opUpload     = "uploads.upload"

	// DefaultMaxBytes is the video size limit used when none is configured.
	DefaultMaxBytes int64 = 50 << 20

	defaultVideoName = "video.mp4"
)

var (
	errMissingStore = errors.New("media store is required")
	errMissingClips = errors.New("clip repository is required")
)

// ClipCreator persists clip records.
type ClipCreator interface {
	Create(ctx context.Context, input clips.NewClip) (clips.Clip, error)
}

// ServiceConfig describes the dependencies of the upload pipeline.
type ServiceConfig struct {
	Store          media.Store
	Clips          ClipCreator
	Cleaner        *media.Cleaner
	MaxBytes       int64
	AllowedFormats []string
	Clock          func() time.Time
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Service runs uploads.
type Service struct {
	store          media.Store
	clips          ClipCreator
	cleaner        *media.Cleaner
	maxBytes       int64
	allowedFormats []string
	clock          func() time.Time
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Request is one upload as received from a client.
type Request struct {
	Actor         auth.Principal
	Video         []byte
	VideoName     string
	DeclaredSize  int64
	Title         string
	Tags          string
	Thumbnail     []byte
	ThumbnailName string
}

// NewService validates the configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.New(opServiceNew, "missing_store", nil, errMissingStore)
	}
	if cfg.Clips == nil {
		return nil, apperr.New(opServiceNew, "missing_clips", nil, errMissingClips)
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := cfg.Cleaner
	if cleaner == nil {
		cleaner = media.NewCleaner(cfg.Store, logger, cfg.Metrics)
	}
	return &Service{
		store:          cfg.Store,
		clips:          cfg.Clips,
		cleaner:        cleaner,
		maxBytes:       maxBytes,
		allowedFormats: append([]string(nil), cfg.AllowedFormats...),
		clock:          clock,
		logger:         logger,
		metrics:        cfg.Metrics,
	}, nil
}

// MaxBytes returns the configured video size limit.
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Upload validates the request, stores the video and thumbnail, then creates the clip.
// Nothing is written when validation fails. When a later step fails, media written by
// earlier steps is deleted best effort.
func (s *Service) Upload(ctx context.Context, request Request) (clips.Clip, error) {
	if !request.Actor.Authenticated() {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	if len(request.Video) == 0 {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "missing_video", apperr.ErrValidation, nil)
	}
	size := int64(len(request.Video))
	if request.DeclaredSize > size {
		size = request.DeclaredSize
	}
	if size > s.maxBytes {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "video_too_large", apperr.ErrPayloadTooLarge,
			fmt.Errorf("%d bytes exceeds the %d byte limit", size, s.maxBytes))
	}

	originalName := strings.TrimSpace(path.Base(strings.ReplaceAll(request.VideoName, "\\", "/")))
	if originalName == "" || originalName == "." || originalName == "/" {
		originalName = defaultVideoName
	}
	title := strings.TrimSpace(request.Title)
	if title == "" {
		title = clips.TruncateTitle(originalName)
	}
	if clips.TitleTooLong(title) {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "title_too_long", apperr.ErrValidation, nil)
	}
	if _, err := clips.NormalizeTags(request.Tags); err != nil {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "invalid_tags", apperr.ErrValidation, err)
	}
	if len(request.Thumbnail) > 0 && !isImage(request.Thumbnail) {
		s.metrics.ObserveUpload(metrics.UploadOutcomeRejected, 0)
		return clips.Clip{}, apperr.New(opUpload, "thumbnail_not_image", apperr.ErrValidation, nil)
	}
	s.checkFormat(request.Actor.UserID, originalName, request.Video)

	storedName := fmt.Sprintf("%d_%s", s.clock().UnixMilli(), strings.ReplaceAll(originalName, " ", "_"))

	videoRef, err := s.store.Put(ctx, request.Video, storedName)
	if err != nil {
		s.fail("video_store_failed", err, request.Actor.UserID)
		return clips.Clip{}, apperr.New(opUpload, "video_store_failed", apperr.ErrStorage, err)
	}

	thumbnailRef := media.PlaceholderThumbnail
	if len(request.Thumbnail) > 0 {
		thumbnailName := strings.TrimSpace(request.ThumbnailName)
		if thumbnailName == "" {
			thumbnailName = storedName + "_thumb.jpg"
		}
		thumbnailRef, err = s.store.Put(ctx, request.Thumbnail, thumbnailName)
		if err != nil {
			s.cleaner.Remove(ctx, videoRef)
			s.fail("thumbnail_store_failed", err, request.Actor.UserID)
			return clips.Clip{}, apperr.New(opUpload, "thumbnail_store_failed", apperr.ErrStorage, err)
		}
	}

	owner := request.Actor.UserID
	clip, err := s.clips.Create(ctx, clips.NewClip{
		Title:        title,
		Tags:         request.Tags,
		VideoRef:     videoRef,
		ThumbnailRef: thumbnailRef,
		FileName:     storedName,
		FileSize:     int64(len(request.Video)),
		UserID:       &owner,
	})
	if err != nil {
		s.cleaner.Remove(ctx, videoRef, thumbnailRef)
		s.fail("clip_create_failed", err, request.Actor.UserID)
		return clips.Clip{}, err
	}

	s.metrics.ObserveUpload(metrics.UploadOutcomeAccepted, clip.FileSize)
	s.logger.Info("clip uploaded",
		zap.String("clip_id", clip.ID),
		zap.String("user_id", owner),
		zap.Int64("file_size", clip.FileSize),
	)
	return clip, nil
}

// checkFormat logs videos whose sniffed type is outside the allowed formats. It never rejects.
func (s *Service) checkFormat(userID, name string, video []byte) {
	if len(s.allowedFormats) == 0 {
		return
	}
	detected := mimetype.Detect(video)
	for _, allowed := range s.allowedFormats {
		if detected.Is(allowed) {
			return
		}
	}
	s.logger.Warn("upload format outside allowed list",
		zap.String("operation", opUpload),
		zap.String("user_id", userID),
		zap.String("file_name", name),
		zap.String("detected_mime", detected.String()),
		zap.Strings("allowed_formats", s.allowedFormats),
	)
}

func (s *Service) fail(reason string, err error, userID string) {
	s.metrics.ObserveUpload(metrics.UploadOutcomeFailed, 0)
	s.logger.Error("upload failed",
		zap.String("operation", opUpload),
		zap.String("reason", reason),
		zap.String("user_id", userID),
		zap.Error(err),
	)
}

func isImage(data []byte) bool {
	return strings.HasPrefix(mimetype.Detect(data).String(), "image/")
}
