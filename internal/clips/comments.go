package clips

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
)

const (
	opAddComment    = "clips.add_comment"
	opListComments  = "clips.list_comments"
	opDeleteComment = "clips.delete_comment"

	maxCommentLength = 2000
)

// AddComment stores a comment by actor on an existing clip.
func (s *Service) AddComment(ctx context.Context, actor auth.Principal, clipID, content string) (Comment, error) {
	if !actor.Authenticated() {
		return Comment{}, apperr.New(opAddComment, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return Comment{}, apperr.New(opAddComment, "empty_content", apperr.ErrValidation, nil)
	}
	if utf8.RuneCountInString(trimmed) > maxCommentLength {
		return Comment{}, apperr.New(opAddComment, "content_too_long", apperr.ErrValidation, nil)
	}
	if err := s.requireClip(ctx, opAddComment, clipID); err != nil {
		return Comment{}, err
	}

	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddComment, "id_generation_failed", err)
		return Comment{}, apperr.New(opAddComment, "id_generation_failed", nil, err)
	}
	comment := Comment{
		ID:        commentID,
		ClipID:    strings.TrimSpace(clipID),
		UserID:    actor.UserID,
		Content:   trimmed,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAddComment, "insert_failed", err, zap.String("clip_id", comment.ClipID))
		return Comment{}, apperr.New(opAddComment, "insert_failed", nil, err)
	}
	return comment, nil
}

// ListComments returns the comments of a clip, newest first.
func (s *Service) ListComments(ctx context.Context, clipID string) ([]Comment, error) {
	if err := s.requireClip(ctx, opListComments, clipID); err != nil {
		return nil, err
	}
	var comments []Comment
	err := s.db.WithContext(ctx).
		Where("clip_id = ?", strings.TrimSpace(clipID)).
		Order("created_at DESC").
		Order("id DESC").
		Find(&comments).Error
	if err != nil {
		s.logError(opListComments, "comment_select_failed", err, zap.String("clip_id", clipID))
		return nil, apperr.New(opListComments, "comment_select_failed", nil, err)
	}
	return comments, nil
}

// DeleteComment removes a comment; only its author or an admin may do so.
func (s *Service) DeleteComment(ctx context.Context, actor auth.Principal, clipID, commentID string) error {
	if !actor.Authenticated() {
		return apperr.New(opDeleteComment, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	var comment Comment
	err := s.db.WithContext(ctx).
		Where("id = ? AND clip_id = ?", strings.TrimSpace(commentID), strings.TrimSpace(clipID)).
		Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.New(opDeleteComment, "comment_not_found", apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(opDeleteComment, "comment_select_failed", err, zap.String("comment_id", commentID))
		return apperr.New(opDeleteComment, "comment_select_failed", nil, err)
	}
	if !actor.CanModify(&comment.UserID) {
		return apperr.New(opDeleteComment, "not_author", apperr.ErrForbidden, nil)
	}
	if err := s.db.WithContext(ctx).Where("id = ?", comment.ID).Delete(&Comment{}).Error; err != nil {
		s.logError(opDeleteComment, "delete_failed", err, zap.String("comment_id", comment.ID))
		return apperr.New(opDeleteComment, "delete_failed", nil, err)
	}
	return nil
}

func (s *Service) requireClip(ctx context.Context, operation, clipID string) error {
	identifier := strings.TrimSpace(clipID)
	if identifier == "" {
		return apperr.New(operation, "missing_clip_id", apperr.ErrValidation, nil)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Clip{}).Where("id = ?", identifier).Count(&count).Error; err != nil {
		s.logError(operation, "clip_select_failed", err, zap.String("clip_id", identifier))
		return apperr.New(operation, "clip_select_failed", nil, err)
	}
	if count == 0 {
		return apperr.New(operation, "clip_not_found", apperr.ErrNotFound, nil)
	}
	return nil
}
