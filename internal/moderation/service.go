// Package moderation implements the admin operations. Each mutation and its audit entry
// commit in one transaction.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opServiceNew  = "moderation.service.new"
	opSetFeatured = "moderation.set_featured"
	opBulkDelete  = "moderation.bulk_delete_clips"
	opSetBanned   = "moderation.set_banned"
	opChangeRole  = "moderation.change_role"
	opDeleteUser  = "moderation.delete_user"
	opAppendLog   = "moderation.append_log"
	opRecentLogs  = "moderation.recent_logs"

	defaultLogLimit = 50
	maxLogLimit     = 500
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errMissingRepositories = errors.New("clip and user repositories are required")
)

// ServiceConfig describes the dependencies of the moderation service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clips      *clips.Service
	Users      *users.Service
	Cleaner    *media.Cleaner
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Notifier   AuditNotifier
}

// Service runs admin operations.
type Service struct {
	db         *gorm.DB
	clips      *clips.Service
	users      *users.Service
	cleaner    *media.Cleaner
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	metrics    *metrics.Metrics
	notifier   AuditNotifier
}

// NewService constructs the moderation service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.New(opServiceNew, "missing_database", nil, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.New(opServiceNew, "missing_id_provider", nil, errMissingIDProvider)
	}
	if cfg.Clips == nil || cfg.Users == nil {
		return nil, apperr.New(opServiceNew, "missing_repositories", nil, errMissingRepositories)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clips:      cfg.Clips,
		users:      cfg.Users,
		cleaner:    cfg.Cleaner,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		metrics:    cfg.Metrics,
		notifier:   cfg.Notifier,
	}, nil
}

// SetFeatured features or unfeatures a clip. Repeating the current state still records an entry.
func (s *Service) SetFeatured(ctx context.Context, admin auth.Principal, clipID string, featured bool) (clips.Clip, error) {
	if err := authorize(opSetFeatured, admin); err != nil {
		return clips.Clip{}, err
	}
	action := ActionUnfeatureClip
	verb := "unfeatured"
	if featured {
		action = ActionFeatureClip
		verb = "featured"
	}

	var (
		updated clips.Clip
		entry   AdminLog
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		clip, err := s.clips.SetFeaturedTx(tx, clipID, featured)
		if err != nil {
			return err
		}
		updated = clip
		entry, err = s.appendLog(tx, admin.UserID, action, fmt.Sprintf("Clip %s %s", clip.ID, verb))
		return err
	})
	if err != nil {
		return clips.Clip{}, err
	}
	s.committed(entry)
	return updated, nil
}

// BulkDeleteClips removes the listed clips. Media is deleted best effort before the records;
// one audit entry summarizes the batch. It returns the number of deleted clips.
func (s *Service) BulkDeleteClips(ctx context.Context, admin auth.Principal, clipIDs []string) (int64, error) {
	if err := authorize(opBulkDelete, admin); err != nil {
		return 0, err
	}
	if len(clipIDs) == 0 {
		return 0, apperr.New(opBulkDelete, "missing_clip_ids", apperr.ErrValidation, nil)
	}
	found, err := s.clips.ListByIDs(ctx, clipIDs)
	if err != nil {
		return 0, err
	}
	identifiers := make([]string, 0, len(found))
	for _, clip := range found {
		identifiers = append(identifiers, clip.ID)
	}

	s.cleaner.Remove(ctx, clips.MediaOf(found)...)

	var (
		deleted int64
		entry   AdminLog
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.clips.DeleteRecordsTx(tx, identifiers)
		if err != nil {
			return err
		}
		deleted = count
		details := fmt.Sprintf("Deleted %d clips: %s", count, strings.Join(identifiers, ","))
		entry, err = s.appendLog(tx, admin.UserID, ActionBulkDeleteClips, details)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.committed(entry)
	return deleted, nil
}

// SetBanned bans or unbans a user. An empty reason falls back to users.DefaultBanReason.
func (s *Service) SetBanned(ctx context.Context, admin auth.Principal, userID string, banned bool, reason string) (users.User, error) {
	if err := authorize(opSetBanned, admin); err != nil {
		return users.User{}, err
	}
	if strings.TrimSpace(userID) == admin.UserID {
		return users.User{}, apperr.New(opSetBanned, "self_target", apperr.ErrValidation, nil)
	}
	action := ActionUnbanUser
	verb := "unbanned"
	if banned {
		action = ActionBanUser
		verb = "banned"
	}

	var (
		updated users.User
		entry   AdminLog
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.SetBannedTx(tx, userID, banned, reason, admin.UserID)
		if err != nil {
			return err
		}
		updated = user
		entry, err = s.appendLog(tx, admin.UserID, action, fmt.Sprintf("User %s %s", user.ID, verb))
		return err
	})
	if err != nil {
		return users.User{}, err
	}
	s.committed(entry)
	return updated, nil
}

// ChangeRole sets the role of a user. Values other than USER and ADMIN fail validation.
func (s *Service) ChangeRole(ctx context.Context, admin auth.Principal, userID string, rawRole string) (users.User, error) {
	if err := authorize(opChangeRole, admin); err != nil {
		return users.User{}, err
	}
	role, err := auth.ParseRole(rawRole)
	if err != nil {
		return users.User{}, apperr.New(opChangeRole, "invalid_role", apperr.ErrValidation, err)
	}
	if strings.TrimSpace(userID) == admin.UserID && role != auth.RoleAdmin {
		return users.User{}, apperr.New(opChangeRole, "self_target", apperr.ErrValidation, nil)
	}

	var (
		updated users.User
		entry   AdminLog
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.users.SetRoleTx(tx, userID, role)
		if err != nil {
			return err
		}
		updated = user
		entry, err = s.appendLog(tx, admin.UserID, ActionChangeRole,
			fmt.Sprintf("Role changed to %s for user %s", role, user.ID))
		return err
	})
	if err != nil {
		return users.User{}, err
	}
	s.committed(entry)
	return updated, nil
}

// DeleteUser removes a user with the clips and comments they own. Released media is
// deleted best effort after commit.
func (s *Service) DeleteUser(ctx context.Context, admin auth.Principal, userID string) error {
	if err := authorize(opDeleteUser, admin); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == admin.UserID {
		return apperr.New(opDeleteUser, "self_target", apperr.ErrValidation, nil)
	}

	var (
		released []media.Reference
		entry    AdminLog
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refs, err := s.users.DeleteTx(tx, userID)
		if err != nil {
			return err
		}
		released = refs
		entry, err = s.appendLog(tx, admin.UserID, ActionDeleteUser, fmt.Sprintf("User %s deleted", strings.TrimSpace(userID)))
		return err
	})
	if err != nil {
		return err
	}
	s.committed(entry)
	s.cleaner.Remove(ctx, released...)
	return nil
}

// RecentLogs returns the newest audit entries. A non-positive limit uses the default.
func (s *Service) RecentLogs(ctx context.Context, admin auth.Principal, limit int) ([]AdminLog, error) {
	if err := authorize(opRecentLogs, admin); err != nil {
		return nil, err
	}
	return s.recentLogs(ctx, limit)
}

func (s *Service) recentLogs(ctx context.Context, limit int) ([]AdminLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	var entries []AdminLog
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		s.logError(opRecentLogs, "log_select_failed", err)
		return nil, apperr.New(opRecentLogs, "log_select_failed", nil, err)
	}
	return entries, nil
}

func (s *Service) appendLog(tx *gorm.DB, adminID string, action Action, details string) (AdminLog, error) {
	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppendLog, "id_generation_failed", err)
		return AdminLog{}, apperr.New(opAppendLog, "id_generation_failed", nil, err)
	}
	entry := AdminLog{
		ID:        entryID,
		AdminID:   adminID,
		Action:    action,
		Details:   details,
		Timestamp: s.clock().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		s.logError(opAppendLog, "insert_failed", err,
			zap.String("admin_id", adminID),
			zap.String("action", string(action)))
		return AdminLog{}, apperr.New(opAppendLog, "insert_failed", nil, err)
	}
	return entry, nil
}

func (s *Service) committed(entry AdminLog) {
	s.metrics.ObserveModeration(string(entry.Action))
	s.logger.Info("moderation action",
		zap.String("admin_id", entry.AdminID),
		zap.String("action", string(entry.Action)),
		zap.String("details", entry.Details),
	)
	if s.notifier != nil {
		s.notifier.PublishAudit(entry)
	}
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
	s.logger.Error("moderation operation failed", allFields...)
}

func authorize(operation string, admin auth.Principal) error {
	if !admin.Authenticated() {
		return apperr.New(operation, "unauthenticated", apperr.ErrUnauthorized, nil)
	}
	if !admin.IsAdmin() {
		return apperr.New(operation, "admin_required", apperr.ErrForbidden, nil)
	}
	return nil
}
