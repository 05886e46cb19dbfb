// Package users manages accounts, roles and bans.
package users

import (
	"context"
	"errors"
	"net/mail"
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
	opServiceNew   = "users.service.new"
	opCreate       = "users.create"
	opFind         = "users.find"
	opList         = "users.list"
	opUpdate       = "users.update"
	opDelete       = "users.delete"
	opSetRole      = "users.set_role"
	opSetBanned    = "users.set_banned"
	opEnsureAdmin  = "users.ensure_admin"
	opFindAccount  = "users.find_account"
	maxNameLength  = 190
	maxBioLength   = 2000
	maxEmailLength = 320

	// DefaultBanReason is recorded when a ban carries no explicit reason.
	DefaultBanReason = "Banned by admin"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ContentCascade deletes the content a user owns within the caller's transaction and
// returns the media references that were released.
type ContentCascade interface {
	DeleteOwnedByUserTx(tx *gorm.DB, userID string) ([]media.Reference, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
	Content    ContentCascade
	Cleaner    *media.Cleaner
}

// Service manages user accounts.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	content    ContentCascade
	cleaner    *media.Cleaner
}

var _ auth.AccountLookup = (*Service)(nil)

// NewUser describes an account about to be registered.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
}

// ListFilter narrows List results. A non-positive Limit returns every match.
type ListFilter struct {
	Search string
	Role   auth.Role
	Limit  int
}

// Patch carries self-service profile changes. Nil fields are left untouched.
type Patch struct {
	Name           *string
	DisplayName    *string
	Bio            *string
	ProfilePicture *media.Reference
	BannerImage    *media.Reference
}

// NewService constructs the account service.
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
		now:        clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		content:    cfg.Content,
		cleaner:    cfg.Cleaner,
	}, nil
}

// Create registers a USER account. Duplicate emails fail with a conflict.
func (s *Service) Create(ctx context.Context, input NewUser) (User, error) {
	return s.create(s.db.WithContext(ctx), opCreate, input, auth.RoleUser)
}

func (s *Service) create(db *gorm.DB, operation string, input NewUser, role auth.Role) (User, error) {
	email, err := validateEmail(input.Email)
	if err != nil {
		return User{}, apperr.New(operation, "invalid_email", apperr.ErrValidation, err)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return User{}, apperr.New(operation, "invalid_name", apperr.ErrValidation, nil)
	}
	if strings.TrimSpace(input.PasswordHash) == "" {
		return User{}, apperr.New(operation, "missing_password_hash", apperr.ErrValidation, nil)
	}

	var existing int64
	if err := db.Model(&User{}).Where("email = ?", email).Count(&existing).Error; err != nil {
		s.logError(operation, "email_lookup_failed", err)
		return User{}, apperr.New(operation, "email_lookup_failed", nil, err)
	}
	if existing > 0 {
		return User{}, apperr.New(operation, "duplicate_email", apperr.ErrConflict, nil)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return User{}, apperr.New(operation, "id_generation_failed", nil, err)
	}
	user := User{
		ID:           userID,
		Email:        email,
		Name:         name,
		PasswordHash: input.PasswordHash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, apperr.New(operation, "duplicate_email", apperr.ErrConflict, err)
		}
		s.logError(operation, "insert_failed", err, zap.String("user_id", userID))
		return User{}, apperr.New(operation, "insert_failed", nil, err)
	}
	return user, nil
}

// FindByEmail loads the account registered under email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return User{}, apperr.New(opFind, "missing_email", apperr.ErrValidation, nil)
	}
	return s.findOne(s.db.WithContext(ctx), opFind, "email = ?", normalized)
}

// FindByID loads one account.
func (s *Service) FindByID(ctx context.Context, userID string) (User, error) {
	return s.findByIDWith(s.db.WithContext(ctx), opFind, userID)
}

func (s *Service) findByIDWith(db *gorm.DB, operation, userID string) (User, error) {
	identifier := strings.TrimSpace(userID)
	if identifier == "" {
		return User{}, apperr.New(operation, "missing_user_id", apperr.ErrValidation, nil)
	}
	return s.findOne(db, operation, "id = ?", identifier)
}

func (s *Service) findOne(db *gorm.DB, operation, condition string, value string) (User, error) {
	var user User
	err := db.Where(condition, value).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperr.New(operation, "user_not_found", apperr.ErrNotFound, err)
	}
	if err != nil {
		s.logError(operation, "user_select_failed", err)
		return User{}, apperr.New(operation, "user_select_failed", nil, err)
	}
	return user, nil
}

// FindByIDs loads several accounts keyed by id. Unknown ids are absent from the result.
func (s *Service) FindByIDs(ctx context.Context, userIDs []string) (map[string]User, error) {
	identifiers := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		trimmed := strings.TrimSpace(userID)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		identifiers = append(identifiers, trimmed)
	}
	result := make(map[string]User, len(identifiers))
	if len(identifiers) == 0 {
		return result, nil
	}
	var found []User
	if err := s.db.WithContext(ctx).Where("id IN ?", identifiers).Find(&found).Error; err != nil {
		s.logError(opFind, "user_select_failed", err, zap.Int("user_count", len(identifiers)))
		return nil, apperr.New(opFind, "user_select_failed", nil, err)
	}
	for _, user := range found {
		result[user.ID] = user
	}
	return result, nil
}

// List returns accounts newest first, optionally filtered by a search term and role.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]User, error) {
	query := s.db.WithContext(ctx).Model(&User{})
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + likeEscaper.Replace(search) + "%"
		query = query.Where(
			"(LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(email) LIKE ? ESCAPE '\\' OR LOWER(display_name) LIKE ? ESCAPE '\\')",
			pattern, pattern, pattern,
		)
	}
	if filter.Role != "" {
		role, err := auth.ParseRole(filter.Role.String())
		if err != nil {
			return nil, apperr.New(opList, "invalid_role", apperr.ErrValidation, err)
		}
		query = query.Where("role = ?", role)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var users []User
	if err := query.Order("created_at DESC").Order("id DESC").Find(&users).Error; err != nil {
		s.logError(opList, "user_select_failed", err)
		return nil, apperr.New(opList, "user_select_failed", nil, err)
	}
	return users, nil
}

// Update applies a self-service profile change. Replaced profile media is released best effort.
func (s *Service) Update(ctx context.Context, userID string, patch Patch) (User, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameLength {
			return User{}, apperr.New(opUpdate, "invalid_name", apperr.ErrValidation, nil)
		}
		updates["name"] = name
	}
	if patch.DisplayName != nil {
		displayName := strings.TrimSpace(*patch.DisplayName)
		if utf8.RuneCountInString(displayName) > maxNameLength {
			return User{}, apperr.New(opUpdate, "invalid_display_name", apperr.ErrValidation, nil)
		}
		updates["display_name"] = displayName
	}
	if patch.Bio != nil {
		bio := strings.TrimSpace(*patch.Bio)
		if utf8.RuneCountInString(bio) > maxBioLength {
			return User{}, apperr.New(opUpdate, "bio_too_long", apperr.ErrValidation, nil)
		}
		updates["bio"] = bio
	}
	if patch.ProfilePicture != nil {
		updates["profile_picture"] = *patch.ProfilePicture
	}
	if patch.BannerImage != nil {
		updates["banner_image"] = *patch.BannerImage
	}

	var (
		updated  User
		released []media.Reference
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.findByIDWith(tx, opUpdate, userID)
		if err != nil {
			return err
		}
		if len(updates) > 0 {
			if err := tx.Model(&User{}).Where("id = ?", current.ID).Updates(updates).Error; err != nil {
				s.logError(opUpdate, "update_failed", err, zap.String("user_id", current.ID))
				return apperr.New(opUpdate, "update_failed", nil, err)
			}
		}
		if patch.ProfilePicture != nil && *patch.ProfilePicture != current.ProfilePicture {
			released = append(released, current.ProfilePicture)
		}
		if patch.BannerImage != nil && *patch.BannerImage != current.BannerImage {
			released = append(released, current.BannerImage)
		}
		updated, err = s.findByIDWith(tx, opUpdate, current.ID)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.cleaner.Remove(ctx, released...)
	return updated, nil
}

// Delete removes an account with everything it owns and releases its media best effort.
func (s *Service) Delete(ctx context.Context, userID string) error {
	var released []media.Reference
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		refs, err := s.DeleteTx(tx, userID)
		released = refs
		return err
	})
	if err != nil {
		return err
	}
	s.cleaner.Remove(ctx, released...)
	return nil
}

// DeleteTx removes an account, its ban record and its owned content inside tx. It returns
// the media references the caller should release after commit.
func (s *Service) DeleteTx(tx *gorm.DB, userID string) ([]media.Reference, error) {
	user, err := s.findByIDWith(tx, opDelete, userID)
	if err != nil {
		return nil, err
	}
	released := user.MediaReferences()
	if s.content != nil {
		refs, err := s.content.DeleteOwnedByUserTx(tx, user.ID)
		if err != nil {
			return nil, err
		}
		released = append(released, refs...)
	}
	if err := tx.Where("user_id = ?", user.ID).Delete(&UserBan{}).Error; err != nil {
		s.logError(opDelete, "ban_delete_failed", err, zap.String("user_id", user.ID))
		return nil, apperr.New(opDelete, "ban_delete_failed", nil, err)
	}
	if err := tx.Where("id = ?", user.ID).Delete(&User{}).Error; err != nil {
		s.logError(opDelete, "user_delete_failed", err, zap.String("user_id", user.ID))
		return nil, apperr.New(opDelete, "user_delete_failed", nil, err)
	}
	return released, nil
}

// SetRole changes the role of an account.
func (s *Service) SetRole(ctx context.Context, userID string, role auth.Role) (User, error) {
	var updated User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.SetRoleTx(tx, userID, role)
		return err
	})
	return updated, err
}

// SetRoleTx changes the role of an account inside tx. Unknown roles fail validation.
func (s *Service) SetRoleTx(tx *gorm.DB, userID string, role auth.Role) (User, error) {
	parsed, err := auth.ParseRole(role.String())
	if err != nil {
		return User{}, apperr.New(opSetRole, "invalid_role", apperr.ErrValidation, err)
	}
	user, err := s.findByIDWith(tx, opSetRole, userID)
	if err != nil {
		return User{}, err
	}
	if err := tx.Model(&User{}).Where("id = ?", user.ID).Update("role", parsed).Error; err != nil {
		s.logError(opSetRole, "update_failed", err, zap.String("user_id", user.ID))
		return User{}, apperr.New(opSetRole, "update_failed", nil, err)
	}
	user.Role = parsed
	return user, nil
}

// SetBanned toggles the ban flag of an account.
func (s *Service) SetBanned(ctx context.Context, userID string, banned bool, reason, adminID string) (User, error) {
	var updated User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, err = s.SetBannedTx(tx, userID, banned, reason, adminID)
		return err
	})
	return updated, err
}

// SetBannedTx toggles User.Banned inside tx and keeps user_bans in step: banning upserts
// the detail row, unbanning removes it.
func (s *Service) SetBannedTx(tx *gorm.DB, userID string, banned bool, reason, adminID string) (User, error) {
	user, err := s.findByIDWith(tx, opSetBanned, userID)
	if err != nil {
		return User{}, err
	}
	if err := tx.Model(&User{}).Where("id = ?", user.ID).Update("banned", banned).Error; err != nil {
		s.logError(opSetBanned, "flag_update_failed", err, zap.String("user_id", user.ID))
		return User{}, apperr.New(opSetBanned, "flag_update_failed", nil, err)
	}
	if banned {
		trimmedReason := strings.TrimSpace(reason)
		if trimmedReason == "" {
			trimmedReason = DefaultBanReason
		}
		now := s.now().UTC()
		record := UserBan{
			UserID:    user.ID,
			Reason:    trimmedReason,
			AdminID:   strings.TrimSpace(adminID),
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"reason", "admin_id", "updated_at"}),
		}).Create(&record).Error
		if err != nil {
			s.logError(opSetBanned, "ban_upsert_failed", err, zap.String("user_id", user.ID))
			return User{}, apperr.New(opSetBanned, "ban_upsert_failed", nil, err)
		}
	} else {
		if err := tx.Where("user_id = ?", user.ID).Delete(&UserBan{}).Error; err != nil {
			s.logError(opSetBanned, "ban_delete_failed", err, zap.String("user_id", user.ID))
			return User{}, apperr.New(opSetBanned, "ban_delete_failed", nil, err)
		}
	}
	user.Banned = banned
	return user, nil
}

// BanRecord returns the ban details for userID, if any.
func (s *Service) BanRecord(ctx context.Context, userID string) (UserBan, bool, error) {
	var record UserBan
	err := s.db.WithContext(ctx).Where("user_id = ?", strings.TrimSpace(userID)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserBan{}, false, nil
	}
	if err != nil {
		s.logError(opFind, "ban_select_failed", err, zap.String("user_id", userID))
		return UserBan{}, false, apperr.New(opFind, "ban_select_failed", nil, err)
	}
	return record, true, nil
}

// EnsureAdmin creates the bootstrap administrator, or promotes and unbans an existing
// account with that email. Existing passwords are kept. The boolean reports creation.
func (s *Service) EnsureAdmin(ctx context.Context, input NewUser) (User, bool, error) {
	var (
		admin   User
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findOne(tx, opEnsureAdmin, "email = ?", normalizeEmail(input.Email))
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			admin, err = s.create(tx, opEnsureAdmin, input, auth.RoleAdmin)
			created = err == nil
			return err
		case err != nil:
			return err
		}
		if existing.Banned {
			if _, err := s.SetBannedTx(tx, existing.ID, false, "", ""); err != nil {
				return err
			}
		}
		admin, err = s.SetRoleTx(tx, existing.ID, auth.RoleAdmin)
		admin.Banned = false
		return err
	})
	if err != nil {
		return User{}, false, err
	}
	return admin, created, nil
}

// FindAccountByEmail implements auth.AccountLookup.
func (s *Service) FindAccountByEmail(ctx context.Context, email string) (auth.Account, error) {
	user, err := s.FindByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrValidation) {
		return auth.Account{}, auth.ErrAccountNotFound
	}
	if err != nil {
		return auth.Account{}, apperr.New(opFindAccount, "lookup_failed", nil, err)
	}
	return auth.Account{UserID: user.ID, PasswordHash: user.PasswordHash, Banned: user.Banned}, nil
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
	s.logger.Error("user repository operation failed", allFields...)
}

func validateEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	if email == "" {
		return "", errors.New("email is required")
	}
	if len(email) > maxEmailLength {
		return "", errors.New("email is too long")
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil || parsed.Address != email {
		return "", errors.New("email is malformed")
	}
	return email, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
