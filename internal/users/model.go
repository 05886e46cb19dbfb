package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
)

// User is a registered account.
type User struct {
	ID             string          `gorm:"column:id;primaryKey;size:64;not null"`
	Email          string          `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	Name           string          `gorm:"column:name;size:190;not null"`
	DisplayName    string          `gorm:"column:display_name;size:190;not null"`
	PasswordHash   string          `gorm:"column:password_hash;size:255;not null" json:"-"`
	Role           auth.Role       `gorm:"column:role;size:16;not null"`
	Banned         bool            `gorm:"column:banned;not null"`
	ProfilePicture media.Reference `gorm:"column:profile_picture;size:1024;not null"`
	BannerImage    media.Reference `gorm:"column:banner_image;size:1024;not null"`
	Bio            string          `gorm:"column:bio;type:text;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null;index:idx_users_created_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Principal returns the authorization view of the user.
func (u User) Principal() auth.Principal {
	return auth.Principal{UserID: u.ID, Role: u.Role}
}

// MediaReferences lists the profile media owned by the user.
func (u User) MediaReferences() []media.Reference {
	return []media.Reference{u.ProfilePicture, u.BannerImage}
}

// UserBan mirrors User.Banned with the moderation details.
type UserBan struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:64;not null"`
	Reason    string    `gorm:"column:reason;size:512;not null"`
	AdminID   string    `gorm:"column:admin_id;size:64;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserBan) TableName() string {
	return "user_bans"
}

// Models lists every table owned by the package.
func Models() []interface{} {
	return []interface{}{&User{}, &UserBan{}}
}

// normalizeEmail lowercases and trims an address.
func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
