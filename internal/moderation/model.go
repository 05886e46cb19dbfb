package moderation

import "time"

// Action tags an audit entry with the moderation operation it records.
type Action string

const (
	ActionFeatureClip     Action = "FEATURE_CLIP"
	ActionUnfeatureClip   Action = "UNFEATURE_CLIP"
	ActionBulkDeleteClips Action = "BULK_DELETE_CLIPS"
	ActionBanUser         Action = "BAN_USER"
	ActionUnbanUser       Action = "UNBAN_USER"
	ActionChangeRole      Action = "CHANGE_ROLE"
	ActionDeleteUser      Action = "DELETE_USER"
)

// AdminLog is one append-only audit entry.
type AdminLog struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null"`
	AdminID   string    `gorm:"column:admin_id;size:64;not null;index:idx_admin_logs_admin"`
	Action    Action    `gorm:"column:action;size:32;not null;index:idx_admin_logs_action"`
	Details   string    `gorm:"column:details;type:text;not null"`
	Timestamp time.Time `gorm:"column:timestamp;not null;index:idx_admin_logs_timestamp"`
}

// TableName provides the explicit table binding for GORM.
func (AdminLog) TableName() string {
	return "admin_logs"
}

// Models lists every table owned by the package.
func Models() []interface{} {
	return []interface{}{&AdminLog{}}
}

// AuditNotifier receives audit entries after their transaction committed.
type AuditNotifier interface {
	PublishAudit(entry AdminLog)
}
