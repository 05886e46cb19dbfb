package moderation

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opStats     = "moderation.stats"
	opAnalytics = "moderation.analytics"

	recentItemsLimit   = 10
	leaderboardLimit   = 10
	recentActionsLimit = 20
	analyticsWindow    = 30

	// SystemActor labels audit entries whose admin no longer exists.
	SystemActor = "System"
)

// Stats summarizes the site for the admin dashboard.
type Stats struct {
	TotalUsers       int64
	TotalClips       int64
	TotalStorage     int64
	FeaturedClips    int64
	BannedUsers      int64
	NewUsersThisWeek int64
	NewClipsThisWeek int64
	RecentClips      []clips.Clip
	RecentUsers      []users.User
}

// DailyCount is the number of uploads on one UTC day (YYYY-MM-DD).
type DailyCount struct {
	Day   string
	Count int64
}

// UploaderTotals aggregates the clips of one user.
type UploaderTotals struct {
	UserID       string
	Name         string
	Email        string
	ClipCount    int64
	StorageBytes int64
}

// TagCount is the number of clips carrying a tag.
type TagCount struct {
	Tag   string
	Count int64
}

// ActionEntry is an audit entry with the acting admin's email.
type ActionEntry struct {
	AdminLog
	AdminEmail string
}

// Analytics holds the dashboard charts.
type Analytics struct {
	UploadsByDay  []DailyCount
	TopUploaders  []UploaderTotals
	TopTags       []TagCount
	StorageByUser []UploaderTotals
	RecentActions []ActionEntry
}

// Stats computes the dashboard counters.
func (s *Service) Stats(ctx context.Context, admin auth.Principal) (Stats, error) {
	if err := authorize(opStats, admin); err != nil {
		return Stats{}, err
	}
	db := s.db.WithContext(ctx)
	weekAgo := s.clock().UTC().AddDate(0, 0, -7)

	var stats Stats
	counters := []struct {
		reason string
		query  *gorm.DB
		target *int64
	}{
		{reason: "user_count_failed", query: db.Model(&users.User{}), target: &stats.TotalUsers},
		{reason: "clip_count_failed", query: db.Model(&clips.Clip{}), target: &stats.TotalClips},
		{reason: "featured_count_failed", query: db.Model(&clips.FeaturedClip{}), target: &stats.FeaturedClips},
		{reason: "banned_count_failed", query: db.Model(&users.User{}).Where("banned = ?", true), target: &stats.BannedUsers},
		{reason: "weekly_user_count_failed", query: db.Model(&users.User{}).Where("created_at >= ?", weekAgo), target: &stats.NewUsersThisWeek},
		{reason: "weekly_clip_count_failed", query: db.Model(&clips.Clip{}).Where("upload_date >= ?", weekAgo), target: &stats.NewClipsThisWeek},
	}
	for _, counter := range counters {
		if err := counter.query.Count(counter.target).Error; err != nil {
			s.logError(opStats, counter.reason, err)
			return Stats{}, apperr.New(opStats, counter.reason, nil, err)
		}
	}
	if err := db.Model(&clips.Clip{}).Select("CAST(COALESCE(SUM(file_size), 0) AS BIGINT)").Row().Scan(&stats.TotalStorage); err != nil {
		s.logError(opStats, "storage_sum_failed", err)
		return Stats{}, apperr.New(opStats, "storage_sum_failed", nil, err)
	}

	recentClips, err := s.clips.List(ctx, clips.ListFilter{Limit: recentItemsLimit})
	if err != nil {
		return Stats{}, err
	}
	recentUsers, err := s.users.List(ctx, users.ListFilter{Limit: recentItemsLimit})
	if err != nil {
		return Stats{}, err
	}
	stats.RecentClips = recentClips
	stats.RecentUsers = recentUsers
	return stats, nil
}

// Analytics computes the dashboard charts.
func (s *Service) Analytics(ctx context.Context, admin auth.Principal) (Analytics, error) {
	if err := authorize(opAnalytics, admin); err != nil {
		return Analytics{}, err
	}
	db := s.db.WithContext(ctx)

	uploadsByDay, err := s.uploadsByDay(db)
	if err != nil {
		return Analytics{}, err
	}
	topUploaders, err := s.uploaderTotals(ctx, db, "clip_count DESC")
	if err != nil {
		return Analytics{}, err
	}
	storageByUser, err := s.uploaderTotals(ctx, db, "storage_bytes DESC")
	if err != nil {
		return Analytics{}, err
	}

	var topTags []TagCount
	err = db.Model(&clips.ClipTag{}).
		Select("tag, COUNT(*) AS count").
		Group("tag").
		Order("count DESC").
		Order("tag ASC").
		Limit(leaderboardLimit).
		Scan(&topTags).Error
	if err != nil {
		s.logError(opAnalytics, "tag_aggregate_failed", err)
		return Analytics{}, apperr.New(opAnalytics, "tag_aggregate_failed", nil, err)
	}

	entries, err := s.recentLogs(ctx, recentActionsLimit)
	if err != nil {
		return Analytics{}, err
	}
	adminIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		adminIDs = append(adminIDs, entry.AdminID)
	}
	admins, err := s.users.FindByIDs(ctx, adminIDs)
	if err != nil {
		return Analytics{}, err
	}
	recentActions := make([]ActionEntry, 0, len(entries))
	for _, entry := range entries {
		email := SystemActor
		if user, ok := admins[entry.AdminID]; ok {
			email = user.Email
		}
		recentActions = append(recentActions, ActionEntry{AdminLog: entry, AdminEmail: email})
	}

	return Analytics{
		UploadsByDay:  uploadsByDay,
		TopUploaders:  topUploaders,
		TopTags:       topTags,
		StorageByUser: storageByUser,
		RecentActions: recentActions,
	}, nil
}

// uploadsByDay buckets uploads of the trailing window by UTC day, oldest first, including
// days without uploads.
func (s *Service) uploadsByDay(db *gorm.DB) ([]DailyCount, error) {
	today := s.clock().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(analyticsWindow - 1))

	var uploadDates []time.Time
	err := db.Model(&clips.Clip{}).
		Where("upload_date >= ?", start).
		Pluck("upload_date", &uploadDates).Error
	if err != nil {
		s.logError(opAnalytics, "upload_select_failed", err)
		return nil, apperr.New(opAnalytics, "upload_select_failed", nil, err)
	}

	counts := make(map[string]int64, analyticsWindow)
	for _, uploaded := range uploadDates {
		counts[uploaded.UTC().Format(time.DateOnly)]++
	}
	days := make([]DailyCount, 0, analyticsWindow)
	for offset := 0; offset < analyticsWindow; offset++ {
		day := start.AddDate(0, 0, offset).Format(time.DateOnly)
		days = append(days, DailyCount{Day: day, Count: counts[day]})
	}
	return days, nil
}

func (s *Service) uploaderTotals(ctx context.Context, db *gorm.DB, order string) ([]UploaderTotals, error) {
	var totals []UploaderTotals
	err := db.Model(&clips.Clip{}).
		Select("user_id, COUNT(*) AS clip_count, CAST(COALESCE(SUM(file_size), 0) AS BIGINT) AS storage_bytes").
		Where("user_id IS NOT NULL").
		Group("user_id").
		Order(order).
		Order("user_id ASC").
		Limit(leaderboardLimit).
		Scan(&totals).Error
	if err != nil {
		s.logError(opAnalytics, "uploader_aggregate_failed", err)
		return nil, apperr.New(opAnalytics, "uploader_aggregate_failed", nil, err)
	}
	userIDs := make([]string, 0, len(totals))
	for _, total := range totals {
		userIDs = append(userIDs, total.UserID)
	}
	owners, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for index := range totals {
		if owner, ok := owners[totals[index].UserID]; ok {
			totals[index].Name = owner.Name
			totals[index].Email = owner.Email
		}
	}
	return totals, nil
}
