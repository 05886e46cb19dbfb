package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	member := h.createUser(t, "member@example.com")
	h.createClip(t, &member.ID, "One", "goal", 10)
	second := h.createClip(t, &member.ID, "Two", "goal,laliga", 5)
	_, err := h.moderation.SetFeatured(ctx, h.admin, second.ID, true)
	require.NoError(t, err)
	_, err = h.moderation.SetBanned(ctx, h.admin, member.ID, true, "spam")
	require.NoError(t, err)

	stats, err := h.moderation.Stats(ctx, h.admin)
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.TotalUsers)
	require.EqualValues(t, 2, stats.TotalClips)
	require.EqualValues(t, 15, stats.TotalStorage)
	require.EqualValues(t, 1, stats.FeaturedClips)
	require.EqualValues(t, 1, stats.BannedUsers)
	require.EqualValues(t, 2, stats.NewUsersThisWeek)
	require.EqualValues(t, 2, stats.NewClipsThisWeek)
	require.Len(t, stats.RecentClips, 2)
	require.Len(t, stats.RecentUsers, 2)
}

func TestAnalytics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	heavy := h.createUser(t, "heavy@example.com")
	light := h.createUser(t, "light@example.com")
	h.createClip(t, &heavy.ID, "A", "goal,laliga", 1)
	h.createClip(t, &heavy.ID, "B", "goal", 1)
	h.createClip(t, &light.ID, "C", "surf", 100)
	h.createClip(t, nil, "Legacy", "goal", 7)

	_, err := h.moderation.ChangeRole(ctx, h.admin, light.ID, "ADMIN")
	require.NoError(t, err)
	require.NoError(t, h.db.Create(&AdminLog{
		ID:        "orphan",
		AdminID:   "deleted-admin",
		Action:    ActionFeatureClip,
		Details:   "Clip x featured",
		Timestamp: h.now.Add(-24 * time.Hour),
	}).Error)

	analytics, err := h.moderation.Analytics(ctx, h.admin)
	require.NoError(t, err)

	require.Len(t, analytics.UploadsByDay, analyticsWindow)
	last := analytics.UploadsByDay[len(analytics.UploadsByDay)-1]
	require.Equal(t, "2024-06-30", last.Day)
	require.EqualValues(t, 4, last.Count)

	require.Len(t, analytics.TopUploaders, 2)
	require.Equal(t, heavy.ID, analytics.TopUploaders[0].UserID)
	require.EqualValues(t, 2, analytics.TopUploaders[0].ClipCount)
	require.Equal(t, "heavy@example.com", analytics.TopUploaders[0].Email)

	require.Equal(t, light.ID, analytics.StorageByUser[0].UserID)
	require.EqualValues(t, 100, analytics.StorageByUser[0].StorageBytes)

	require.NotEmpty(t, analytics.TopTags)
	require.Equal(t, "goal", analytics.TopTags[0].Tag)
	require.EqualValues(t, 3, analytics.TopTags[0].Count)

	require.Len(t, analytics.RecentActions, 2)
	require.Equal(t, "root@example.com", analytics.RecentActions[0].AdminEmail)
	require.Equal(t, SystemActor, analytics.RecentActions[1].AdminEmail)
}
