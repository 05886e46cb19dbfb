package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opAdminDeleteUser = "server.admin.delete_user"
	opAdminBan        = "server.admin.ban"
	opAdminRole       = "server.admin.role"
	opAdminFeature    = "server.admin.feature"
	opAdminBulkDelete = "server.admin.bulk_delete"
	opAdminLogs       = "server.admin.logs"
)

type deleteUserRequestPayload struct {
	UserID string `json:"userId"`
}

type banRequestPayload struct {
	Banned *bool  `json:"banned"`
	Reason string `json:"reason"`
}

type roleRequestPayload struct {
	Role string `json:"role"`
}

type featureRequestPayload struct {
	Featured *bool `json:"featured"`
}

type bulkDeleteRequestPayload struct {
	ClipIDs []string `json:"clipIds"`
}

type statsPayload struct {
	TotalUsers       int64      `json:"totalUsers"`
	TotalClips       int64      `json:"totalClips"`
	TotalStorage     int64      `json:"totalStorage"`
	FeaturedClips    int64      `json:"featuredClips"`
	BannedUsers      int64      `json:"bannedUsers"`
	NewUsersThisWeek int64      `json:"newUsersThisWeek"`
	NewClipsThisWeek int64      `json:"newClipsThisWeek"`
	RecentClips      []clipView `json:"recentClips"`
	RecentUsers      []userView `json:"recentUsers"`
}

type dailyCountPayload struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type uploaderPayload struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ClipCount    int64  `json:"clipCount"`
	StorageBytes int64  `json:"storageBytes"`
}

type tagCountPayload struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

type analyticsPayload struct {
	UploadsByDay  []dailyCountPayload `json:"uploadsByDay"`
	TopUploaders  []uploaderPayload   `json:"topUploaders"`
	TopTags       []tagCountPayload   `json:"topTags"`
	StorageByUser []uploaderPayload   `json:"storageByUser"`
	RecentActions []adminLogView      `json:"recentActions"`
}

func (h *httpHandler) handleAdminStats(c *gin.Context) {
	stats, err := h.moderation.Stats(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	recentClips, err := h.clipViews(c.Request.Context(), stats.RecentClips)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statsPayload{
		TotalUsers:       stats.TotalUsers,
		TotalClips:       stats.TotalClips,
		TotalStorage:     stats.TotalStorage,
		FeaturedClips:    stats.FeaturedClips,
		BannedUsers:      stats.BannedUsers,
		NewUsersThisWeek: stats.NewUsersThisWeek,
		NewClipsThisWeek: stats.NewClipsThisWeek,
		RecentClips:      recentClips,
		RecentUsers:      h.userViews(stats.RecentUsers),
	})
}

func (h *httpHandler) handleAdminAnalytics(c *gin.Context) {
	analytics, err := h.moderation.Analytics(c.Request.Context(), currentPrincipal(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := analyticsPayload{
		UploadsByDay:  make([]dailyCountPayload, 0, len(analytics.UploadsByDay)),
		TopUploaders:  uploaderPayloads(analytics.TopUploaders),
		TopTags:       make([]tagCountPayload, 0, len(analytics.TopTags)),
		StorageByUser: uploaderPayloads(analytics.StorageByUser),
		RecentActions: make([]adminLogView, 0, len(analytics.RecentActions)),
	}
	for _, day := range analytics.UploadsByDay {
		payload.UploadsByDay = append(payload.UploadsByDay, dailyCountPayload{Date: day.Day, Count: day.Count})
	}
	for _, tag := range analytics.TopTags {
		payload.TopTags = append(payload.TopTags, tagCountPayload{Tag: tag.Tag, Count: tag.Count})
	}
	for _, action := range analytics.RecentActions {
		payload.RecentActions = append(payload.RecentActions, newAdminLogView(action.AdminLog, action.AdminEmail))
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleAdminListUsers(c *gin.Context) {
	filter := users.ListFilter{
		Search: c.Query("search"),
		Role:   auth.Role(strings.ToUpper(strings.TrimSpace(c.Query("role")))),
	}
	list, err := h.users.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.userViews(list))
}

func (h *httpHandler) handleAdminDeleteUser(c *gin.Context) {
	var request deleteUserRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		h.respondError(c, invalidRequest(opAdminDeleteUser, "missing_user_id", err))
		return
	}
	if err := h.moderation.DeleteUser(c.Request.Context(), currentPrincipal(c), request.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleAdminBan(c *gin.Context) {
	var request banRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Banned == nil {
		h.respondError(c, invalidRequest(opAdminBan, "missing_banned", err))
		return
	}
	user, err := h.moderation.SetBanned(c.Request.Context(), currentPrincipal(c), c.Param("id"), *request.Banned, request.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": h.newUserView(user, true)})
}

func (h *httpHandler) handleAdminRole(c *gin.Context) {
	var request roleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opAdminRole, "invalid_body", err))
		return
	}
	user, err := h.moderation.ChangeRole(c.Request.Context(), currentPrincipal(c), c.Param("id"), request.Role)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": h.newUserView(user, true)})
}

func (h *httpHandler) handleAdminListClips(c *gin.Context) {
	h.handleListClips(c)
}

func (h *httpHandler) handleAdminFeature(c *gin.Context) {
	var request featureRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Featured == nil {
		h.respondError(c, invalidRequest(opAdminFeature, "missing_featured", err))
		return
	}
	clip, err := h.moderation.SetFeatured(c.Request.Context(), currentPrincipal(c), c.Param("id"), *request.Featured)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clip": h.newClipView(clip, nil)})
}

func (h *httpHandler) handleAdminBulkDelete(c *gin.Context) {
	var request bulkDeleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opAdminBulkDelete, "invalid_body", err))
		return
	}
	count, err := h.moderation.BulkDeleteClips(c.Request.Context(), currentPrincipal(c), request.ClipIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

func (h *httpHandler) handleAdminLogs(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(c, invalidRequest(opAdminLogs, "invalid_limit", err))
			return
		}
		limit = parsed
	}
	entries, err := h.moderation.RecentLogs(c.Request.Context(), currentPrincipal(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]adminLogView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, newAdminLogView(entry, ""))
	}
	c.JSON(http.StatusOK, views)
}

// handleAdminEvents streams committed audit entries as server-sent events until the client
// disconnects.
func (h *httpHandler) handleAdminEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventHeartbeat, heartbeatPayload())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, newAdminLogView(message.Entry, ""))
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload())
			return true
		}
	})
}

func heartbeatPayload() gin.H {
	return gin.H{"source": realtimeSourceBackend, "timestamp": time.Now().UTC().Unix()}
}

func uploaderPayloads(totals []moderation.UploaderTotals) []uploaderPayload {
	payloads := make([]uploaderPayload, 0, len(totals))
	for _, total := range totals {
		payloads = append(payloads, uploaderPayload{
			UserID:       total.UserID,
			Name:         total.Name,
			Email:        total.Email,
			ClipCount:    total.ClipCount,
			StorageBytes: total.StorageBytes,
		})
	}
	return payloads
}
