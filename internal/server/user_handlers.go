package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
)

type profileStatsPayload struct {
	TotalUploads int    `json:"totalUploads"`
	JoinDate     string `json:"joinDate"`
}

func (h *httpHandler) handleUserProfile(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	owned, err := h.clips.List(c.Request.Context(), clips.ListFilter{UserID: user.ID})
	if err != nil {
		h.respondError(c, err)
		return
	}
	views, err := h.clipViews(c.Request.Context(), owned)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  h.newUserView(user, false),
		"clips": views,
		"stats": profileStatsPayload{
			TotalUploads: len(views),
			JoinDate:     user.CreatedAt.UTC().Format(time.RFC3339),
		},
	})
}

func (h *httpHandler) handleUserAvatar(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveImage(c, user.ProfilePicture, "")
}

func (h *httpHandler) handleUserBanner(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveImage(c, user.BannerImage, "")
}
