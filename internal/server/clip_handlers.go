package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opListClips   = "server.list_clips"
	opServeMedia  = "server.serve_media"
	opUpdateClip  = "server.update_clip"
	opAddComment  = "server.add_comment"
	mediaCacheAge = "public, max-age=3600"
	videoMimeType = "video/mp4"
)

type updateClipRequestPayload struct {
	Title *string `json:"title"`
	Tags  *string `json:"tags"`
}

type addCommentRequestPayload struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleListClips(c *gin.Context) {
	filter, err := clipFilterFromQuery(c)
	if err != nil {
		h.respondError(c, err)
		return
	}
	list, err := h.clips.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views, err := h.clipViews(c.Request.Context(), list)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *httpHandler) handleGetClip(c *gin.Context) {
	clip, err := h.clips.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	views, err := h.clipViews(c.Request.Context(), []clips.Clip{clip})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clip": views[0]})
}

func (h *httpHandler) handleClipVideo(c *gin.Context) {
	clip, err := h.clips.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	data, err := h.loadMedia(c, clip.VideoRef)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", mediaCacheAge)
	c.Header("Content-Length", strconv.Itoa(len(data)))
	c.Data(http.StatusOK, videoMimeType, data)
}

func (h *httpHandler) handleClipThumbnail(c *gin.Context) {
	clip, err := h.clips.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.serveImage(c, clip.ThumbnailRef, media.PlaceholderThumbnail.String())
}

func (h *httpHandler) handleUpdateClip(c *gin.Context) {
	var request updateClipRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opUpdateClip, "invalid_body", err))
		return
	}
	clip, err := h.clips.Edit(c.Request.Context(), currentPrincipal(c), c.Param("id"), clips.Patch{
		Title: request.Title,
		Tags:  request.Tags,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	views, err := h.clipViews(c.Request.Context(), []clips.Clip{clip})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clip": views[0]})
}

func (h *httpHandler) handleDeleteClip(c *gin.Context) {
	if err := h.clips.Remove(c.Request.Context(), currentPrincipal(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	comments, err := h.clips.ListComments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	authorIDs := make([]string, 0, len(comments))
	for _, comment := range comments {
		authorIDs = append(authorIDs, comment.UserID)
	}
	authors, err := h.users.FindByIDs(c.Request.Context(), authorIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	views := make([]commentView, 0, len(comments))
	for _, comment := range comments {
		views = append(views, h.newCommentView(comment, authors))
	}
	c.JSON(http.StatusOK, gin.H{"comments": views})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request addCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opAddComment, "invalid_body", err))
		return
	}
	comment, err := h.clips.AddComment(c.Request.Context(), currentPrincipal(c), c.Param("id"), request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	author := currentUser(c)
	view := h.newCommentView(comment, map[string]users.User{author.ID: author})
	c.JSON(http.StatusCreated, gin.H{"comment": view})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	err := h.clips.DeleteComment(c.Request.Context(), currentPrincipal(c), c.Param("id"), c.Param("commentId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func clipFilterFromQuery(c *gin.Context) (clips.ListFilter, error) {
	filter := clips.ListFilter{
		Tag:    c.Query("tag"),
		Search: c.Query("search"),
		UserID: c.Query("userId"),
	}
	if raw := strings.TrimSpace(c.Query("featured")); raw != "" {
		featured, err := strconv.ParseBool(raw)
		if err != nil {
			return clips.ListFilter{}, invalidRequest(opListClips, "invalid_featured", err)
		}
		filter.FeaturedOnly = featured
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return clips.ListFilter{}, invalidRequest(opListClips, "invalid_limit", err)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// loadMedia reads stored bytes. Missing bytes surface as not found.
func (h *httpHandler) loadMedia(c *gin.Context, ref media.Reference) ([]byte, error) {
	if !ref.IsStored() {
		return nil, apperr.New(opServeMedia, "media_missing", apperr.ErrNotFound, nil)
	}
	data, err := h.store.Get(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return nil, apperr.New(opServeMedia, "media_missing", apperr.ErrNotFound, err)
		}
		return nil, apperr.New(opServeMedia, "media_read_failed", apperr.ErrStorage, err)
	}
	return data, nil
}

// serveImage redirects to the fallback or the public URL when there is one and streams
// the stored bytes otherwise. An empty fallback turns a missing image into 404.
func (h *httpHandler) serveImage(c *gin.Context, ref media.Reference, fallback string) {
	if !ref.IsStored() {
		if fallback == "" {
			h.respondError(c, apperr.New(opServeMedia, "media_missing", apperr.ErrNotFound, nil))
			return
		}
		c.Redirect(http.StatusFound, fallback)
		return
	}
	if public := h.store.PublicURL(ref); public != "" {
		c.Redirect(http.StatusFound, public)
		return
	}
	data, err := h.loadMedia(c, ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Cache-Control", mediaCacheAge)
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}
