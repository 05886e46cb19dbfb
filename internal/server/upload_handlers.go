package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/uploads"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opUpload       = "server.upload"
	opUserSettings = "server.user_settings"

	// multipartOverhead covers form boundaries, text fields and a thumbnail on top of the video limit.
	multipartOverhead = 12 << 20
)

func (h *httpHandler) handleUpload(c *gin.Context) {
	limit := h.uploads.MaxBytes() + multipartOverhead
	form, err := readMultipart(c, limit, opUpload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	videoHeader := firstFile(form, "file")
	if videoHeader == nil {
		h.respondError(c, invalidRequest(opUpload, "missing_file", nil))
		return
	}
	if videoHeader.Size > h.uploads.MaxBytes() {
		h.respondError(c, apperr.New(opUpload, "file_too_large", apperr.ErrPayloadTooLarge, nil))
		return
	}
	video, err := readFormFile(videoHeader)
	if err != nil {
		h.respondError(c, invalidRequest(opUpload, "file_read_failed", err))
		return
	}

	request := uploads.Request{
		Actor:        currentPrincipal(c),
		Video:        video,
		VideoName:    videoHeader.Filename,
		DeclaredSize: videoHeader.Size,
		Title:        firstValue(form, "title"),
		Tags:         firstValue(form, "tags"),
	}
	if thumbnailHeader := firstFile(form, "thumbnail"); thumbnailHeader != nil && thumbnailHeader.Size > 0 {
		thumbnail, err := readFormFile(thumbnailHeader)
		if err != nil {
			h.respondError(c, invalidRequest(opUpload, "thumbnail_read_failed", err))
			return
		}
		request.Thumbnail = thumbnail
		request.ThumbnailName = thumbnailHeader.Filename
	}

	clip, err := h.uploads.Upload(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "clipId": clip.ID})
}

// handleUserSettings applies a multipart profile update. Text fields that are absent are
// left alone; an empty name is ignored. New images are stored before the record changes
// and released again when the update fails.
func (h *httpHandler) handleUserSettings(c *gin.Context) {
	form, err := readMultipart(c, 2*h.maxImageBytes+multipartOverhead, opUserSettings)
	if err != nil {
		h.respondError(c, err)
		return
	}
	user := currentUser(c)

	var patch users.Patch
	if values, ok := form.Value["name"]; ok && strings.TrimSpace(values[0]) != "" {
		patch.Name = &values[0]
	}
	if values, ok := form.Value["displayName"]; ok {
		patch.DisplayName = &values[0]
	}
	if values, ok := form.Value["bio"]; ok {
		patch.Bio = &values[0]
	}

	var stored []media.Reference
	for _, field := range []string{"profilePicture", "bannerImage"} {
		header := firstFile(form, field)
		if header == nil || header.Size == 0 {
			continue
		}
		ref, err := h.storeImage(c, header)
		if err != nil {
			h.cleaner.Remove(c.Request.Context(), stored...)
			h.respondError(c, err)
			return
		}
		stored = append(stored, ref)
		if field == "profilePicture" {
			patch.ProfilePicture = &ref
		} else {
			patch.BannerImage = &ref
		}
	}

	updated, err := h.users.Update(c.Request.Context(), user.ID, patch)
	if err != nil {
		h.cleaner.Remove(c.Request.Context(), stored...)
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"displayName": updated.DisplayName,
		"bio":         updated.Bio,
		"user":        h.newUserView(updated, true),
	})
}

func (h *httpHandler) storeImage(c *gin.Context, header *multipart.FileHeader) (media.Reference, error) {
	if header.Size > h.maxImageBytes {
		return "", apperr.New(opUserSettings, "image_too_large", apperr.ErrPayloadTooLarge, nil)
	}
	data, err := readFormFile(header)
	if err != nil {
		return "", invalidRequest(opUserSettings, "image_read_failed", err)
	}
	if !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		return "", invalidRequest(opUserSettings, "not_an_image", nil)
	}
	ref, err := h.store.Put(c.Request.Context(), data, header.Filename)
	if err != nil {
		return "", apperr.New(opUserSettings, "image_store_failed", apperr.ErrStorage, err)
	}
	return ref, nil
}

// readMultipart parses the form under a body limit. Oversized bodies map to 413.
func readMultipart(c *gin.Context, limit int64, operation string) (*multipart.Form, error) {
	if c.Request.ContentLength > limit {
		return nil, apperr.New(operation, "body_too_large", apperr.ErrPayloadTooLarge, nil)
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	form, err := c.MultipartForm()
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, apperr.New(operation, "body_too_large", apperr.ErrPayloadTooLarge, err)
		}
		return nil, invalidRequest(operation, "invalid_multipart", err)
	}
	return form, nil
}

func firstFile(form *multipart.Form, field string) *multipart.FileHeader {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil
	}
	return headers[0]
}

func firstValue(form *multipart.Form, field string) string {
	values := form.Value[field]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
