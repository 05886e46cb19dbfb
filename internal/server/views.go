package server

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

type uploaderView struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	DisplayName    string `json:"displayName"`
	ProfilePicture string `json:"profilePicture"`
}

type clipView struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Tags         string        `json:"tags"`
	ThumbnailURL string        `json:"thumbnailUrl"`
	VideoURL     string        `json:"videoUrl"`
	FileName     string        `json:"fileName"`
	FileSize     int64         `json:"fileSize"`
	UploadDate   time.Time     `json:"uploadDate"`
	Featured     bool          `json:"featured"`
	UserID       *string       `json:"userId"`
	Uploader     *uploaderView `json:"uploader"`
}

// userView never carries the password hash. Email is only filled for the account itself
// and for admins.
type userView struct {
	ID             string    `json:"id"`
	Email          string    `json:"email,omitempty"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName"`
	Role           auth.Role `json:"role"`
	Banned         bool      `json:"banned"`
	Bio            string    `json:"bio"`
	ProfilePicture string    `json:"profilePicture"`
	BannerImage    string    `json:"bannerImage"`
	CreatedAt      time.Time `json:"createdAt"`
}

type commentView struct {
	ID             string    `json:"id"`
	ClipID         string    `json:"clipId"`
	UserID         string    `json:"userId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName"`
	Email          string    `json:"email"`
	ProfilePicture string    `json:"profilePicture"`
}

type adminLogView struct {
	ID         string    `json:"id"`
	AdminID    string    `json:"adminId"`
	AdminEmail string    `json:"adminEmail,omitempty"`
	Action     string    `json:"action"`
	Details    string    `json:"details"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h *httpHandler) thumbnailURL(clip clips.Clip) string {
	if !clip.ThumbnailRef.IsStored() {
		return media.PlaceholderThumbnail.String()
	}
	if public := h.store.PublicURL(clip.ThumbnailRef); public != "" {
		return public
	}
	return "/clips/" + clip.ID + "/thumbnail"
}

func (h *httpHandler) profileImageURL(userID string, ref media.Reference, suffix string) string {
	if !ref.IsStored() {
		return ""
	}
	if public := h.store.PublicURL(ref); public != "" {
		return public
	}
	return "/user/" + userID + "/" + suffix
}

func (h *httpHandler) newClipView(clip clips.Clip, owners map[string]users.User) clipView {
	view := clipView{
		ID:           clip.ID,
		Title:        clip.Title,
		Tags:         clip.TagString(),
		ThumbnailURL: h.thumbnailURL(clip),
		VideoURL:     "/clips/" + clip.ID + "/video",
		FileName:     clip.FileName,
		FileSize:     clip.FileSize,
		UploadDate:   clip.UploadDate,
		Featured:     clip.Featured,
		UserID:       clip.UserID,
	}
	if clip.UserID != nil {
		if owner, ok := owners[*clip.UserID]; ok {
			view.Uploader = &uploaderView{
				ID:             owner.ID,
				Email:          owner.Email,
				Name:           owner.Name,
				DisplayName:    owner.DisplayName,
				ProfilePicture: h.profileImageURL(owner.ID, owner.ProfilePicture, "avatar"),
			}
		}
	}
	return view
}

// clipViews resolves the uploaders of all clips with one batch lookup.
func (h *httpHandler) clipViews(ctx context.Context, list []clips.Clip) ([]clipView, error) {
	ownerIDs := make([]string, 0, len(list))
	for _, clip := range list {
		if clip.UserID != nil {
			ownerIDs = append(ownerIDs, *clip.UserID)
		}
	}
	owners, err := h.users.FindByIDs(ctx, ownerIDs)
	if err != nil {
		return nil, err
	}
	views := make([]clipView, 0, len(list))
	for _, clip := range list {
		views = append(views, h.newClipView(clip, owners))
	}
	return views, nil
}

func (h *httpHandler) newUserView(user users.User, includeEmail bool) userView {
	view := userView{
		ID:             user.ID,
		Name:           user.Name,
		DisplayName:    user.DisplayName,
		Role:           user.Role,
		Banned:         user.Banned,
		Bio:            user.Bio,
		ProfilePicture: h.profileImageURL(user.ID, user.ProfilePicture, "avatar"),
		BannerImage:    h.profileImageURL(user.ID, user.BannerImage, "banner"),
		CreatedAt:      user.CreatedAt,
	}
	if includeEmail {
		view.Email = user.Email
	}
	return view
}

func (h *httpHandler) userViews(list []users.User) []userView {
	views := make([]userView, 0, len(list))
	for _, user := range list {
		views = append(views, h.newUserView(user, true))
	}
	return views
}

func (h *httpHandler) newCommentView(comment clips.Comment, authors map[string]users.User) commentView {
	view := commentView{
		ID:        comment.ID,
		ClipID:    comment.ClipID,
		UserID:    comment.UserID,
		Content:   comment.Content,
		CreatedAt: comment.CreatedAt,
	}
	if author, ok := authors[comment.UserID]; ok {
		view.Name = author.Name
		view.DisplayName = author.DisplayName
		view.Email = author.Email
		view.ProfilePicture = h.profileImageURL(author.ID, author.ProfilePicture, "avatar")
	}
	return view
}

func newAdminLogView(entry moderation.AdminLog, adminEmail string) adminLogView {
	return adminLogView{
		ID:         entry.ID,
		AdminID:    entry.AdminID,
		AdminEmail: adminEmail,
		Action:     string(entry.Action),
		Details:    entry.Details,
		Timestamp:  entry.Timestamp,
	}
}
