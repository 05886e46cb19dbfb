package server

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
)

type uploadResponsePayload struct {
	Success bool   `json:"success"`
	ClipID  string `json:"clipId"`
}

func (s *testServer) upload(t *testing.T, token, title, tags string, video []byte, thumbnail []byte) *httptest.ResponseRecorder {
	t.Helper()
	files := []multipartFile{{field: "file", name: "match.mp4", data: video}}
	if thumbnail != nil {
		files = append(files, multipartFile{field: "thumbnail", name: "thumb.png", data: thumbnail})
	}
	request := newMultipartRequest(t, "/upload", map[string]string{"title": title, "tags": tags}, files...)
	return s.do(request, token)
}

func countStoredFiles(t *testing.T, dir string) int {
	t.Helper()
	count := 0
	err := filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to walk media directory: %v", err)
	}
	return count
}

func TestUploadListAndStreamClip(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "uploader@example.com")
	token := server.tokenFor(t, member.ID)
	video := []byte("0123456789")

	response := server.upload(t, token, "Test Goal", "laliga, goal", video, nil)
	expectStatus(t, response, http.StatusOK)
	var uploaded uploadResponsePayload
	decodeJSON(t, response, &uploaded)
	if !uploaded.Success || uploaded.ClipID == "" {
		t.Fatalf("unexpected upload payload: %+v", uploaded)
	}

	list := server.doJSON(t, http.MethodGet, "/clips", nil, "")
	expectStatus(t, list, http.StatusOK)
	var views []clipView
	decodeJSON(t, list, &views)
	if len(views) != 1 {
		t.Fatalf("expected one clip, got %d", len(views))
	}
	clip := views[0]
	if clip.ID != uploaded.ClipID || clip.Title != "Test Goal" || clip.Tags != "laliga,goal" {
		t.Fatalf("unexpected clip view: %+v", clip)
	}
	if clip.FileSize != int64(len(video)) || clip.Featured {
		t.Fatalf("unexpected clip metadata: %+v", clip)
	}
	if clip.ThumbnailURL != media.PlaceholderThumbnail.String() {
		t.Fatalf("expected placeholder thumbnail, got %q", clip.ThumbnailURL)
	}
	if clip.Uploader == nil || clip.Uploader.ID != member.ID {
		t.Fatalf("expected uploader summary, got %+v", clip.Uploader)
	}

	filtered := server.doJSON(t, http.MethodGet, "/clips?tag=goal", nil, "")
	expectStatus(t, filtered, http.StatusOK)
	decodeJSON(t, filtered, &views)
	if len(views) != 1 {
		t.Fatalf("expected tag filter to match, got %d clips", len(views))
	}
	missing := server.doJSON(t, http.MethodGet, "/clips?tag=tennis", nil, "")
	decodeJSON(t, missing, &views)
	if len(views) != 0 {
		t.Fatalf("expected no clips for unknown tag, got %d", len(views))
	}

	stream := server.doJSON(t, http.MethodGet, "/clips/"+uploaded.ClipID+"/video", nil, "")
	expectStatus(t, stream, http.StatusOK)
	if !bytes.Equal(stream.Body.Bytes(), video) {
		t.Fatalf("unexpected video bytes %q", stream.Body.Bytes())
	}
	if stream.Header().Get("Content-Length") != "10" {
		t.Fatalf("unexpected content length %q", stream.Header().Get("Content-Length"))
	}
	if stream.Header().Get("Content-Type") != videoMimeType {
		t.Fatalf("unexpected content type %q", stream.Header().Get("Content-Type"))
	}

	thumbnail := server.doJSON(t, http.MethodGet, "/clips/"+uploaded.ClipID+"/thumbnail", nil, "")
	expectStatus(t, thumbnail, http.StatusFound)
	if thumbnail.Header().Get("Location") != media.PlaceholderThumbnail.String() {
		t.Fatalf("expected placeholder redirect, got %q", thumbnail.Header().Get("Location"))
	}

	profile := server.doJSON(t, http.MethodGet, "/user/"+member.ID, nil, "")
	expectStatus(t, profile, http.StatusOK)
	var profilePayload struct {
		User  userView            `json:"user"`
		Clips []clipView          `json:"clips"`
		Stats profileStatsPayload `json:"stats"`
	}
	decodeJSON(t, profile, &profilePayload)
	if profilePayload.User.Email != "" {
		t.Fatalf("public profile must not expose email")
	}
	if profilePayload.Stats.TotalUploads != 1 || len(profilePayload.Clips) != 1 {
		t.Fatalf("unexpected profile stats: %+v", profilePayload.Stats)
	}
}

func TestUploadWithThumbnailServesImage(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "thumbs@example.com")
	token := server.tokenFor(t, member.ID)

	response := server.upload(t, token, "With Thumb", "", []byte("video-bytes"), pngHeader)
	expectStatus(t, response, http.StatusOK)
	var uploaded uploadResponsePayload
	decodeJSON(t, response, &uploaded)

	thumbnail := server.doJSON(t, http.MethodGet, "/clips/"+uploaded.ClipID+"/thumbnail", nil, "")
	expectStatus(t, thumbnail, http.StatusOK)
	if !strings.HasPrefix(thumbnail.Header().Get("Content-Type"), "image/png") {
		t.Fatalf("unexpected thumbnail content type %q", thumbnail.Header().Get("Content-Type"))
	}

	rejected := server.upload(t, token, "Bad Thumb", "", []byte("video-bytes"), []byte("not an image at all"))
	expectStatus(t, rejected, http.StatusBadRequest)
}

func TestUploadRejections(t *testing.T) {
	server := newTestServer(t, testServerOptions{maxUploadBytes: 8})
	member := server.createUser(t, "limits@example.com")
	token := server.tokenFor(t, member.ID)

	anonymous := server.upload(t, "", "No Session", "", []byte("small"), nil)
	expectStatus(t, anonymous, http.StatusUnauthorized)

	oversized := server.upload(t, token, "Too Big", "", []byte("0123456789"), nil)
	expectStatus(t, oversized, http.StatusRequestEntityTooLarge)
	if !strings.Contains(oversized.Body.String(), `"code":"server.upload.file_too_large"`) {
		t.Fatalf("expected error code in body, got %s", oversized.Body.String())
	}

	noFile := server.do(newMultipartRequest(t, "/upload", map[string]string{"title": "Empty"}), token)
	expectStatus(t, noFile, http.StatusBadRequest)

	list, err := server.clips.List(context.Background(), clips.ListFilter{})
	if err != nil {
		t.Fatalf("failed to list clips: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no clips after rejected uploads, got %d", len(list))
	}
	if files := countStoredFiles(t, server.storeDir); files != 0 {
		t.Fatalf("expected no stored media after rejected uploads, got %d files", files)
	}
}

func TestClipOwnershipAndComments(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	owner := server.createUser(t, "owner@example.com")
	stranger := server.createUser(t, "stranger@example.com")
	ownerToken := server.tokenFor(t, owner.ID)
	strangerToken := server.tokenFor(t, stranger.ID)

	response := server.upload(t, ownerToken, "Mine", "one", []byte("video-bytes"), nil)
	expectStatus(t, response, http.StatusOK)
	var uploaded uploadResponsePayload
	decodeJSON(t, response, &uploaded)
	clipPath := "/clips/" + uploaded.ClipID

	edit := server.doJSON(t, http.MethodPatch, clipPath, gin.H{"title": "Renamed", "tags": "two, three"}, ownerToken)
	expectStatus(t, edit, http.StatusOK)
	var edited struct {
		Clip clipView `json:"clip"`
	}
	decodeJSON(t, edit, &edited)
	if edited.Clip.Title != "Renamed" || edited.Clip.Tags != "two,three" {
		t.Fatalf("unexpected edit result: %+v", edited.Clip)
	}
	expectStatus(t, server.doJSON(t, http.MethodPatch, clipPath, gin.H{"title": "Hijack"}, strangerToken), http.StatusForbidden)

	comment := server.doJSON(t, http.MethodPost, clipPath+"/comments", gin.H{"content": "nice goal"}, strangerToken)
	expectStatus(t, comment, http.StatusCreated)
	var created struct {
		Comment commentView `json:"comment"`
	}
	decodeJSON(t, comment, &created)
	if created.Comment.Content != "nice goal" || created.Comment.UserID != stranger.ID {
		t.Fatalf("unexpected comment: %+v", created.Comment)
	}
	expectStatus(t, server.doJSON(t, http.MethodPost, clipPath+"/comments", gin.H{"content": "   "}, strangerToken), http.StatusBadRequest)
	expectStatus(t, server.doJSON(t, http.MethodPost, clipPath+"/comments", gin.H{"content": "anon"}, ""), http.StatusUnauthorized)

	listed := server.doJSON(t, http.MethodGet, clipPath+"/comments", nil, "")
	expectStatus(t, listed, http.StatusOK)
	var comments struct {
		Comments []commentView `json:"comments"`
	}
	decodeJSON(t, listed, &comments)
	if len(comments.Comments) != 1 {
		t.Fatalf("expected one comment, got %d", len(comments.Comments))
	}

	// The clip owner may not remove other users' comments; the admin may.
	expectStatus(t, server.doJSON(t, http.MethodDelete, clipPath+"/comments/"+created.Comment.ID, nil, ownerToken), http.StatusForbidden)
	expectStatus(t, server.doJSON(t, http.MethodDelete, clipPath+"/comments/"+created.Comment.ID, nil, server.tokenFor(t, server.admin.ID)), http.StatusOK)

	expectStatus(t, server.doJSON(t, http.MethodDelete, clipPath, nil, strangerToken), http.StatusForbidden)
	expectStatus(t, server.doJSON(t, http.MethodDelete, clipPath, nil, ownerToken), http.StatusOK)
	expectStatus(t, server.doJSON(t, http.MethodGet, clipPath, nil, ""), http.StatusNotFound)
	if files := countStoredFiles(t, server.storeDir); files != 0 {
		t.Fatalf("expected clip media to be removed, got %d files", files)
	}
}

func TestBannedUserIsLockedOut(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "rowdy@example.com")
	memberToken := server.tokenFor(t, member.ID)
	adminToken := server.tokenFor(t, server.admin.ID)

	ban := server.doJSON(t, http.MethodPost, "/admin/users/"+member.ID+"/ban", gin.H{"banned": true, "reason": "spam"}, adminToken)
	expectStatus(t, ban, http.StatusOK)

	login := server.doJSON(t, http.MethodPost, "/auth/login", gin.H{"email": "rowdy@example.com", "password": testPassword}, "")
	expectStatus(t, login, http.StatusForbidden)

	existing := server.doJSON(t, http.MethodGet, "/auth/session", nil, memberToken)
	expectStatus(t, existing, http.StatusForbidden)
	if !strings.Contains(existing.Body.String(), `"code":"server.session.account_banned"`) {
		t.Fatalf("expected banned code, got %s", existing.Body.String())
	}

	listed := server.doJSON(t, http.MethodGet, "/admin/users?search=rowdy", nil, adminToken)
	expectStatus(t, listed, http.StatusOK)
	var views []userView
	decodeJSON(t, listed, &views)
	if len(views) != 1 || !views[0].Banned || views[0].ID != member.ID {
		t.Fatalf("expected banned user in admin list, got %+v", views)
	}

	missingFlag := server.doJSON(t, http.MethodPost, "/admin/users/"+member.ID+"/ban", gin.H{"reason": "spam"}, adminToken)
	expectStatus(t, missingFlag, http.StatusBadRequest)

	unban := server.doJSON(t, http.MethodPost, "/admin/users/"+member.ID+"/ban", gin.H{"banned": false}, adminToken)
	expectStatus(t, unban, http.StatusOK)
	expectStatus(t, server.doJSON(t, http.MethodGet, "/auth/session", nil, memberToken), http.StatusOK)
}

func TestAdminFeatureBulkDeleteAndLogs(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "member@example.com")
	memberToken := server.tokenFor(t, member.ID)
	adminToken := server.tokenFor(t, server.admin.ID)

	var clipIDs []string
	for _, title := range []string{"First", "Second"} {
		response := server.upload(t, memberToken, title, "", []byte("video-"+title), nil)
		expectStatus(t, response, http.StatusOK)
		var uploaded uploadResponsePayload
		decodeJSON(t, response, &uploaded)
		clipIDs = append(clipIDs, uploaded.ClipID)
	}

	feature := server.doJSON(t, http.MethodPost, "/admin/clips/"+clipIDs[0]+"/feature", gin.H{"featured": true}, adminToken)
	expectStatus(t, feature, http.StatusOK)
	expectStatus(t, server.doJSON(t, http.MethodPost, "/admin/clips/"+clipIDs[0]+"/feature", gin.H{"featured": true}, memberToken), http.StatusForbidden)

	featured := server.doJSON(t, http.MethodGet, "/clips?featured=true", nil, "")
	var views []clipView
	decodeJSON(t, featured, &views)
	if len(views) != 1 || views[0].ID != clipIDs[0] || !views[0].Featured {
		t.Fatalf("expected featured clip listing, got %+v", views)
	}

	stats := server.doJSON(t, http.MethodGet, "/admin/stats", nil, adminToken)
	expectStatus(t, stats, http.StatusOK)
	var statsView statsPayload
	decodeJSON(t, stats, &statsView)
	if statsView.TotalClips != 2 || statsView.FeaturedClips != 1 || statsView.TotalUsers != 2 {
		t.Fatalf("unexpected stats: %+v", statsView)
	}

	bulk := server.doJSON(t, http.MethodPost, "/admin/clips/bulk-delete", gin.H{"clipIds": append(clipIDs, "missing-clip")}, adminToken)
	expectStatus(t, bulk, http.StatusOK)
	var bulkResult struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
	}
	decodeJSON(t, bulk, &bulkResult)
	if !bulkResult.Success || bulkResult.Count != 2 {
		t.Fatalf("unexpected bulk delete result: %+v", bulkResult)
	}
	expectStatus(t, server.doJSON(t, http.MethodPost, "/admin/clips/bulk-delete", gin.H{"clipIds": []string{}}, adminToken), http.StatusBadRequest)

	logs := server.doJSON(t, http.MethodGet, "/admin/logs?limit=10", nil, adminToken)
	expectStatus(t, logs, http.StatusOK)
	var entries []adminLogView
	decodeJSON(t, logs, &entries)
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	if entries[0].Action != "BULK_DELETE_CLIPS" || entries[1].Action != "FEATURE_CLIP" {
		t.Fatalf("unexpected audit order: %+v", entries)
	}
	expectStatus(t, server.doJSON(t, http.MethodGet, "/admin/logs?limit=abc", nil, adminToken), http.StatusBadRequest)
}

func TestAdminDeleteUserRemovesContent(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "leaving@example.com")
	adminToken := server.tokenFor(t, server.admin.ID)

	response := server.upload(t, server.tokenFor(t, member.ID), "Bye", "", []byte("video-bytes"), nil)
	expectStatus(t, response, http.StatusOK)

	expectStatus(t, server.doJSON(t, http.MethodDelete, "/admin/users", gin.H{}, adminToken), http.StatusBadRequest)
	expectStatus(t, server.doJSON(t, http.MethodDelete, "/admin/users", gin.H{"userId": server.admin.ID}, adminToken), http.StatusBadRequest)
	expectStatus(t, server.doJSON(t, http.MethodDelete, "/admin/users", gin.H{"userId": member.ID}, adminToken), http.StatusOK)

	expectStatus(t, server.doJSON(t, http.MethodGet, "/user/"+member.ID, nil, ""), http.StatusNotFound)
	list, err := server.clips.List(context.Background(), clips.ListFilter{})
	if err != nil {
		t.Fatalf("failed to list clips: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected owned clips to be deleted, got %d", len(list))
	}
	if files := countStoredFiles(t, server.storeDir); files != 0 {
		t.Fatalf("expected owned media to be deleted, got %d files", files)
	}
}

func TestUserSettingsStoresProfileImages(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	member := server.createUser(t, "styled@example.com")
	token := server.tokenFor(t, member.ID)

	request := newMultipartRequest(t, "/user/settings",
		map[string]string{"displayName": "Styled", "bio": "hello", "name": ""},
		multipartFile{field: "profilePicture", name: "avatar.png", data: pngHeader},
	)
	response := server.do(request, token)
	expectStatus(t, response, http.StatusOK)
	var settings struct {
		Success     bool     `json:"success"`
		DisplayName string   `json:"displayName"`
		Bio         string   `json:"bio"`
		User        userView `json:"user"`
	}
	decodeJSON(t, response, &settings)
	if !settings.Success || settings.DisplayName != "Styled" || settings.Bio != "hello" {
		t.Fatalf("unexpected settings payload: %+v", settings)
	}
	if settings.User.Name != member.Name {
		t.Fatalf("empty name must be ignored, got %q", settings.User.Name)
	}
	if settings.User.ProfilePicture != "/user/"+member.ID+"/avatar" {
		t.Fatalf("unexpected profile picture url %q", settings.User.ProfilePicture)
	}

	avatar := server.doJSON(t, http.MethodGet, "/user/"+member.ID+"/avatar", nil, "")
	expectStatus(t, avatar, http.StatusOK)
	if !bytes.Equal(avatar.Body.Bytes(), pngHeader) {
		t.Fatalf("unexpected avatar bytes")
	}
	expectStatus(t, server.doJSON(t, http.MethodGet, "/user/"+member.ID+"/banner", nil, ""), http.StatusNotFound)

	rejected := server.do(newMultipartRequest(t, "/user/settings", nil,
		multipartFile{field: "bannerImage", name: "banner.txt", data: []byte("plain text banner")},
	), token)
	expectStatus(t, rejected, http.StatusBadRequest)
	if files := countStoredFiles(t, server.storeDir); files != 1 {
		t.Fatalf("expected only the avatar to be stored, got %d files", files)
	}
}

func TestAdminEventsStreamsAuditEntries(t *testing.T) {
	server := newTestServer(t, testServerOptions{heartbeatInterval: time.Hour})
	member := server.createUser(t, "watched@example.com")
	adminToken := server.tokenFor(t, server.admin.ID)

	response := server.upload(t, server.tokenFor(t, member.ID), "Watch", "", []byte("video-bytes"), nil)
	expectStatus(t, response, http.StatusOK)
	var uploaded uploadResponsePayload
	decodeJSON(t, response, &uploaded)

	httpServer := httptest.NewServer(server.handler)
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/admin/events", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+adminToken)
	stream, err := httpServer.Client().Do(request)
	if err != nil {
		t.Fatalf("failed to open event stream: %v", err)
	}
	defer stream.Body.Close()
	if stream.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", stream.StatusCode)
	}
	if !strings.HasPrefix(stream.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", stream.Header.Get("Content-Type"))
	}

	reader := bufio.NewReader(stream.Body)
	readEvent := func() (string, string) {
		t.Helper()
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("failed to read event stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				event = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && event != "":
				return event, data
			}
		}
	}

	if event, data := readEvent(); event != realtimeEventHeartbeat || !strings.Contains(data, realtimeSourceBackend) {
		t.Fatalf("expected initial heartbeat, got %q %q", event, data)
	}

	feature := server.doJSON(t, http.MethodPost, "/admin/clips/"+uploaded.ClipID+"/feature", gin.H{"featured": true}, adminToken)
	expectStatus(t, feature, http.StatusOK)

	event, data := readEvent()
	if event != RealtimeEventAudit {
		t.Fatalf("expected audit event, got %q", event)
	}
	if !strings.Contains(data, "FEATURE_CLIP") || !strings.Contains(data, server.admin.ID) {
		t.Fatalf("unexpected audit payload %q", data)
	}
}
