package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/database"
	"github.com/MarcoPoloResearchLab/clipshare/internal/ids"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/uploads"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "clipshare_test_session"
	testPassword      = "password1"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type testServer struct {
	handler    http.Handler
	users      *users.Service
	clips      *clips.Service
	store      *media.LocalStore
	storeDir   string
	issuer     *auth.TokenIssuer
	dispatcher *AuditDispatcher
	admin      users.User
}

type testServerOptions struct {
	maxUploadBytes    int64
	heartbeatInterval time.Duration
}

func newTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "server.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	storeDir := t.TempDir()
	store, err := media.NewLocalStore(media.LocalStoreConfig{BaseDir: storeDir})
	if err != nil {
		t.Fatalf("failed to create media store: %v", err)
	}
	collectors := metrics.NewWithRegistry(prometheus.NewRegistry())
	cleaner := media.NewCleaner(store, nil, collectors)
	idProvider := ids.NewUUIDProvider()

	clipService, err := clips.NewService(clips.ServiceConfig{Database: db, IDProvider: idProvider, Cleaner: cleaner})
	if err != nil {
		t.Fatalf("failed to create clip service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider, Content: clipService, Cleaner: cleaner})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	uploadService, err := uploads.NewService(uploads.ServiceConfig{
		Store:    store,
		Clips:    clipService,
		Cleaner:  cleaner,
		MaxBytes: options.maxUploadBytes,
		Metrics:  collectors,
	})
	if err != nil {
		t.Fatalf("failed to create upload service: %v", err)
	}
	dispatcher := NewAuditDispatcher()
	moderationService, err := moderation.NewService(moderation.ServiceConfig{
		Database:   db,
		Clips:      clipService,
		Users:      userService,
		Cleaner:    cleaner,
		IDProvider: idProvider,
		Metrics:    collectors,
		Notifier:   dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to create moderation service: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret), CookieName: testCookieName})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}
	authenticator, err := auth.NewCredentialsAuthenticator(userService, issuer, nil)
	if err != nil {
		t.Fatalf("failed to create authenticator: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Sessions:          validator,
		Authenticator:     authenticator,
		Users:             userService,
		Clips:             clipService,
		Uploads:           uploadService,
		Moderation:        moderationService,
		Store:             store,
		Cleaner:           cleaner,
		Metrics:           collectors,
		Realtime:          dispatcher,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: options.heartbeatInterval,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	admin, _, err := userService.EnsureAdmin(ctx, users.NewUser{Email: "admin@example.com", Name: "Admin", PasswordHash: hash})
	if err != nil {
		t.Fatalf("failed to seed admin: %v", err)
	}

	return &testServer{
		handler:    handler,
		users:      userService,
		clips:      clipService,
		store:      store,
		storeDir:   storeDir,
		issuer:     issuer,
		dispatcher: dispatcher,
		admin:      admin,
	}
}

func (s *testServer) createUser(t *testing.T, email string) users.User {
	t.Helper()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user, err := s.users.Create(context.Background(), users.NewUser{Email: email, Name: email, PasswordHash: hash})
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func (s *testServer) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.IssueSessionToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s *testServer) do(request *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) doJSON(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	return s.do(request, token)
}

type multipartFile struct {
	field string
	name  string
	data  []byte
}

func newMultipartRequest(t *testing.T, path string, fields map[string]string, files ...multipartFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(file.data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, path, &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("unexpected status code: got %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}
