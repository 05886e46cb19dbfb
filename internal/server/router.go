package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/clips"
	"github.com/MarcoPoloResearchLab/clipshare/internal/media"
	"github.com/MarcoPoloResearchLab/clipshare/internal/metrics"
	"github.com/MarcoPoloResearchLab/clipshare/internal/moderation"
	"github.com/MarcoPoloResearchLab/clipshare/internal/uploads"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	principalContextKey = "clipshare_principal"
	userContextKey      = "clipshare_user"

	defaultHeartbeatInterval = 25 * time.Second
	defaultMaxImageBytes     = 10 << 20
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingAuthenticator    = errors.New("authenticator dependency required")
	errMissingServices         = errors.New("user, clip, upload and moderation services are required")
	errMissingStore            = errors.New("media store dependency required")
)

// SessionValidator authenticates requests from the session cookie or bearer header.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	CookieName() string
}

// Authenticator exchanges credentials for a session token.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (auth.LoginResult, error)
}

type Dependencies struct {
	Sessions       SessionValidator
	Authenticator  Authenticator
	Users          *users.Service
	Clips          *clips.Service
	Uploads        *uploads.Service
	Moderation     *moderation.Service
	Store          media.Store
	Cleaner        *media.Cleaner
	Metrics        *metrics.Metrics
	Realtime       *AuditDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
	CookieSecure   bool

	// HeartbeatInterval paces keep-alive events on /admin/events. Zero uses 25s.
	HeartbeatInterval time.Duration
	// MaxImageBytes bounds profile picture and banner uploads. Zero uses 10 MiB.
	MaxImageBytes int64
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Authenticator == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Users == nil || deps.Clips == nil || deps.Uploads == nil || deps.Moderation == nil {
		return nil, errMissingServices
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewAuditDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	cleaner := deps.Cleaner
	if cleaner == nil {
		cleaner = media.NewCleaner(deps.Store, logger, deps.Metrics)
	}
	maxImageBytes := deps.MaxImageBytes
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(deps.Metrics.Middleware())

	handler := &httpHandler{
		sessions:          deps.Sessions,
		authenticator:     deps.Authenticator,
		users:             deps.Users,
		clips:             deps.Clips,
		uploads:           deps.Uploads,
		moderation:        deps.Moderation,
		store:             deps.Store,
		cleaner:           cleaner,
		realtime:          realtime,
		logger:            logger,
		cookieSecure:      deps.CookieSecure,
		heartbeatInterval: heartbeat,
		maxImageBytes:     maxImageBytes,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)
	router.POST("/auth/logout", handler.handleLogout)

	router.GET("/clips", handler.handleListClips)
	router.GET("/clips/:id", handler.handleGetClip)
	router.GET("/clips/:id/video", handler.handleClipVideo)
	router.GET("/clips/:id/thumbnail", handler.handleClipThumbnail)
	router.GET("/clips/:id/comments", handler.handleListComments)
	router.GET("/user/:userId", handler.handleUserProfile)
	router.GET("/user/:userId/avatar", handler.handleUserAvatar)
	router.GET("/user/:userId/banner", handler.handleUserBanner)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/session", handler.handleSession)
	protected.POST("/upload", handler.handleUpload)
	protected.PATCH("/clips/:id", handler.handleUpdateClip)
	protected.DELETE("/clips/:id", handler.handleDeleteClip)
	protected.POST("/clips/:id/comments", handler.handleAddComment)
	protected.DELETE("/clips/:id/comments/:commentId", handler.handleDeleteComment)
	protected.POST("/user/settings", handler.handleUserSettings)

	admin := protected.Group("/admin")
	admin.Use(handler.requireAdmin)
	admin.GET("/stats", handler.handleAdminStats)
	admin.GET("/analytics", handler.handleAdminAnalytics)
	admin.GET("/users", handler.handleAdminListUsers)
	admin.DELETE("/users", handler.handleAdminDeleteUser)
	admin.POST("/users/:id/ban", handler.handleAdminBan)
	admin.POST("/users/:id/role", handler.handleAdminRole)
	admin.GET("/clips", handler.handleAdminListClips)
	admin.POST("/clips/bulk-delete", handler.handleAdminBulkDelete)
	admin.POST("/clips/:id/feature", handler.handleAdminFeature)
	admin.GET("/logs", handler.handleAdminLogs)
	admin.GET("/events", handler.handleAdminEvents)

	return router, nil
}

type httpHandler struct {
	sessions          SessionValidator
	authenticator     Authenticator
	users             *users.Service
	clips             *clips.Service
	uploads           *uploads.Service
	moderation        *moderation.Service
	store             media.Store
	cleaner           *media.Cleaner
	realtime          *AuditDispatcher
	logger            *zap.Logger
	cookieSecure      bool
	heartbeatInterval time.Duration
	maxImageBytes     int64
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			wildcard = true
		}
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if wildcard {
		// Credentialed requests need the concrete origin echoed back rather than "*".
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request", fields...)
			return
		}
		logger.Info("http request", fields...)
	}
}

// respondError maps the error kind onto a status code and a short message. Causes stay in the logs.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, message := statusFor(err)
	code := apperr.CodeOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err))
	}
	body := gin.H{"error": message}
	if code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict, "already exists"
	case errors.Is(err, apperr.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large"
	case errors.Is(err, apperr.ErrStorage):
		return http.StatusInternalServerError, "storage failure"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func invalidRequest(operation, reason string, cause error) error {
	return apperr.New(operation, reason, apperr.ErrValidation, cause)
}
