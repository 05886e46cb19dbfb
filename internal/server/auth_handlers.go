package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
	"github.com/MarcoPoloResearchLab/clipshare/internal/auth"
	"github.com/MarcoPoloResearchLab/clipshare/internal/users"
)

const (
	opSignup  = "server.signup"
	opLogin   = "server.login"
	opSession = "server.session"
	opAdmin   = "server.admin"
)

type signupRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opSignup, "invalid_body", err))
		return
	}
	if strings.TrimSpace(request.Email) == "" || request.Password == "" {
		h.respondError(c, invalidRequest(opSignup, "missing_credentials", nil))
		return
	}
	hash, err := auth.HashPassword(request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			h.respondError(c, invalidRequest(opSignup, "weak_password", err))
			return
		}
		h.respondError(c, apperr.New(opSignup, "hash_failed", nil, err))
		return
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		name, _, _ = strings.Cut(strings.TrimSpace(request.Email), "@")
	}

	user, err := h.users.Create(c.Request.Context(), users.NewUser{
		Email:        request.Email,
		Name:         name,
		PasswordHash: hash,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": h.newUserView(user, true)})
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondError(c, invalidRequest(opLogin, "invalid_body", err))
		return
	}
	result, err := h.authenticator.Login(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountBanned) {
			h.logger.Info("banned account login rejected", zap.String("email", strings.ToLower(strings.TrimSpace(request.Email))))
		}
		h.respondError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), result.Token, int(result.ExpiresIn), "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: result.Token,
		ExpiresIn:   result.ExpiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", h.cookieSecure, true)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleSession(c *gin.Context) {
	user := currentUser(c)
	c.JSON(http.StatusOK, gin.H{"user": h.newUserView(user, true)})
}

// authorizeRequest resolves the session into the stored account. Role and ban state are
// read from the database on every request, never from the token.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		h.respondError(c, apperr.New(opSession, "invalid_session", apperr.ErrUnauthorized, err))
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			h.respondError(c, apperr.New(opSession, "unknown_account", apperr.ErrUnauthorized, err))
			return
		}
		h.respondError(c, err)
		return
	}
	if user.Banned {
		h.respondError(c, apperr.New(opSession, "account_banned", apperr.ErrForbidden, auth.ErrAccountBanned))
		return
	}

	c.Set(userContextKey, user)
	c.Set(principalContextKey, user.Principal())
	c.Next()
}

func (h *httpHandler) requireAdmin(c *gin.Context) {
	if !currentPrincipal(c).IsAdmin() {
		h.respondError(c, apperr.New(opAdmin, "admin_required", apperr.ErrForbidden, nil))
		return
	}
	c.Next()
}

func currentPrincipal(c *gin.Context) auth.Principal {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return auth.Principal{}
	}
	principal, _ := value.(auth.Principal)
	return principal
}

func currentUser(c *gin.Context) users.User {
	value, ok := c.Get(userContextKey)
	if !ok {
		return users.User{}
	}
	user, _ := value.(users.User)
	return user
}
