package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/clipshare/internal/apperr"
)

const opLogin = "auth.login"

var (
	// ErrAccountNotFound is returned by AccountLookup when no account matches.
	ErrAccountNotFound = errors.New("auth: account not found")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountBanned indicates the account exists but may not start sessions.
	ErrAccountBanned = errors.New("auth: account banned")
)

// timingHash is compared when the account does not exist so both paths cost one bcrypt run.
const timingHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z1IY4cZZXbXq3t1Hh3qGSb4a"

// Account is the credential view of a user.
type Account struct {
	UserID       string
	PasswordHash string
	Banned       bool
}

// AccountLookup resolves accounts by email.
type AccountLookup interface {
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
}

// LoginResult carries the issued session.
type LoginResult struct {
	UserID    string
	Token     string
	ExpiresIn int64
}

// CredentialsAuthenticator verifies email and password pairs and issues session tokens.
type CredentialsAuthenticator struct {
	accounts AccountLookup
	issuer   *TokenIssuer
	logger   *zap.Logger
}

// NewCredentialsAuthenticator wires the lookup and the token issuer.
func NewCredentialsAuthenticator(accounts AccountLookup, issuer *TokenIssuer, logger *zap.Logger) (*CredentialsAuthenticator, error) {
	if accounts == nil {
		return nil, errors.New("auth: account lookup required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialsAuthenticator{accounts: accounts, issuer: issuer, logger: logger}, nil
}

// Login verifies the credentials and issues a session token. Banned accounts are rejected
// only after the password matched, so the ban state is not disclosed to guessers.
func (a *CredentialsAuthenticator) Login(ctx context.Context, email, password string) (LoginResult, error) {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	if normalizedEmail == "" || password == "" {
		return LoginResult{}, apperr.New(opLogin, "missing_credentials", apperr.ErrValidation, nil)
	}

	account, err := a.accounts.FindAccountByEmail(ctx, normalizedEmail)
	if errors.Is(err, ErrAccountNotFound) {
		_ = ComparePassword(timingHash, password)
		return LoginResult{}, apperr.New(opLogin, "invalid_credentials", apperr.ErrUnauthorized, ErrInvalidCredentials)
	}
	if err != nil {
		a.logger.Error("account lookup failed",
			zap.String("operation", opLogin),
			zap.Error(err),
		)
		return LoginResult{}, apperr.New(opLogin, "lookup_failed", nil, err)
	}

	if err := ComparePassword(account.PasswordHash, password); err != nil {
		if !errors.Is(err, ErrPasswordMismatch) {
			a.logger.Warn("password comparison failed",
				zap.String("operation", opLogin),
				zap.String("user_id", account.UserID),
				zap.Error(err),
			)
		}
		return LoginResult{}, apperr.New(opLogin, "invalid_credentials", apperr.ErrUnauthorized, ErrInvalidCredentials)
	}
	if account.Banned {
		return LoginResult{}, apperr.New(opLogin, "account_banned", apperr.ErrForbidden, ErrAccountBanned)
	}

	token, expiresIn, err := a.issuer.IssueSessionToken(ctx, account.UserID)
	if err != nil {
		a.logger.Error("token issuance failed",
			zap.String("operation", opLogin),
			zap.String("user_id", account.UserID),
			zap.Error(err),
		)
		return LoginResult{}, apperr.New(opLogin, "token_issue_failed", nil, err)
	}
	return LoginResult{UserID: account.UserID, Token: token, ExpiresIn: expiresIn}, nil
}
