package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mycloud/internal/apperrors"
	"mycloud/internal/models"
	"mycloud/internal/store"
)

// Service registers accounts, logs them in, and resolves tokens to principals.
type Service struct {
	accounts store.AccountStore
	tokens   *TokenIssuer
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(accounts store.AccountStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	return &Service{accounts: accounts, tokens: tokens, logger: logger}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// RegisterInput is a self-service signup.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// LoginResult is an issued access token.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *models.Account
}

// Register creates an active account with the user role.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.Account, error) {
	return s.CreateAccount(ctx, in, models.RoleUser)
}

// CreateAccount creates an active account with role. Operator tooling uses it
// to bootstrap administrators.
func (s *Service) CreateAccount(ctx context.Context, in RegisterInput, role models.Role) (*models.Account, error) {
	username, err := NormalizeUsername(in.Username)
	if err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, apperrors.Validation(apperrors.CodeInvalidArgument, "invalid role")
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Username:     username,
		Email:        email,
		Role:         role,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, apperrors.Conflict("username already exists")
		}
		return nil, apperrors.Internal(err, "create account")
	}
	s.log().Info("account created", "account_id", account.ID, "username", account.Username, "role", account.Role)
	return account, nil
}

// Login verifies credentials and issues a token. Unknown users, wrong
// passwords, and disabled accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	normalized, err := NormalizeUsername(username)
	if err != nil || strings.TrimSpace(password) == "" {
		return nil, invalidCredentials()
	}
	account, err := s.accounts.GetAccountByUsername(ctx, normalized)
	if err != nil {
		return nil, apperrors.Internal(err, "load account")
	}
	if account == nil || !account.IsActive || !VerifyPassword(account.PasswordHash, password) {
		return nil, invalidCredentials()
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Username)
	if err != nil {
		return nil, apperrors.Internal(err, "issue token")
	}
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Account: account}, nil
}

// Authenticate resolves a bearer token to the current account. Role and
// active flag come from the store, not from the token.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "authentication required")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindAuthentication, apperrors.CodeInvalidToken, "invalid token")
	}
	account, err := s.accounts.GetAccount(ctx, claims.Subject)
	if err != nil {
		return nil, apperrors.Internal(err, "load account")
	}
	if account == nil {
		return nil, apperrors.Unauthenticated(apperrors.CodeInvalidToken, "invalid token")
	}
	if !account.IsActive {
		return nil, apperrors.Unauthenticated(apperrors.CodeUnauthenticated, "account is disabled")
	}
	return account, nil
}

func invalidCredentials() error {
	return apperrors.Unauthenticated(apperrors.CodeInvalidCredentials, "invalid credentials")
}
