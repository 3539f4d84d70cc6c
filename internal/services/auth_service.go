package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/listable/authgate/internal/auth"
	"github.com/listable/authgate/internal/models"
	pkgauth "github.com/listable/authgate/pkg/auth"
	pkglogger "github.com/listable/authgate/pkg/logger"
)

// AuthService is the credential-verification boundary: it checks a
// password against the stored account and mints a session on success.
type AuthService struct {
	userRepo     UserRepository
	tm           *auth.TokenManager
	verification *VerificationService
	logger       *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(userRepo UserRepository, tm *auth.TokenManager, verification *VerificationService, logger *slog.Logger) *AuthService {
	return &AuthService{
		userRepo:     userRepo,
		tm:           tm,
		verification: verification,
		logger:       logger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"email_verified"`
}

// SessionResponse represents the response from a successful login
type SessionResponse struct {
	SessionToken string        `json:"session_token"`
	User         *UserResponse `json:"user"`
}

// Login verifies credentials and returns a session
func (s *AuthService) Login(ctx context.Context, email, password string) (*SessionResponse, error) {
	if email = NormalizeEmail(email); email == "" {
		s.logger.Warn("login attempt with empty email")
		return nil, models.ErrUnauthorized
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("login failed: invalid credentials")
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		return nil, models.ErrUnauthorized
	}

	if !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		return nil, models.ErrEmailNotVerified
	}

	sessionToken, err := s.tm.GenerateSessionToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate session token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))

	return &SessionResponse{
		SessionToken: sessionToken,
		User: &UserResponse{
			ID:            user.ID,
			Email:         user.Email,
			Name:          user.Name,
			EmailVerified: user.EmailVerified,
		},
	}, nil
}

// Signup creates an unverified account and kicks off email verification
func (s *AuthService) Signup(ctx context.Context, email, password, name string) error {
	email = NormalizeEmail(email)

	if err := pkgauth.ValidatePassword(password); err != nil {
		return models.ErrBadRequest
	}

	passwordHash, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
	}

	if _, err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Caller answers with the same generic message either way
			s.logger.Info("signup for existing account",
				slog.String("email", pkglogger.SanitizedEmail(email)))
			return models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.verification.SendVerification(ctx, email); err != nil {
		// Account exists; the user can request a resend later
		s.logger.Error("failed to send signup verification email",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
	}

	return nil
}
