package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listable/authgate/internal/auth"
	"github.com/listable/authgate/internal/models"
	pkglogger "github.com/listable/authgate/pkg/logger"
)

// VerificationTokenRepository defines the interface for token storage operations
type VerificationTokenRepository interface {
	Create(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.VerificationToken, error)
	GetOutstandingByEmail(ctx context.Context, email string) (*models.VerificationToken, error)
	Consume(ctx context.Context, id string) error
	DeleteByEmail(ctx context.Context, email string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// UserRepository defines the interface for user storage operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, email string) error
}

// EmailSender defines the interface for the email delivery collaborator
type EmailSender interface {
	SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// ConsumeResult is the domain outcome of a token redemption attempt.
// These are computed values, not faults; only storage failures surface as
// errors.
type ConsumeResult int

const (
	ConsumeSuccess ConsumeResult = iota
	ConsumeInvalidToken
	ConsumeExpiredToken
	ConsumeAlreadyVerified
)

// NormalizeEmail canonicalizes an email identity. Issue and Consume must
// agree on this or a token issued for one spelling can never be redeemed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// VerificationService owns the single-use verification token lifecycle
type VerificationService struct {
	tokenRepo   VerificationTokenRepository
	userRepo    UserRepository
	emailSender EmailSender
	timingDelay *auth.TimingDelay
	logger      *slog.Logger
	tokenExpiry time.Duration
}

// NewVerificationService creates a new VerificationService
func NewVerificationService(
	tokenRepo VerificationTokenRepository,
	userRepo UserRepository,
	emailSender EmailSender,
	timingDelay *auth.TimingDelay,
	logger *slog.Logger,
	tokenExpiry time.Duration,
) *VerificationService {
	return &VerificationService{
		tokenRepo:   tokenRepo,
		userRepo:    userRepo,
		emailSender: emailSender,
		timingDelay: timingDelay,
		logger:      logger,
		tokenExpiry: tokenExpiry,
	}
}

// hashToken derives the comparison-safe stored form of a plain token
func hashToken(plainToken string) string {
	hash := sha256.Sum256([]byte(plainToken))
	return hex.EncodeToString(hash[:])
}

// Issue generates a fresh verification token for an email and persists its
// hash. Any outstanding token for the same email is invalidated first so at
// most one token is authoritative. Returns the plain token; it is never
// stored and never logged.
func (s *VerificationService) Issue(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		s.logger.Error("failed to generate random token", slog.Any("error", err))
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	plainToken := base64.URLEncoding.EncodeToString(tokenBytes)
	expiresAt := time.Now().Add(s.tokenExpiry)

	if err := s.tokenRepo.DeleteByEmail(ctx, email); err != nil {
		s.logger.Error("failed to invalidate prior tokens",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to invalidate prior tokens: %w", err)
	}

	if _, err := s.tokenRepo.Create(ctx, email, hashToken(plainToken), expiresAt); err != nil {
		s.logger.Error("failed to create verification token",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	s.logger.Info("verification token issued",
		slog.String("email", pkglogger.SanitizedEmail(email)),
		slog.Time("expires_at", expiresAt))

	return plainToken, nil
}

// Consume redeems a token for an email exactly once.
//
// Outcome ordering matters: an already-verified account wins over any token
// state (repeat clicks on a stale link must not read as an attack), a missing
// or mismatched token is invalid, and only a matched token can be expired.
func (s *VerificationService) Consume(ctx context.Context, email, plainToken string) (ConsumeResult, error) {
	email = NormalizeEmail(email)

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ConsumeInvalidToken, nil
		}
		s.logger.Error("failed to look up user for verification", slog.Any("error", err))
		return ConsumeInvalidToken, err
	}

	if user.EmailVerified {
		return ConsumeAlreadyVerified, nil
	}

	token, err := s.tokenRepo.GetOutstandingByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ConsumeInvalidToken, nil
		}
		s.logger.Error("failed to look up verification token", slog.Any("error", err))
		return ConsumeInvalidToken, err
	}

	presented := hashToken(plainToken)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token.TokenHash)) != 1 {
		s.logger.Warn("verification token mismatch",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return ConsumeInvalidToken, nil
	}

	if token.IsExpired() {
		s.logger.Info("verification token expired",
			slog.String("token_id", token.ID),
			slog.Time("expires_at", token.ExpiresAt))
		return ConsumeExpiredToken, nil
	}

	// The conditional update in Consume is the exactly-once gate: a
	// concurrent redemption of the same token loses here.
	if err := s.tokenRepo.Consume(ctx, token.ID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ConsumeInvalidToken, nil
		}
		s.logger.Error("failed to consume verification token",
			slog.String("token_id", token.ID),
			slog.Any("error", err))
		return ConsumeInvalidToken, err
	}

	if err := s.userRepo.MarkEmailVerified(ctx, email); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to mark email verified",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return ConsumeInvalidToken, err
	}

	s.logger.Info("email verified",
		slog.String("email", pkglogger.SanitizedEmail(email)))

	return ConsumeSuccess, nil
}

// SendVerification issues a token and hands it to the email collaborator
func (s *VerificationService) SendVerification(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	plainToken, err := s.Issue(ctx, email)
	if err != nil {
		return err
	}

	if err := s.emailSender.SendVerificationEmail(ctx, email, plainToken, time.Now().Add(s.tokenExpiry)); err != nil {
		s.logger.Error("failed to send verification email",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// Resend dispatches a fresh verification email when the account exists and
// is still unverified. The ineligible branches return success and are padded
// to the same latency profile as the eligible one, so neither the response
// body nor the response time reveals whether an account exists.
func (s *VerificationService) Resend(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	start := time.Now()

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.delayFrom(start)
			return nil
		}
		s.logger.Error("failed to look up user for resend", slog.Any("error", err))
		s.delayFrom(start)
		return nil
	}

	if user.EmailVerified {
		s.delayFrom(start)
		return nil
	}

	return s.SendVerification(ctx, email)
}

func (s *VerificationService) delayFrom(start time.Time) {
	if s.timingDelay != nil {
		s.timingDelay.WaitFrom(start)
	}
}
