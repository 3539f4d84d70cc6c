package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/listable/authgate/internal/models"
	"github.com/listable/authgate/internal/ratelimit"
	"github.com/listable/authgate/internal/services"
	pkghttp "github.com/listable/authgate/pkg/http"
)

// SessionService defines the credential-verification boundary the gateway
// delegates to once a login attempt clears the limiter.
type SessionService interface {
	Login(ctx context.Context, email, password string) (*services.SessionResponse, error)
	Signup(ctx context.Context, email, password, name string) error
}

// VerificationService defines the interface for email verification
type VerificationService interface {
	Consume(ctx context.Context, email, plainToken string) (services.ConsumeResult, error)
	Resend(ctx context.Context, email string) error
}

// LoginRatePolicy is the throttling policy applied per client IP
type LoginRatePolicy struct {
	Limit  int
	Window time.Duration
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service          SessionService
	verification     VerificationService
	limiter          ratelimit.Limiter
	policy           LoginRatePolicy
	ipConfig         *pkghttp.IPConfig
	loginRedirectURL string
	logger           *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	service SessionService,
	verification VerificationService,
	limiter ratelimit.Limiter,
	policy LoginRatePolicy,
	ipConfig *pkghttp.IPConfig,
	loginRedirectURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		service:          service,
		verification:     verification,
		limiter:          limiter,
		policy:           policy,
		ipConfig:         ipConfig,
		loginRedirectURL: loginRedirectURL,
		logger:           logger,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupRequest represents the request body for account creation
type SignupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1"`
}

// ResendVerificationRequest represents the request body for resending verification email
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email"`
}

const resendMessage = "If an account exists with this email, a verification email will be sent."
const signupMessage = "Registration received. If the email is not already registered, you will receive a confirmation email."

// Login handles user login. The limiter decision happens before the session
// boundary is ever touched: a denied attempt short-circuits with 429 and a
// Retry-After derived from the window's reset time.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r, h.ipConfig)
	key := ratelimit.LoginKeyForIP(ipAddress)

	decision, err := h.limiter.Check(r.Context(), key, h.policy.Limit, h.policy.Window)
	if err != nil {
		// Fail open for availability: a broken limiter backend must not lock
		// everyone out. The attempt itself still has to authenticate.
		h.logger.Error("rate limit check failed", slog.Any("error", err))
	} else if !decision.Allowed {
		h.logger.Warn("login rate limited",
			slog.String("key", key),
			slog.Time("reset_at", decision.ResetAt))
		pkghttp.WriteTooManyRequests(w, "Too many login attempts. Please try again later.", decision.ResetAt)
		return
	}

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrEmailNotVerified):
			// Generic response for all credential and account-state failures
			// to prevent user enumeration
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Signup handles account creation
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.Signup(r.Context(), req.Email, req.Password, req.Name)
	if err != nil && !errors.Is(err, models.ErrConflict) && !errors.Is(err, models.ErrBadRequest) {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	// Conflicts and rejected passwords get the same body as success so
	// account existence cannot be probed through signup.
	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": signupMessage,
	})
}

// ResendVerification handles resending of verification email
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req ResendVerificationRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.verification.Resend(r.Context(), req.Email); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"message": resendMessage,
	})
}

// VerifyEmail handles the emailed verification link. Every path ends in a
// redirect to the login surface; the outcome rides the `verified` query
// parameter and raw failures never reach the client.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	email := r.URL.Query().Get("email")

	if token == "" || email == "" {
		h.redirectWithOutcome(w, r, models.VerifyInvalid)
		return
	}

	result, err := h.verification.Consume(r.Context(), email, token)
	if err != nil {
		h.logger.Error("verification failed unexpectedly", slog.Any("error", err))
		h.redirectWithOutcome(w, r, models.VerifyError)
		return
	}

	h.redirectWithOutcome(w, r, outcomeFor(result))
}

// outcomeFor maps domain results onto the closed redirect discriminant
func outcomeFor(result services.ConsumeResult) models.VerifyOutcome {
	switch result {
	case services.ConsumeSuccess:
		return models.VerifySuccess
	case services.ConsumeExpiredToken:
		return models.VerifyExpired
	case services.ConsumeAlreadyVerified:
		return models.VerifyAlreadyVerified
	case services.ConsumeInvalidToken:
		return models.VerifyInvalid
	default:
		return models.VerifyError
	}
}

func (h *AuthHandler) redirectWithOutcome(w http.ResponseWriter, r *http.Request, outcome models.VerifyOutcome) {
	http.Redirect(w, r, h.loginRedirectURL+"?verified="+string(outcome), http.StatusSeeOther)
}
