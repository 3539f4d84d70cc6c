package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listable/authgate/internal/handlers"
	"github.com/listable/authgate/internal/models"
	"github.com/listable/authgate/internal/ratelimit"
	"github.com/listable/authgate/internal/services"
)

type mockSessionService struct {
	loginCalls  int
	loginFunc   func(ctx context.Context, email, password string) (*services.SessionResponse, error)
	signupCalls int
	signupFunc  func(ctx context.Context, email, password, name string) error
}

func (m *mockSessionService) Login(ctx context.Context, email, password string) (*services.SessionResponse, error) {
	m.loginCalls++
	if m.loginFunc != nil {
		return m.loginFunc(ctx, email, password)
	}
	return &services.SessionResponse{
		SessionToken: "session-token",
		User:         &services.UserResponse{Email: email, EmailVerified: true},
	}, nil
}

func (m *mockSessionService) Signup(ctx context.Context, email, password, name string) error {
	m.signupCalls++
	if m.signupFunc != nil {
		return m.signupFunc(ctx, email, password, name)
	}
	return nil
}

type mockVerificationService struct {
	consumeCalls int
	consumeFunc  func(ctx context.Context, email, token string) (services.ConsumeResult, error)
	resendCalls  int
	resendFunc   func(ctx context.Context, email string) error
}

func (m *mockVerificationService) Consume(ctx context.Context, email, token string) (services.ConsumeResult, error) {
	m.consumeCalls++
	if m.consumeFunc != nil {
		return m.consumeFunc(ctx, email, token)
	}
	return services.ConsumeSuccess, nil
}

func (m *mockVerificationService) Resend(ctx context.Context, email string) error {
	m.resendCalls++
	if m.resendFunc != nil {
		return m.resendFunc(ctx, email)
	}
	return nil
}

type erroringLimiter struct{}

func (erroringLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("limiter backend down")
}

const testLoginURL = "http://localhost:3000/login"

func newHandler(session *mockSessionService, verification *mockVerificationService, limiter ratelimit.Limiter, policy handlers.LoginRatePolicy) *handlers.AuthHandler {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return handlers.NewAuthHandler(session, verification, limiter, policy, nil, testLoginURL, logger)
}

func loginRequest(t *testing.T, remoteAddr string) *http.Request {
	t.Helper()
	body, err := json.Marshal(handlers.LoginRequest{Email: "shopper@example.com", Password: "grocery-list-4-life"})
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/auth/login", bytes.NewReader(body))
	r.RemoteAddr = remoteAddr
	return r
}

func TestLogin_RateLimitShortCircuits(t *testing.T) {
	session := &mockSessionService{}
	handler := newHandler(session, &mockVerificationService{}, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.Login(w, loginRequest(t, "203.0.113.7:1000"))
		assert.Equal(t, http.StatusOK, w.Code, "attempt %d should pass", i+1)
	}
	assert.Equal(t, 20, session.loginCalls)

	w := httptest.NewRecorder()
	handler.Login(w, loginRequest(t, "203.0.113.7:1000"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	// Denied attempt never reaches the session boundary
	assert.Equal(t, 20, session.loginCalls)

	retryAfter, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 590)
	assert.LessOrEqual(t, retryAfter, 600)
}

func TestLogin_RateLimitIsolatedPerIP(t *testing.T) {
	session := &mockSessionService{}
	handler := newHandler(session, &mockVerificationService{}, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 2, Window: 10 * time.Minute})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.Login(w, loginRequest(t, "203.0.113.7:1000"))
	}

	w := httptest.NewRecorder()
	handler.Login(w, loginRequest(t, "198.51.100.9:1000"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogin_FailsOpenWhenLimiterErrors(t *testing.T) {
	session := &mockSessionService{}
	handler := newHandler(session, &mockVerificationService{}, erroringLimiter{},
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	w := httptest.NewRecorder()
	handler.Login(w, loginRequest(t, "203.0.113.7:1000"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, session.loginCalls)
}

func TestLogin_GenericUnauthorizedResponse(t *testing.T) {
	bodies := make(map[string]string)

	for name, loginErr := range map[string]error{
		"bad credentials": models.ErrUnauthorized,
		"unverified":      models.ErrEmailNotVerified,
	} {
		session := &mockSessionService{loginFunc: func(ctx context.Context, email, password string) (*services.SessionResponse, error) {
			return nil, loginErr
		}}
		handler := newHandler(session, &mockVerificationService{}, ratelimit.NewMemoryLimiter(),
			handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

		w := httptest.NewRecorder()
		handler.Login(w, loginRequest(t, "203.0.113.7:1000"))
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		bodies[name] = w.Body.String()
	}

	// Both account states produce byte-identical responses
	assert.Equal(t, bodies["bad credentials"], bodies["unverified"])
}

func TestLogin_InvalidBody(t *testing.T) {
	handler := newHandler(&mockSessionService{}, &mockVerificationService{}, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	r := httptest.NewRequest("POST", "/auth/login", bytes.NewReader([]byte("{not json")))
	r.RemoteAddr = "203.0.113.7:1000"
	w := httptest.NewRecorder()
	handler.Login(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func resendRequest(t *testing.T, email string) *http.Request {
	t.Helper()
	body, err := json.Marshal(handlers.ResendVerificationRequest{Email: email})
	require.NoError(t, err)
	r := httptest.NewRequest("POST", "/auth/resend-verification", bytes.NewReader(body))
	r.RemoteAddr = "203.0.113.7:1000"
	return r
}

func TestResendVerification_NonEnumeration(t *testing.T) {
	// The service treats these addresses differently (one exists, one does
	// not); the handler must answer identically for both.
	verification := &mockVerificationService{resendFunc: func(ctx context.Context, email string) error {
		return nil
	}}
	handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	responses := make([]*httptest.ResponseRecorder, 0, 2)
	for _, email := range []string{"exists@example.com", "nobody@example.com"} {
		w := httptest.NewRecorder()
		handler.ResendVerification(w, resendRequest(t, email))
		responses = append(responses, w)
	}

	assert.Equal(t, http.StatusOK, responses[0].Code)
	assert.Equal(t, responses[0].Code, responses[1].Code)
	assert.Equal(t, responses[0].Body.String(), responses[1].Body.String())
	assert.Equal(t, 2, verification.resendCalls)
}

func TestResendVerification_MissingEmail(t *testing.T) {
	verification := &mockVerificationService{}
	handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	r := httptest.NewRequest("POST", "/auth/resend-verification", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	handler.ResendVerification(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, verification.resendCalls)
}

func TestResendVerification_UnexpectedFailure(t *testing.T) {
	verification := &mockVerificationService{resendFunc: func(ctx context.Context, email string) error {
		return errors.New("smtp relay on fire")
	}}
	handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	w := httptest.NewRecorder()
	handler.ResendVerification(w, resendRequest(t, "shopper@example.com"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// Fault detail stays server-side
	assert.NotContains(t, w.Body.String(), "smtp relay on fire")
}

func verifyRequest(rawQuery string) *http.Request {
	r := httptest.NewRequest("GET", "/auth/verify?"+rawQuery, nil)
	r.RemoteAddr = "203.0.113.7:1000"
	return r
}

func TestVerifyEmail_MissingParamsSkipStorage(t *testing.T) {
	for _, query := range []string{"", "token=abc", "email=shopper%40example.com"} {
		verification := &mockVerificationService{}
		handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
			handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

		w := httptest.NewRecorder()
		handler.VerifyEmail(w, verifyRequest(query))

		assert.Equal(t, http.StatusSeeOther, w.Code, query)
		assert.Equal(t, testLoginURL+"?verified=invalid", w.Header().Get("Location"), query)
		assert.Equal(t, 0, verification.consumeCalls, query)
	}
}

func TestVerifyEmail_OutcomeMapping(t *testing.T) {
	tests := []struct {
		result  services.ConsumeResult
		wantLoc string
	}{
		{services.ConsumeSuccess, testLoginURL + "?verified=true"},
		{services.ConsumeInvalidToken, testLoginURL + "?verified=invalid"},
		{services.ConsumeExpiredToken, testLoginURL + "?verified=expired"},
		{services.ConsumeAlreadyVerified, testLoginURL + "?verified=already-verified"},
	}

	for _, tt := range tests {
		t.Run(tt.wantLoc, func(t *testing.T) {
			verification := &mockVerificationService{consumeFunc: func(ctx context.Context, email, token string) (services.ConsumeResult, error) {
				return tt.result, nil
			}}
			handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
				handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

			w := httptest.NewRecorder()
			handler.VerifyEmail(w, verifyRequest("token=abc&email=shopper%40example.com"))

			assert.Equal(t, http.StatusSeeOther, w.Code)
			assert.Equal(t, tt.wantLoc, w.Header().Get("Location"))
			assert.Equal(t, 1, verification.consumeCalls)
		})
	}
}

func TestVerifyEmail_UnexpectedFailureRedirectsGenerically(t *testing.T) {
	verification := &mockVerificationService{consumeFunc: func(ctx context.Context, email, token string) (services.ConsumeResult, error) {
		return services.ConsumeInvalidToken, fmt.Errorf("connection refused: db01.internal:5432")
	}}
	handler := newHandler(&mockSessionService{}, verification, ratelimit.NewMemoryLimiter(),
		handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

	w := httptest.NewRecorder()
	handler.VerifyEmail(w, verifyRequest("token=abc&email=shopper%40example.com"))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, testLoginURL+"?verified=error", w.Header().Get("Location"))
	assert.NotContains(t, w.Header().Get("Location"), "db01.internal")
}

func TestSignup_IdenticalBodyForConflictAndSuccess(t *testing.T) {
	bodies := make([]string, 0, 2)

	for _, signupErr := range []error{nil, models.ErrConflict} {
		session := &mockSessionService{signupFunc: func(ctx context.Context, email, password, name string) error {
			return signupErr
		}}
		handler := newHandler(session, &mockVerificationService{}, ratelimit.NewMemoryLimiter(),
			handlers.LoginRatePolicy{Limit: 20, Window: 10 * time.Minute})

		body, err := json.Marshal(handlers.SignupRequest{
			Email: "shopper@example.com", Password: "grocery-list-4-life", Name: "Shopper",
		})
		require.NoError(t, err)
		r := httptest.NewRequest("POST", "/auth/signup", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.Signup(w, r)

		assert.Equal(t, http.StatusAccepted, w.Code)
		bodies = append(bodies, w.Body.String())
	}

	assert.Equal(t, bodies[0], bodies[1])
}
