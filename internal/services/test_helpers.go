package services

import (
	"context"
	"sync"
	"time"

	"github.com/listable/authgate/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	CreateFunc            func(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmailFunc        func(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerifiedFunc func(ctx context.Context, email string) error
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) MarkEmailVerified(ctx context.Context, email string) error {
	if m.MarkEmailVerifiedFunc != nil {
		return m.MarkEmailVerifiedFunc(ctx, email)
	}
	return nil
}

// MockTokenRepository implements VerificationTokenRepository for testing
type MockTokenRepository struct {
	CreateFunc                func(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.VerificationToken, error)
	GetOutstandingByEmailFunc func(ctx context.Context, email string) (*models.VerificationToken, error)
	ConsumeFunc               func(ctx context.Context, id string) error
	DeleteByEmailFunc         func(ctx context.Context, email string) error
	CleanupExpiredFunc        func(ctx context.Context) (int64, error)
}

func (m *MockTokenRepository) Create(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.VerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, email, tokenHash, expiresAt)
	}
	return nil, models.ErrInternalServer
}

func (m *MockTokenRepository) GetOutstandingByEmail(ctx context.Context, email string) (*models.VerificationToken, error) {
	if m.GetOutstandingByEmailFunc != nil {
		return m.GetOutstandingByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockTokenRepository) Consume(ctx context.Context, id string) error {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, id)
	}
	return nil
}

func (m *MockTokenRepository) DeleteByEmail(ctx context.Context, email string) error {
	if m.DeleteByEmailFunc != nil {
		return m.DeleteByEmailFunc(ctx, email)
	}
	return nil
}

func (m *MockTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx)
	}
	return 0, nil
}

// MockEmailSender implements EmailSender for testing and counts dispatches
type MockEmailSender struct {
	mu        sync.Mutex
	SendFunc  func(ctx context.Context, email, token string, expiresAt time.Time) error
	sentCount int
	lastToken string
	lastEmail string
}

func (m *MockEmailSender) SendVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	m.mu.Lock()
	m.sentCount++
	m.lastToken = token
	m.lastEmail = email
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, token, expiresAt)
	}
	return nil
}

func (m *MockEmailSender) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentCount
}

func (m *MockEmailSender) LastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

func (m *MockEmailSender) LastEmail() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEmail
}
