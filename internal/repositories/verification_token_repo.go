package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/listable/authgate/internal/database"
	"github.com/listable/authgate/internal/models"
)

// VerificationTokenRepository handles verification token data access
type VerificationTokenRepository struct {
	db *database.DB
}

// NewVerificationTokenRepository creates a new VerificationTokenRepository
func NewVerificationTokenRepository(db *database.DB) *VerificationTokenRepository {
	return &VerificationTokenRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTokenRow(row rowScanner) (*models.VerificationToken, error) {
	var token models.VerificationToken
	var consumedAt *time.Time

	err := row.Scan(
		&token.ID, &token.Email, &token.TokenHash,
		&token.ExpiresAt, &consumedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.ConsumedAt = consumedAt
	return &token, nil
}

// Create inserts a new verification token record
func (r *VerificationTokenRepository) Create(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.VerificationToken, error) {
	query := `
		INSERT INTO verification_tokens (email, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, email, token_hash, expires_at, consumed_at, created_at
	`

	token, err := scanTokenRow(r.db.Pool.QueryRow(ctx, query, email, tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create verification token: %w", err)
	}

	return token, nil
}

// GetOutstandingByEmail returns the most recent unconsumed token for an
// email, expired or not. Expiry is the service's call to make so that an
// expired token can be reported as expired rather than invalid.
func (r *VerificationTokenRepository) GetOutstandingByEmail(ctx context.Context, email string) (*models.VerificationToken, error) {
	query := `
		SELECT id, email, token_hash, expires_at, consumed_at, created_at
		FROM verification_tokens
		WHERE email = $1 AND consumed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`

	return scanTokenRow(r.db.Pool.QueryRow(ctx, query, email))
}

// Consume marks a token consumed exactly once. The conditional WHERE plus the
// affected-row check is the atomic gate: of two concurrent calls only one can
// observe consumed_at IS NULL. Returns ErrNotFound when the token was already
// consumed or has expired.
func (r *VerificationTokenRepository) Consume(ctx context.Context, id string) error {
	query := `
		UPDATE verification_tokens
		SET consumed_at = NOW()
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > NOW()
	`

	result, err := r.db.Pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to consume token: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// DeleteByEmail removes all tokens for an email. Issuing a fresh token first
// invalidates any outstanding one so a single token stays authoritative.
func (r *VerificationTokenRepository) DeleteByEmail(ctx context.Context, email string) error {
	query := `DELETE FROM verification_tokens WHERE email = $1`

	_, err := r.db.Pool.Exec(ctx, query, email)
	if err != nil {
		return fmt.Errorf("failed to delete tokens for email: %w", err)
	}

	return nil
}

// CleanupExpired deletes consumed tokens and tokens long past expiry
func (r *VerificationTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM verification_tokens
		WHERE consumed_at IS NOT NULL OR expires_at < NOW() - INTERVAL '7 days'
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
