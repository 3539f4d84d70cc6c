package repositories

import (
	"context"
	"fmt"

	"github.com/listable/authgate/internal/database"
	"github.com/listable/authgate/internal/models"
)

// UserRepository handles user data access
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, name, email_verified)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, password_hash, name, email_verified, verified_at, created_at, updated_at
	`

	var created models.User
	err := r.db.Pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.Name, user.EmailVerified).Scan(
		&created.ID,
		&created.Email,
		&created.PasswordHash,
		&created.Name,
		&created.EmailVerified,
		&created.VerifiedAt,
		&created.CreatedAt,
		&created.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &created, nil
}

// GetByEmail retrieves a user by normalized email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, name, email_verified, verified_at, created_at, updated_at
		FROM users
		WHERE email = $1
	`

	var user models.User
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.EmailVerified,
		&user.VerifiedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

// MarkEmailVerified flips the verified marker for an email. The WHERE clause
// makes the update a no-op for already-verified accounts; callers treat
// ErrNotFound as "nothing to do".
func (r *UserRepository) MarkEmailVerified(ctx context.Context, email string) error {
	query := `
		UPDATE users
		SET email_verified = true, verified_at = NOW(), updated_at = NOW()
		WHERE email = $1 AND email_verified = false
	`

	result, err := r.db.Pool.Exec(ctx, query, email)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
