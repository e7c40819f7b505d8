package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/quantpulse/identity-api/internal/models"
)

// UserRepository handles user database operations
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user. A partial unique index on email (non-anonymous
// rows) enforces global email uniqueness; concurrent registration of the
// same email surfaces here as a unique violation, which callers resolve by
// re-reading the winner (see IsUniqueViolation).
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, auth_type, email, linked_providers, device_fingerprint, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		user.ID,
		user.AuthType,
		user.Email,
		pq.Array(user.LinkedProviders),
		user.DeviceFingerprint,
		now,
		now,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, auth_type, email, linked_providers, device_fingerprint, created_at, updated_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves the non-anonymous user holding this email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, auth_type, email, linked_providers, device_fingerprint, created_at, updated_at
		FROM users
		WHERE email = $1 AND auth_type <> 'anonymous'
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

// GetLatestAnonymousByFingerprint returns the most recently created
// anonymous user for a device fingerprint. Used only when fingerprint
// idempotency is enabled.
func (r *UserRepository) GetLatestAnonymousByFingerprint(ctx context.Context, fingerprint string) (*models.User, error) {
	query := `
		SELECT id, auth_type, email, linked_providers, device_fingerprint, created_at, updated_at
		FROM users
		WHERE device_fingerprint = $1 AND auth_type = 'anonymous'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanUser(r.db.QueryRowContext(ctx, query, fingerprint))
}

// AddLinkedProvider appends a provider to the user's linked set if absent
func (r *UserRepository) AddLinkedProvider(ctx context.Context, id uuid.UUID, provider string) error {
	query := `
		UPDATE users
		SET linked_providers = array_append(linked_providers, $2), updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY(linked_providers))
	`
	if _, err := r.db.ExecContext(ctx, query, id, provider, time.Now()); err != nil {
		return fmt.Errorf("failed to link provider: %w", err)
	}
	return nil
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var providers pq.StringArray
	err := row.Scan(
		&user.ID,
		&user.AuthType,
		&user.Email,
		&providers,
		&user.DeviceFingerprint,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.LinkedProviders = []string(providers)
	return user, nil
}
