package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/quantpulse/identity-api/internal/models"
)

// OAuthConfigRepository handles OAuth provider configuration database operations
type OAuthConfigRepository struct {
	db *DB
}

// NewOAuthConfigRepository creates a new OAuth config repository
func NewOAuthConfigRepository(db *DB) *OAuthConfigRepository {
	return &OAuthConfigRepository{db: db}
}

// Upsert creates or replaces the configuration for a provider
func (r *OAuthConfigRepository) Upsert(ctx context.Context, config *models.OAuthConfig) error {
	query := `
		INSERT INTO oauth_config (id, provider, client_id, client_secret, redirect_uri, auth_url, token_url, userinfo_url, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (provider) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			redirect_uri = EXCLUDED.redirect_uri,
			auth_url = EXCLUDED.auth_url,
			token_url = EXCLUDED.token_url,
			userinfo_url = EXCLUDED.userinfo_url,
			scopes = EXCLUDED.scopes,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at, updated_at
	`

	now := time.Now()
	err := r.db.QueryRowContext(ctx, query,
		config.ID,
		config.Provider,
		config.ClientID,
		config.ClientSecret,
		config.RedirectURI,
		config.AuthURL,
		config.TokenURL,
		config.UserInfoURL,
		config.Scopes,
		now,
	).Scan(&config.CreatedAt, &config.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert OAuth config: %w", err)
	}

	return nil
}

// GetByProvider retrieves an OAuth configuration by provider name
func (r *OAuthConfigRepository) GetByProvider(ctx context.Context, provider string) (*models.OAuthConfig, error) {
	config := &models.OAuthConfig{}
	query := `
		SELECT id, provider, client_id, client_secret, redirect_uri, auth_url, token_url, userinfo_url, scopes, created_at, updated_at
		FROM oauth_config
		WHERE provider = $1
	`

	err := r.db.QueryRowContext(ctx, query, provider).Scan(
		&config.ID,
		&config.Provider,
		&config.ClientID,
		&config.ClientSecret,
		&config.RedirectURI,
		&config.AuthURL,
		&config.TokenURL,
		&config.UserInfoURL,
		&config.Scopes,
		&config.CreatedAt,
		&config.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("OAuth config not found for provider %s: %w", provider, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	return config, nil
}

// GetAll retrieves all OAuth configurations
func (r *OAuthConfigRepository) GetAll(ctx context.Context) ([]*models.OAuthConfig, error) {
	query := `
		SELECT id, provider, client_id, client_secret, redirect_uri, auth_url, token_url, userinfo_url, scopes, created_at, updated_at
		FROM oauth_config
		ORDER BY provider
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query OAuth configs: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			_ = err
		}
	}()

	var configs []*models.OAuthConfig
	for rows.Next() {
		config := &models.OAuthConfig{}
		err := rows.Scan(
			&config.ID,
			&config.Provider,
			&config.ClientID,
			&config.ClientSecret,
			&config.RedirectURI,
			&config.AuthURL,
			&config.TokenURL,
			&config.UserInfoURL,
			&config.Scopes,
			&config.CreatedAt,
			&config.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan OAuth config: %w", err)
		}
		configs = append(configs, config)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating OAuth configs: %w", err)
	}

	return configs, nil
}

// Delete deletes an OAuth configuration by provider
func (r *OAuthConfigRepository) Delete(ctx context.Context, provider string) error {
	query := `DELETE FROM oauth_config WHERE provider = $1`

	result, err := r.db.ExecContext(ctx, query, provider)
	if err != nil {
		return fmt.Errorf("failed to delete OAuth config: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("OAuth config not found")
	}

	return nil
}
