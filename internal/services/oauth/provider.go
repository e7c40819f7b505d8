package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/quantpulse/identity-api/internal/database"
)

// Registry resolves per-provider OAuth clients from stored configuration.
// Config lives in the database so providers can be rotated without a
// redeploy; clients are rebuilt per request.
type Registry struct {
	repo *database.OAuthConfigRepository
}

// NewRegistry creates an OAuth provider registry
func NewRegistry(repo *database.OAuthConfigRepository) *Registry {
	return &Registry{repo: repo}
}

// ClientFor returns a client for the named provider
func (r *Registry) ClientFor(ctx context.Context, provider string) (*Client, error) {
	cfg, err := r.repo.GetByProvider(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth config for %s: %w", provider, err)
	}
	return NewClient(cfg), nil
}

// Exchange trades an authorization code for the provider-verified identity
func (r *Registry) Exchange(ctx context.Context, provider, code string) (*Identity, error) {
	client, err := r.ClientFor(ctx, provider)
	if err != nil {
		return nil, err
	}
	tok, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange with %s failed: %w", provider, err)
	}
	return client.FetchIdentity(ctx, tok)
}

// AuthorizeURLs returns an authorization URL per configured provider,
// each with a freshly generated state parameter.
func (r *Registry) AuthorizeURLs(ctx context.Context) (map[string]string, error) {
	configs, err := r.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth configs: %w", err)
	}

	urls := make(map[string]string, len(configs))
	for _, cfg := range configs {
		urls[cfg.Provider] = NewClient(cfg).AuthCodeURL(newState())
	}
	return urls, nil
}

func newState() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "state"
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
