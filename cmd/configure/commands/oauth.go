package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/quantpulse/identity-api/internal/validation"
	"github.com/spf13/cobra"
)

// Endpoint defaults per provider; overridable by flags.
var providerDefaults = map[string]struct {
	authURL     string
	tokenURL    string
	userInfoURL string
	scopes      string
}{
	"google": {
		authURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:    "https://oauth2.googleapis.com/token",
		userInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		scopes:      "openid email profile",
	},
	"github": {
		authURL:     "https://github.com/login/oauth/authorize",
		tokenURL:    "https://github.com/login/oauth/access_token",
		userInfoURL: "https://api.github.com/user",
		scopes:      "read:user user:email",
	},
}

// NewOAuthCmd creates the OAuth provider configuration command
func NewOAuthCmd() *cobra.Command {
	var clientID, clientSecret, redirectURI string
	var authURL, tokenURL, userInfoURL, scopes string

	cmd := &cobra.Command{
		Use:   "oauth <provider>",
		Short: "Configure OAuth provider",
		Long:  "Configure an OAuth sign-in provider ('google' or 'github'). Endpoint URLs default to the provider's public endpoints.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if err := validation.ValidateOAuthProvider(provider); err != nil {
				return err
			}
			if clientID == "" || redirectURI == "" {
				return fmt.Errorf("required flags: --client-id, --redirect-uri (--client-secret is optional for public clients)")
			}

			defaults := providerDefaults[provider]
			if authURL == "" {
				authURL = defaults.authURL
			}
			if tokenURL == "" {
				tokenURL = defaults.tokenURL
			}
			if userInfoURL == "" {
				userInfoURL = defaults.userInfoURL
			}
			if scopes == "" {
				scopes = defaults.scopes
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer func() {
				if err := db.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
				}
			}()

			oauthRepo := database.NewOAuthConfigRepository(db)

			oauthConfig := &models.OAuthConfig{
				ID:          uuid.New(),
				Provider:    provider,
				ClientID:    clientID,
				RedirectURI: redirectURI,
				AuthURL:     authURL,
				TokenURL:    tokenURL,
				UserInfoURL: userInfoURL,
				Scopes:      scopes,
			}
			if clientSecret != "" {
				oauthConfig.ClientSecret = &clientSecret
			}

			if err := oauthRepo.Upsert(context.Background(), oauthConfig); err != nil {
				return fmt.Errorf("failed to save OAuth config: %w", err)
			}

			fmt.Printf("Saved OAuth configuration for provider: %s\n", provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID (required)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret (optional for public clients)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth2 redirect URI (required)")
	cmd.Flags().StringVar(&authURL, "auth-url", "", "Authorization endpoint (defaults to the provider's public endpoint)")
	cmd.Flags().StringVar(&tokenURL, "token-url", "", "Token endpoint (defaults to the provider's public endpoint)")
	cmd.Flags().StringVar(&userInfoURL, "userinfo-url", "", "Userinfo endpoint (defaults to the provider's public endpoint)")
	cmd.Flags().StringVar(&scopes, "scopes", "", "Space-separated scopes (defaults per provider)")

	return cmd
}
