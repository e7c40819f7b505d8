package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/spf13/cobra"
)

// NewTestCmd creates the test command
func NewTestCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test OAuth configuration",
		Long:  "Test OAuth provider configuration by probing its endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				return fmt.Errorf("--provider is required")
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
			ctx := context.Background()

			oauthConfig, err := oauthRepo.GetByProvider(ctx, provider)
			if err != nil {
				return fmt.Errorf("failed to get OAuth config: %w", err)
			}

			fmt.Printf("Testing OAuth configuration for provider: %s\n", provider)
			client := &http.Client{Timeout: 10 * time.Second}

			// The authorization endpoint should answer something other
			// than a 5xx even without parameters
			fmt.Printf("\nProbing authorization endpoint: %s\n", oauthConfig.AuthURL)
			if err := probe(client, oauthConfig.AuthURL); err != nil {
				return err
			}
			fmt.Println("✓ Authorization endpoint is reachable")

			// The userinfo endpoint should reject an unauthenticated
			// request, not be unreachable
			fmt.Printf("\nProbing userinfo endpoint: %s\n", oauthConfig.UserInfoURL)
			if err := probe(client, oauthConfig.UserInfoURL); err != nil {
				return err
			}
			fmt.Println("✓ Userinfo endpoint is reachable")

			fmt.Println("\nOAuth configuration looks valid.")
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider name to test (required)")

	return cmd
}

func probe(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach endpoint: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close response body: %v\n", err)
		}
	}()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("endpoint returned status: %d", resp.StatusCode)
	}
	return nil
}
