package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured OAuth providers",
		Long:  "List all configured OAuth sign-in providers",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			configs, err := oauthRepo.GetAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to list OAuth configs: %w", err)
			}

			if len(configs) == 0 {
				fmt.Println("No OAuth providers configured")
				return nil
			}

			fmt.Println("Configured OAuth providers:")
			for _, config := range configs {
				fmt.Printf("  - Provider: %s\n", config.Provider)
				fmt.Printf("    Client ID: %s\n", config.ClientID)
				fmt.Printf("    Redirect URI: %s\n", config.RedirectURI)
				fmt.Printf("    Auth URL: %s\n", config.AuthURL)
				fmt.Printf("    Scopes: %s\n", config.Scopes)
				fmt.Println()
			}

			return nil
		},
	}

	return cmd
}
