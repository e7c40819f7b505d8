package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/quantpulse/identity-api/internal/models"
	"github.com/spf13/cobra"
)

// NewRatelimitCmd creates the ratelimit configuration command with list and set subcommands.
func NewRatelimitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratelimit",
		Short: "Manage rate limit configuration",
		Long:  "List or update named rate limits (e.g. default, magic_link, oauth_callback). Stored in database.",
	}
	cmd.AddCommand(newRatelimitListCmd())
	cmd.AddCommand(newRatelimitSetCmd())
	return cmd
}

func newRatelimitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List current rate limit configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() { _ = db.Close() }()
			repo := database.NewRatelimitConfigRepository(db)
			configs, err := repo.GetAll(context.Background())
			if err != nil {
				return fmt.Errorf("get ratelimit configs: %w", err)
			}
			if len(configs) == 0 {
				fmt.Println("No rate limit configuration in database. Use 'ratelimit set' to add one.")
				return nil
			}
			fmt.Println("Rate limit configuration:")
			for _, c := range configs {
				fmt.Printf("  %s: %s\n", c.ConfigKey, c.Rate)
			}
			return nil
		},
	}
}

func newRatelimitSetCmd() *cobra.Command {
	var key, rate string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set a named rate limit",
		Long:  "Update a named rate limit (e.g. 5-S, 100-M, 1000-H). Stored in database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			key = strings.TrimSpace(key)
			rate = strings.TrimSpace(rate)
			if rate == "" {
				return fmt.Errorf("--rate is required (e.g. 5-S, 100-M)")
			}
			if key == "" {
				key = database.RatelimitKeyDefault
			}
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := database.New(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			defer func() { _ = db.Close() }()
			repo := database.NewRatelimitConfigRepository(db)
			c := &models.RatelimitConfig{ConfigKey: key, Rate: rate}
			if err := repo.Set(context.Background(), c); err != nil {
				return fmt.Errorf("set ratelimit config: %w", err)
			}
			fmt.Printf("Rate limit %q updated to %s.\n", key, rate)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Limit name (default, magic_link, oauth_callback; defaults to 'default')")
	cmd.Flags().StringVar(&rate, "rate", "", "Rate (e.g. 5-S, 100-M, 1000-H) (required)")
	return cmd
}
