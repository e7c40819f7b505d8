package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantpulse/identity-api/internal/config"
	"github.com/quantpulse/identity-api/internal/database"
	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the sessions command with a bulk revoke subcommand.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage user sessions",
	}
	cmd.AddCommand(newSessionsRevokeCmd())
	return cmd
}

func newSessionsRevokeCmd() *cobra.Command {
	var userIDs string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke all active sessions for the given users",
		Long:  "Revoke every active session for a comma-separated list of user IDs. Revoked tokens are rejected immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseUserIDs(userIDs)
			if err != nil {
				return err
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
			repo := database.NewSessionRepository(db)
			revoked, err := repo.RevokeAllForUsers(context.Background(), ids, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("revoke sessions: %w", err)
			}
			fmt.Printf("Revoked %d session(s) for %d user(s).\n", revoked, len(ids))
			return nil
		},
	}
	cmd.Flags().StringVar(&userIDs, "user-ids", "", "Comma-separated user IDs (required)")
	_ = cmd.MarkFlagRequired("user-ids")
	return cmd
}

func parseUserIDs(raw string) ([]uuid.UUID, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("--user-ids must contain at least one user ID")
	}
	return ids, nil
}
