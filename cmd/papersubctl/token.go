package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"papersub/internal/auth"
	"papersub/internal/config"
)

func newTokenCmd() *cobra.Command {
	var email string
	var admin bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.TrimSpace(email)
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			cfg := config.Load()
			token, err := auth.IssueToken([]byte(cfg.TokenSecret), auth.Claims{
				Sub:   strings.ToLower(email),
				Admin: admin,
				Exp:   time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email of the acting user")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrator rights")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
