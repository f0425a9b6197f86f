package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/alxbtnk/duck/pkg/utils"
	"github.com/spf13/cobra"
)

func tokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for PUT /api/assets",
		Long: `Mint an HS256 admin token signed with ADMIN_JWT_SECRET.

Examples:
  duckctl token --subject ops@duckhat
  duckctl token --subject ci --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AdminJWTSecret == "" {
				return errors.New("ADMIN_JWT_SECRET is not set")
			}
			if subject == "" {
				return errors.New("--subject is required")
			}

			token, err := utils.GenerateToken(subject, utils.RoleAdmin, a.cfg.AdminJWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintln(cmd.ErrOrStderr(), styleMuted.Render(fmt.Sprintf("valid until %s", time.Now().Add(ttl).Format(time.RFC3339))))
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
