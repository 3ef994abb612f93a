package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/openmined/blobdispatch/internal/server/middlewares"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the blob API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.HTTP.AuthSecret == "" {
				return errors.New("http.auth_secret is not set, the API runs without auth")
			}
			cmd.SilenceUsage = true

			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := middlewares.IssueToken(cfg.HTTP.AuthSecret, subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringP("subject", "s", "admin", "Token subject")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
