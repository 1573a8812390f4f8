package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/auth"
)

func newTokenCmd(root *rootFlags) *cobra.Command {
	var scopes []string
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue an API token signed with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry).GenerateToken(args[0], scopes...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scopes to grant (default research:run, research:read)")
	return cmd
}
