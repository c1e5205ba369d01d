package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/momento/internal/auth"
)

func newDevTokenCmd(a *app) *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dev-token",
		Short: "Mint a credential for the dev identity provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AuthProvider != "dev" {
				return errors.New("dev-token only works with AUTH_PROVIDER=dev")
			}
			tok, err := auth.MintDevCredential(a.cfg.DevAuthSecret, id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UID, "uid", "dev-user", "user id")
	cmd.Flags().StringVar(&id.Email, "email", "dev@example.com", "email")
	cmd.Flags().StringVar(&id.DisplayName, "name", "Dev User", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "credential lifetime")
	return cmd
}
