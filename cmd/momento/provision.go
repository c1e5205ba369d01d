package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/momento/internal/bootstrap"
	"github.com/suPer8Hu/momento/internal/chat"
)

func newProvisionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Empty the queue roots and mark the worker pool down",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := bootstrap.OpenStore(ctx, a.cfg, bootstrap.NewFirebase(a.cfg), a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := chat.NewRepo(st).Provision(ctx, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned %s store\n", a.cfg.StoreBackend)
			return nil
		},
	}
}
