package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/collapsinghierarchy/quorum/handler"
	"github.com/collapsinghierarchy/quorum/model"
)

// tokenCommand mints a bearer token with the configured secret, for
// operators and local testing.
func tokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token ADDRESS",
		Short: "Issue a bearer token for an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return fmt.Errorf("jwtSecret is not configured")
			}
			addr, err := model.ParseAddress(args[0])
			if err != nil {
				return fmt.Errorf("address: %w", err)
			}
			tok, err := handler.NewAuthenticator([]byte(cfg.JWTSecret)).Issue(addr, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
