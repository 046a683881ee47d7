package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/go-blob-kit/pkg/errors"
	"github.com/yourorg/go-blob-kit/pkg/jwt"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		containers []string
		readOnly   bool
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER",
		Short: "Sign a gateway bearer token with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return errors.NewInvalidArgumentError("JWT_SECRET is not set")
			}
			svc, err := jwt.NewJWTService(a.cfg.JWTSecret, jwt.DefaultIssuer, ttl, a.logger)
			if err != nil {
				return err
			}
			token, err := svc.GenerateAccessToken(args[0], containers, readOnly)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&containers, "containers", nil, "containers the token grants, all when empty")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "limit the token to GET and HEAD")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
