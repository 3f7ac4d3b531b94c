package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/localchat/internal/middleware"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject  string
		ttl      time.Duration
		readOnly bool
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with AUTH_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(true); err != nil {
				return err
			}
			if opts.cfg.AuthSecret == "" {
				return errors.New("AUTH_SECRET is not set; the API accepts requests without a token")
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = opts.cfg.AuthExpiration
			}

			var scopes []string
			if !readOnly {
				scopes = []string{middleware.ScopeWrite}
			}
			token, err := middleware.IssueToken(opts.cfg.AuthSecret, subject, scopes, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "local", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, 0 for no expiry (default $AUTH_EXPIRATION)")
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "omit the write scope")
	return cmd
}
