package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stagepass/internal/credential"
	id "stagepass/pkg/domain"
	"stagepass/pkg/requestcontext"
)

const cliFlushTimeout = 10 * time.Second

func newCredentialsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Issue and revoke API credentials",
	}
	cmd.AddCommand(newIssueCmd(opts), newRevokeCmd(opts))
	return cmd
}

func newIssueCmd(opts *rootOptions) *cobra.Command {
	var (
		owner   string
		name    string
		scopes  []string
		env     string
		ttlDays int
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a credential and print its secret once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ownerID, err := id.ParsePrincipalID(owner)
			if err != nil {
				return err
			}
			req := credential.IssueRequest{
				OwnerID:     ownerID,
				DisplayName: name,
				Scopes:      scopes,
				Environment: credential.Environment(env),
			}
			if cmd.Flags().Changed("ttl-days") {
				req.TTLDays = &ttlDays
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				issued, err := a.creds.Issue(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "credential_id: %s\n", issued.CredentialID)
				fmt.Fprintf(out, "prefix:        %s\n", issued.Prefix)
				if issued.ExpiresAt != nil {
					fmt.Fprintf(out, "expires_at:    %s\n", issued.ExpiresAt.Format(time.RFC3339))
				}
				fmt.Fprintf(out, "secret:        %s\n", issued.Plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owning principal ID")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "scope to grant, repeatable")
	cmd.Flags().StringVar(&env, "env", string(credential.EnvironmentLive), "LIVE or TEST")
	cmd.Flags().IntVar(&ttlDays, "ttl-days", 0, "lifetime in days, 1 to 365")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newRevokeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <credential-id>",
		Short: "Revoke a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credentialID, err := id.ParseCredentialID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.creds.Revoke(ctx, credentialID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", credentialID)
				return nil
			})
		},
	}
}

// withApp runs fn against a fully wired app and publishes the audit trail
// it produced before returning.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(context.Context, *app) error) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	ctx := requestcontext.WithTime(cmd.Context(), time.Now())
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	runErr := fn(ctx, a)
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cliFlushTimeout)
	defer cancel()
	if err := a.flush(flushCtx); err != nil {
		logger.Error("audit flush failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}
