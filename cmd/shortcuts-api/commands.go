package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/auth"
	"github.com/MarcoPoloResearchLab/shortcuts/internal/config"
)

func newRepairDuplicatesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-duplicates",
		Short: "Collapse duplicate shortcut keys to their most recent row",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApplication(viper.GetViper(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			groups, err := app.service.DuplicateKeys(ctx)
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no duplicate keys")
				return nil
			}
			repaired, err := app.service.RepairDuplicates(ctx)
			if err != nil {
				return err
			}
			app.logger.Info("duplicate keys repaired", zap.Strings("keys", repaired))
			for _, group := range groups {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d rows -> 1\n", group.Key, group.Count)
			}
			return nil
		},
	}
}

func newIssueSessionCommand() *cobra.Command {
	var (
		email       string
		displayName string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-session",
		Short: "Print a signed session token for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
				SigningSecret: []byte(appConfig.SessionSigningKey),
				Issuer:        appConfig.SessionIssuer,
				TTL:           ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(email, displayName)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n# expires %s\n", appConfig.SessionCookieName, token, expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "User email carried by the session")
	cmd.Flags().StringVar(&displayName, "name", "", "Display name carried by the session")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Session lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
