package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"househunter/internal/logger"
	"househunter/internal/security"
	"househunter/internal/service"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			return st.db.Close()
		},
	}
}

var (
	adminUsername string
	adminPassword string
)

// createAdminCmd is the only way to create an administrator account.
func createAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an administrator account",
		Example: `  househunter create-admin --username root --password 's3cret-pass'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.db.Close()

			tokens := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
			authSvc := service.NewAuthService(st.users, tokens, security.NewPasswordHasher(0))
			user, err := authSvc.CreateAdmin(cmd.Context(), adminUsername, adminPassword)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			logger.GetLogger().Info("admin created", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %q (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&adminUsername, "username", "u", "", "admin username")
	cmd.Flags().StringVarP(&adminPassword, "password", "p", "", "admin password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}
