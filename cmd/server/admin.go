package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rl1809/retail-pos/internal/config"
	"github.com/rl1809/retail-pos/internal/core/domain"
	"github.com/rl1809/retail-pos/internal/core/service"
	"github.com/rl1809/retail-pos/internal/obs"
)

var adminFlags struct {
	email    string
	password string
	name     string
	lastName string
	super    bool
}

// createAdminCmd bootstraps the first administrator. Creating users over
// HTTP already needs one.
var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an administrator account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		log := obs.NewLogger(cfg.LogLevel, cfg.LogFormat)

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.close()

		role := domain.RoleAdmin
		if adminFlags.super {
			role = domain.RoleSuperAdmin
		}
		user, err := a.svc.Users.Create(ctx, service.UserInput{
			Name:     adminFlags.name,
			LastName: adminFlags.lastName,
			Email:    adminFlags.email,
			Role:     role,
			Password: adminFlags.password,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
		return nil
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminFlags.email, "email", "", "login email")
	f.StringVar(&adminFlags.password, "password", "", "initial password")
	f.StringVar(&adminFlags.name, "name", "Admin", "first name")
	f.StringVar(&adminFlags.lastName, "last-name", "", "last name")
	f.BoolVar(&adminFlags.super, "super", false, "grant SUPER_ADMIN instead of ADMIN")
	createAdminCmd.MarkFlagRequired("email")
	createAdminCmd.MarkFlagRequired("password")
}
