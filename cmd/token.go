package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wodeewa/fleetd/auth"
	"github.com/wodeewa/fleetd/config"
	"github.com/wodeewa/fleetd/core/model"
)

var (
	tokenEmail string
	tokenRole  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for testing against a local instance",
	RunE:  runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "principal email (required)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(model.RoleCustomer), "role: admin, technician or customer")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if tokenEmail == "" {
		return fmt.Errorf("--email is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	token, err := auth.GenerateToken(cfg.Auth, tokenEmail, model.Role(tokenRole), tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
