package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"aeropark-backend/config"
	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/identity"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load configuration from %q: %w", path, err)
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "aeroparkd",
		Short:        "Parking reservation backend with live occupancy and expiry tracking",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			app := newApp(cfg)
			startCtx, cancelStart := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancelStart()
			if err := app.Start(startCtx); err != nil {
				return fmt.Errorf("start: %w", err)
			}
			<-app.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds+5)*time.Second)
			defer cancel()
			if err := app.Stop(stopCtx); err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			slog.Info("aeroparkd stopped")
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration (defaults to $CONFIG_PATH)")
	root.AddCommand(newTokenCmd(&configPath))
	return root
}

// newTokenCmd issues a bearer token signed with the configured secret, for
// local testing without an identity provider.
func newTokenCmd(configPath *string) *cobra.Command {
	var (
		id  identity.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			tok, err := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clock.NewRealClock()).Issue(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.Subject, "subject", "", "user subject")
	cmd.Flags().StringVar(&id.Name, "name", "", "display name")
	cmd.Flags().StringVar(&id.Email, "email", "", "email address")
	cmd.Flags().BoolVar(&id.Verified, "verified", true, "mark the email as verified")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("aeroparkd failed", "error", err)
		os.Exit(1)
	}
}
