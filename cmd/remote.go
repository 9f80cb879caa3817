package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/captcha/trader"
	"github.com/tanq16/danzod/internal/downloaders/gdrive"
	"github.com/tanq16/danzod/internal/output"
	"github.com/tanq16/danzod/internal/store"
)

func newExportCmd() *cobra.Command {
	var bucket string
	var key string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload a YAML snapshot of the store to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" {
				bucket = cfg.S3.ExportBucket
			}
			if key == "" {
				key = cfg.S3.ExportKey
			}
			st, err := store.OpenYAMLStore(cfg.StorePath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			exporter, err := store.NewS3Exporter(ctx, cfg.S3.Profile, cfg.S3.Region, bucket, key)
			if err != nil {
				return err
			}
			location, err := exporter.Export(ctx, st.MemoryStore)
			if err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Exported store to %s", location))
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "Target bucket (overrides config)")
	cmd.Flags().StringVar(&key, "key", "", "Target object key (overrides config)")
	return cmd
}

func newCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show the remaining captcha backend credits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := trader.NewClient(cfg.TraderConfig(), cfg.HTTPClientConfig())
			if !client.HasCredentials() {
				return fmt.Errorf("captcha backend credentials are not configured")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			credits, err := client.Credits(ctx)
			if err != nil {
				return err
			}
			output.PrintInfo(fmt.Sprintf("%d credits left", credits))
			return nil
		},
	}
}

func newGDriveAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gdrive-auth",
		Short: "Authorize Google Drive access and cache the OAuth token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.GDrive.Credentials == "" {
				return fmt.Errorf("gdrive.credentials is not configured")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := gdrive.Authorize(ctx, cfg.GDrive.Credentials, cfg.GDrive.TokenFile, os.Stdin, os.Stdout); err != nil {
				return err
			}
			output.PrintSuccess(fmt.Sprintf("Token cached at %s", cfg.GDrive.TokenFile))
			return nil
		},
	}
}
