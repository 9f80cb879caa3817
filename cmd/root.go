package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tanq16/danzod/internal/config"
	"github.com/tanq16/danzod/internal/utils"
)

var (
	configPath string
	debug      bool
	workers    int
	storePath  string
	headers    []string
	cfg        *config.Config
)

var DanzoVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "danzod",
	Short:   "danzod is a queue based multi-worker download manager",
	Version: DanzoVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("workers") {
			loaded.Workers = workers
		}
		if storePath != "" {
			loaded.StorePath = storePath
		}
		if loaded.HTTP.Headers == nil {
			loaded.HTTP.Headers = map[string]string{}
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			loaded.HTTP.Headers[k] = v
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 3, "Number of files to download in parallel")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "Path to the link store (overrides config)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers for HTTP requests (can be specified multiple times)")
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAbortCmd())
	rootCmd.AddCommand(newRemoveCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newCreditsCmd())
	rootCmd.AddCommand(newGDriveAuthCmd())
}
