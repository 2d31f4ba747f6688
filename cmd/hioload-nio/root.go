package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-nio/control"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:           "hioload-nio",
	Short:         "Non-blocking HTTP/1.x connection engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hioload-nio %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads --config when given and applies the shared flags.
func loadConfig(cmd *cobra.Command) (control.Config, error) {
	cfg := control.DefaultConfig()
	if configPath != "" {
		loaded, err := control.Load(configPath)
		if err != nil {
			return control.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	cfg.Log.Output = cmd.ErrOrStderr()
	return cfg, nil
}
