// Package cmd holds the api-template command line.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd returns the root command. Without a subcommand it serves.
func NewRootCmd() *cobra.Command {
	var configDir string

	rootCmd := &cobra.Command{
		Use:           "api-template",
		Short:         "HTTP API service template",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPaths(configDir))
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "extra directory to search for config.yaml")

	rootCmd.AddCommand(newServeCmd(&configDir), newOpenAPICmd(&configDir))
	return rootCmd
}

func configPaths(dir string) []string {
	if dir == "" {
		return nil
	}
	return []string{dir}
}
