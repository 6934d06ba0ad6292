// Package app defines the trustgate command tree.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/trustgate-dev/trustgate/pkg/logger"
)

// NewRootCmd creates the root command for trustgate.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trustgate",
		Short: "Multi-tenant authentication and authorization gateway for tool execution",
		Long: `trustgate sits in front of a tool-execution platform and forms its trust
boundary: it validates bearer tokens, rejects replayed token-ids, evaluates
per-tenant policy before any tool runs, and keeps connection credentials in
an encrypted vault addressed by opaque references.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Failed to bind debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}
