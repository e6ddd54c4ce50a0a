package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hostguard",
	Short: "Host compliance scanner with journaled, reversible fixes",
	Long: `hostguard audits a host against compliance profiles, applies fixes to
configuration files, permissions, services and packages, and records every
change in a ledger so it can be undone later.`,
}

var (
	DebugMode  bool
	ConfigPath string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&DebugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&ConfigPath, "config", "c", "", "Path to the config file (default /etc/hostguard/config.yaml)")
}
