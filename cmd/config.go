package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/hostguard/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration (paths, log level, per-rule fix switches)",
}

var showConfigCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(configPath())
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmt.Printf("Error encoding config: %v\n", err)
			return
		}
		fmt.Printf("# %s\n%s", configPath(), data)
	},
}

var setConfigCmd = &cobra.Command{
	Use:   "set",
	Short: "Change paths, log level or listen address",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig(configPath())
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		fields := map[string]*string{
			"ledger":    &cfg.LedgerPath,
			"archive":   &cfg.ArchiveDir,
			"profiles":  &cfg.ProfileDir,
			"reports":   &cfg.ReportDir,
			"log-level": &cfg.LogLevel,
			"listen":    &cfg.Listen,
		}
		changed := 0
		for flag, field := range fields {
			if cmd.Flags().Changed(flag) {
				*field, _ = cmd.Flags().GetString(flag)
				changed++
			}
		}
		if changed == 0 {
			fmt.Println("Nothing to change. See 'hostguard config set --help'.")
			return
		}

		if err := config.SaveConfig(configPath(), cfg); err != nil {
			fmt.Printf("Error saving config: %v\n", err)
			return
		}
		fmt.Printf("Configuration saved to %s\n", configPath())
	},
}

// ruleSwitch builds the enable, disable and clear commands, which differ only
// in what they do to the rule's entry.
func ruleSwitch(use, short string, apply func(*config.Config, uint16), done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.LoadConfig(configPath())
			if err != nil {
				fmt.Printf("Error loading config: %v\n", err)
				return
			}
			var numbers []uint16
			for _, a := range args {
				n, err := parseRule(a)
				if err != nil {
					fmt.Printf("Error: %v\n", err)
					return
				}
				numbers = append(numbers, n)
			}
			for _, n := range numbers {
				apply(cfg, n)
			}
			if err := config.SaveConfig(configPath(), cfg); err != nil {
				fmt.Printf("Error saving config: %v\n", err)
				return
			}
			for _, n := range numbers {
				fmt.Printf("Rule %04d: %s\n", n, done)
			}
		},
	}
}

func init() {
	setConfigCmd.Flags().String("ledger", "", "Path of the SQLite change ledger")
	setConfigCmd.Flags().String("archive", "", "Directory for file backups")
	setConfigCmd.Flags().String("profiles", "", "Directory of compliance profiles")
	setConfigCmd.Flags().String("reports", "", "Directory for exported reports")
	setConfigCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	setConfigCmd.Flags().String("listen", "", "API listen address (host:port)")

	configCmd.AddCommand(showConfigCmd)
	configCmd.AddCommand(setConfigCmd)
	configCmd.AddCommand(ruleSwitch("enable", "Allow fix to run for rules",
		func(c *config.Config, n uint16) { c.SetEnabled(n, true) }, "fix enabled"))
	configCmd.AddCommand(ruleSwitch("disable", "Stop fix from running for rules; report still runs",
		func(c *config.Config, n uint16) { c.SetEnabled(n, false) }, "fix disabled"))
	configCmd.AddCommand(ruleSwitch("clear", "Drop per-rule settings so the profile default applies",
		(*config.Config).ClearEnabled, "profile default"))
	rootCmd.AddCommand(configCmd)
}
