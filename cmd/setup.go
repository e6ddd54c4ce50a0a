package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/logging"
)

// ask prints a prompt with the current value and returns the answer, or the
// current value when the answer is empty.
func ask(scanner *bufio.Scanner, prompt, current string) string {
	fmt.Printf("%s [%s]\n> ", prompt, current)
	if !scanner.Scan() {
		return current
	}
	if v := strings.TrimSpace(scanner.Text()); v != "" {
		return v
	}
	return current
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Run: func(cmd *cobra.Command, args []string) {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("Welcome to the hostguard setup wizard")
		fmt.Println("-------------------------------------")
		fmt.Println("Press enter to keep the value in brackets.")

		cfg, err := config.LoadConfig(configPath())
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			return
		}

		// 1. Profiles
		fmt.Println("\nStep 1: Compliance profiles")
		cfg.ProfileDir = ask(scanner, "Profile directory", cfg.ProfileDir)
		profiles, err := engine.LoadProfiles(cfg.ProfileDir, logging.OrNop(nil))
		if err != nil {
			fmt.Printf("Warning: could not load profiles: %v\n", err)
		} else {
			count := 0
			for _, p := range profiles {
				count += len(p.Rules)
			}
			fmt.Printf("Found %d profiles with %d rules: %s\n",
				len(profiles), count, strings.Join(engine.Standards(profiles), ", "))
		}

		// 2. Ledger
		fmt.Println("\nStep 2: Change ledger")
		cfg.LedgerPath = ask(scanner, "Ledger database", cfg.LedgerPath)
		cfg.ArchiveDir = ask(scanner, "Backup archive directory", cfg.ArchiveDir)

		// 3. Reports and API
		fmt.Println("\nStep 3: Reports and API")
		cfg.ReportDir = ask(scanner, "Report directory", cfg.ReportDir)
		cfg.Listen = ask(scanner, "API listen address", cfg.Listen)
		cfg.LogLevel = ask(scanner, "Log level (debug, info, warn, error)", cfg.LogLevel)

		// 4. Save
		fmt.Println("\nStep 4: Saving configuration...")
		if err := config.SaveConfig(configPath(), cfg); err != nil {
			fmt.Printf("Error saving config: %v\n", err)
			return
		}

		fmt.Println("-------------------------------------")
		fmt.Println("Setup complete!")
		fmt.Printf("Config:   %s\n", configPath())
		fmt.Printf("Ledger:   %s\n", cfg.LedgerPath)
		fmt.Printf("Profiles: %s\n", cfg.ProfileDir)
		fmt.Println("You can now run 'hostguard scan'")
	},
}

func init() {
	configCmd.AddCommand(setupCmd)
}
