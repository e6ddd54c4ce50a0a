package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/engine"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save audit results or compare against a saved audit",
}

var snapshotSaveCmd = &cobra.Command{
	Use:   "save <file>",
	Short: "Audit the host and save the findings",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		res := rt.engine.Audit()
		if err := res.SaveSnapshot(args[0]); err != nil {
			fmt.Printf("Error saving snapshot: %v\n", err)
			return
		}
		sum := res.Summary()
		fmt.Printf("Snapshot saved to %s (%d rules, %d not compliant)\n", args[0], sum.Total, sum.NonCompliant)
	},
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <file>",
	Short: "Audit the host and compare with a saved snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		baseline := engine.NewResults()
		if err := baseline.LoadSnapshot(args[0]); err != nil {
			fmt.Printf("Error loading snapshot: %v\n", err)
			return
		}

		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		d := rt.engine.Audit().Compare(baseline)
		printFindings("New failures", d.New)
		printFindings("Fixed since snapshot", d.Fixed)
		printFindings("Still failing", d.Unchanged)
	},
}

func printFindings(title string, fs []engine.Finding) {
	fmt.Printf("%s (%d)\n", title, len(fs))
	for _, f := range fs {
		fmt.Printf("  %04d %s\n", f.Rule, f.Name)
	}
}

func init() {
	snapshotCmd.AddCommand(snapshotSaveCmd)
	snapshotCmd.AddCommand(snapshotDiffCmd)
	rootCmd.AddCommand(snapshotCmd)
}
