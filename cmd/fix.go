package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/report"
	"github.com/user/hostguard/pkg/rules"
)

// perRule runs op for each numbered argument, stopping at the first unknown
// rule.
func perRule(args []string, op func(uint16) (rules.Outcome, error)) []rules.Outcome {
	var outs []rules.Outcome
	for _, a := range args {
		n, err := parseRule(a)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		out, err := op(n)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		outs = append(outs, out)
	}
	return outs
}

var fixCmd = &cobra.Command{
	Use:   "fix [rule...]",
	Short: "Apply fixes for the given rules, or every enabled rule with --all",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			fmt.Println("Error: give at least one rule number or --all")
			return
		}

		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		fmt.Printf("Run %s\n", rt.ledger.RunID())
		if all {
			report.Outcomes(os.Stdout, rt.engine.FixAll())
			return
		}
		report.Outcomes(os.Stdout, perRule(args, rt.engine.Fix))
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo [rule...]",
	Short: "Revert the recorded changes of the given rules, or of every rule with --all",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			fmt.Println("Error: give at least one rule number or --all")
			return
		}

		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		if all {
			report.Outcomes(os.Stdout, rt.engine.UndoAll())
			return
		}
		report.Outcomes(os.Stdout, perRule(args, rt.engine.Undo))
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Undo every recorded change, newest rule first",
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Println("This reverts every change hostguard has recorded on this host.")
			fmt.Println("Re-run with --yes to continue.")
			return
		}

		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		outs := rt.engine.UndoAll()
		report.Outcomes(os.Stdout, outs)
		failed := 0
		for _, o := range outs {
			if !o.OK {
				failed++
			}
		}
		if failed > 0 {
			fmt.Printf("%d rules could not be fully reverted; their events stay in the ledger.\n", failed)
			return
		}
		fmt.Println("Reset complete.")
	},
}

func init() {
	fixCmd.Flags().BoolP("all", "a", false, "Fix every enabled rule in dependency order")
	undoCmd.Flags().BoolP("all", "a", false, "Undo every rule in reverse dependency order")
	resetCmd.Flags().BoolP("yes", "y", false, "Confirm the reset")

	rootCmd.AddCommand(fixCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(resetCmd)
}
