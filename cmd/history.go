package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/report"
)

var historyCmd = &cobra.Command{
	Use:   "history <rule>",
	Short: "Show the ledger entries recorded for a rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := parseRule(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		events, err := rt.ledger.History(n)
		if err != nil {
			fmt.Printf("Error reading history: %v\n", err)
			return
		}
		report.History(os.Stdout, events)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded rules in the order fixes run",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RULE\tNAME\tSTANDARD\tSEVERITY\tFIX\tDEPENDS ON")
		for layer, specs := range rt.engine.Layers() {
			for _, spec := range specs {
				fix := "enabled"
				if !rt.cfg.Enabled(spec.Number, spec.EnabledByDefault()) {
					fix = "disabled"
				}
				var deps []string
				for _, d := range spec.DependsOn {
					deps = append(deps, fmt.Sprintf("%04d", d))
				}
				fmt.Fprintf(w, "%04d\t%s\t%s\t%s\t%s\t%s\n",
					spec.Number, spec.Name, rt.engine.Standard(spec.Number), spec.Severity, fix, strings.Join(deps, ","))
			}
			if layer < len(rt.engine.Layers())-1 {
				fmt.Fprintln(w, "\t\t\t\t\t")
			}
		}
		w.Flush()
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <rule>",
	Short: "Show what fix would change for a rule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := parseRule(args[0])
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		plan, err := rt.engine.Plan(n)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Print(plan)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(planCmd)
}
