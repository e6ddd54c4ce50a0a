package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/report"
	"github.com/user/hostguard/pkg/rules"
)

var scanCmd = &cobra.Command{
	Use:   "scan [rule...]",
	Short: "Report compliance without changing anything",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		if len(args) == 0 {
			report.Text(os.Stdout, rt.engine.Audit())
			return
		}
		for _, a := range args {
			n, err := parseRule(a)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			out, err := rt.engine.Report(n)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				return
			}
			report.Outcomes(os.Stdout, []rules.Outcome{out})
		}
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
