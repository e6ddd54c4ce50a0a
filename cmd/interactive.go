package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/hostguard/pkg/report"
	"github.com/user/hostguard/pkg/rules"
)

const shellHelp = `Commands:
  scan                 audit every rule
  report <rule>        audit one rule
  plan <rule>          show what fix would change
  fix <rule>|all       apply fixes
  undo <rule>|all      revert recorded changes
  history <rule>       show ledger entries
  list                 list rule numbers and names
  help                 show this text
  quit                 leave the session`

// session dispatches one shell line against a loaded runtime.
type session struct {
	rt  *runtime
	out io.Writer
}

func (s *session) withRule(args []string, fn func(uint16) (rules.Outcome, error)) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Error: expected one rule number")
		return
	}
	n, err := parseRule(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	out, err := fn(n)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	report.Outcomes(s.out, []rules.Outcome{out})
}

// handle runs one command line and reports whether the session should go on.
func (s *session) handle(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return true
	}
	eng := s.rt.engine
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "quit", "exit":
		return false
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "scan":
		report.Text(s.out, eng.Audit())
	case "report":
		s.withRule(args, eng.Report)
	case "fix":
		if len(args) == 1 && args[0] == "all" {
			report.Outcomes(s.out, eng.FixAll())
			break
		}
		s.withRule(args, eng.Fix)
	case "undo":
		if len(args) == 1 && args[0] == "all" {
			report.Outcomes(s.out, eng.UndoAll())
			break
		}
		s.withRule(args, eng.Undo)
	case "plan":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "Error: expected one rule number")
			break
		}
		n, err := parseRule(args[0])
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		plan, err := eng.Plan(n)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		fmt.Fprint(s.out, plan)
	case "history":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "Error: expected one rule number")
			break
		}
		n, err := parseRule(args[0])
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		events, err := s.rt.ledger.History(n)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			break
		}
		report.History(s.out, events)
	case "list":
		for _, r := range eng.Rules() {
			fmt.Fprintf(s.out, "%04d %s\n", r.Number(), r.Name())
		}
	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type 'help'.\n", verb)
	}
	return true
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive session",
	Run: func(cmd *cobra.Command, args []string) {
		rt, err := loadRuntime()
		if err != nil {
			fmt.Printf("Error loading runtime: %v\n", err)
			return
		}
		defer rt.close()

		s := &session{rt: rt, out: os.Stdout}
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("\n---------------------------------------------------------")
		fmt.Printf("hostguard session %s. %d rules loaded.\n", rt.ledger.RunID(), len(rt.engine.Rules()))
		fmt.Println("Example: 'scan'")
		fmt.Println("Example: 'fix 42'")
		fmt.Println("Type 'help' for commands, 'quit' or 'exit' to stop.")
		fmt.Println("---------------------------------------------------------")

		for {
			fmt.Print("\n> ")
			if !scanner.Scan() {
				break
			}
			if !s.handle(scanner.Text()) {
				break
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(interactiveCmd)
}
