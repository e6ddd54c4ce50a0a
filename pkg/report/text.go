package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/rules"
)

var (
	passLabel = color.New(color.FgGreen, color.Bold).SprintFunc()
	failLabel = color.New(color.FgRed, color.Bold).SprintFunc()
	skipLabel = color.New(color.FgYellow).SprintFunc()
	dim       = color.New(color.Faint).SprintFunc()
)

// Text writes audit results for a terminal.
func Text(w io.Writer, res *engine.Results) {
	sum := res.Summary()
	fmt.Fprintf(w, "Audit results: %d rules, %s, %s\n",
		sum.Total,
		passLabel(fmt.Sprintf("%d compliant", sum.Compliant)),
		failLabel(fmt.Sprintf("%d not compliant", sum.NonCompliant)))
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, f := range res.List() {
		label := passLabel("PASS")
		if !f.Compliant {
			label = failLabel("FAIL")
		}
		fmt.Fprintf(w, "[%s] %04d %s", label, f.Rule, f.Name)
		if f.Severity != "" {
			fmt.Fprintf(w, " %s", dim("("+f.Severity+")"))
		}
		fmt.Fprintln(w)
		if !f.Compliant {
			writeDetail(w, f.Detail)
		}
	}
}

// Outcomes writes the results of fix or undo runs.
func Outcomes(w io.Writer, outs []rules.Outcome) {
	for _, o := range outs {
		label := passLabel("OK")
		switch {
		case o.Skipped:
			label = skipLabel("SKIP")
		case !o.OK:
			label = failLabel("FAIL")
		}
		fmt.Fprintf(w, "[%s] %s %04d %s (%d changes)\n", label, o.Op, o.Rule, o.Name, o.Changes)
		if !o.OK || o.Skipped {
			writeDetail(w, o.Detail)
		}
	}
}

// History writes a rule's ledger entries, oldest first.
func History(w io.Writer, events []ledger.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no recorded changes")
		return
	}
	for _, ev := range events {
		when := humanize.Time(ev.RecordedAt)
		status := string(ev.Status)
		switch ev.Status {
		case ledger.Recorded:
			status = passLabel(status)
		case ledger.Reverted:
			status = skipLabel(status)
		default:
			status = dim(status)
		}
		fmt.Fprintf(w, "%s  %-13s %-9s %s  %s\n", ev.ID, ev.Type, status, Subject(ev), dim(when))
	}
}

// Subject names what an event changed.
func Subject(ev ledger.Event) string {
	switch {
	case ev.Path != "":
		return ev.Path
	case ev.Name != "":
		return ev.Name
	case len(ev.End.Command) > 0:
		return strings.Join(ev.End.Command, " ")
	}
	return "-"
}

func writeDetail(w io.Writer, detail string) {
	if detail == "" {
		return
	}
	for _, line := range strings.Split(detail, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
