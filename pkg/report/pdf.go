package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jung-kurt/gofpdf"

	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/ledger"
)

// HistoryFunc returns the ledger history of a rule.
type HistoryFunc func(rule uint16) ([]ledger.Event, error)

// GeneratePDF writes a landscape audit report to path. For every rule with
// ledger history the previous and current state columns come from the most
// recent recorded change.
func GeneratePDF(findings []engine.Finding, history HistoryFunc, target, path string) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(40, 10, "HOSTGUARD COMPLIANCE AUDIT REPORT")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(40, 10, fmt.Sprintf("Generated on: %s", time.Now().Format("02 Jan 2006 15:04:05")))
	pdf.Ln(5)
	pdf.Cell(40, 10, fmt.Sprintf("Target System: %s", target))
	pdf.Ln(12)

	pass, fail := 0, 0
	for _, f := range findings {
		if f.Compliant {
			pass++
		} else {
			fail++
		}
	}
	total := pass + fail
	percent := 0
	if total > 0 {
		percent = int(float64(pass)/float64(total)*100 + 0.5)
	}

	pdf.SetFillColor(248, 250, 252)
	pdf.Rect(10, 45, 130, 35, "FD")
	pdf.SetXY(15, 50)
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(50, 10, "Executive Summary")
	pdf.SetXY(15, 62)
	pdf.SetFont("Arial", "", 12)
	pdf.Cell(40, 10, fmt.Sprintf("Total Rules: %s", humanize.Comma(int64(total))))
	pdf.SetXY(60, 62)
	pdf.SetTextColor(0, 128, 0)
	pdf.Cell(40, 10, fmt.Sprintf("PASS: %d", pass))
	pdf.SetXY(100, 62)
	pdf.SetTextColor(220, 0, 0)
	pdf.Cell(40, 10, fmt.Sprintf("FAIL: %d", fail))

	drawBarChart(pdf, 150, 45, 130, 35, pass, fail, total, percent)
	pdf.Ln(45)

	pdf.SetFont("Arial", "B", 8)
	pdf.SetFillColor(50, 50, 60)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(20, 10, "RULE", "1", 0, "C", true, 0, "")
	pdf.CellFormat(70, 10, "DESCRIPTION", "1", 0, "L", true, 0, "")
	pdf.CellFormat(65, 10, "PREVIOUS STATE", "1", 0, "L", true, 0, "")
	pdf.CellFormat(65, 10, "CURRENT STATE", "1", 0, "L", true, 0, "")
	pdf.CellFormat(20, 10, "SEV", "1", 0, "C", true, 0, "")
	pdf.CellFormat(20, 10, "STATUS", "1", 1, "C", true, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 8)

	for i, f := range findings {
		if i%2 == 0 {
			pdf.SetFillColor(255, 255, 255)
		} else {
			pdf.SetFillColor(245, 245, 245)
		}

		prev, curr, changed := "", "", false
		if history != nil {
			if events, err := history(f.Rule); err == nil {
				prev, curr, changed = lastChange(events)
			}
		}
		if !changed {
			if f.Compliant {
				prev, curr = "Verified", "Compliant"
			} else {
				prev, curr = firstLine(f.Detail), "Remediation Required"
			}
		}

		pdf.CellFormat(20, 8, fmt.Sprintf("%04d", f.Rule), "1", 0, "C", true, 0, "")
		pdf.CellFormat(70, 8, truncate(f.Name, 45), "1", 0, "L", true, 0, "")

		pdf.SetTextColor(100, 100, 100)
		smartCell(pdf, prev, 65)

		switch {
		case changed:
			pdf.SetTextColor(0, 0, 139)
		case !f.Compliant:
			pdf.SetTextColor(180, 0, 0)
		default:
			pdf.SetTextColor(0, 100, 0)
		}
		smartCell(pdf, curr, 65)
		pdf.SetTextColor(0, 0, 0)

		pdf.CellFormat(20, 8, f.Severity, "1", 0, "C", true, 0, "")

		if f.Compliant {
			pdf.SetFillColor(230, 255, 230)
			pdf.SetTextColor(0, 100, 0)
			pdf.CellFormat(20, 8, "PASS", "1", 1, "C", true, 0, "")
		} else {
			pdf.SetFillColor(255, 230, 230)
			pdf.SetTextColor(200, 0, 0)
			pdf.CellFormat(20, 8, "FAIL", "1", 1, "C", true, 0, "")
		}
		pdf.SetTextColor(0, 0, 0)
	}

	return pdf.OutputFileAndClose(path)
}

// lastChange describes the newest event of a rule as before and after text.
func lastChange(events []ledger.Event) (prev, curr string, ok bool) {
	if len(events) == 0 {
		return "", "", false
	}
	ev := events[len(events)-1]
	prev = describeState(ev.Start, Subject(ev))
	curr = describeState(ev.End, Subject(ev))
	if ev.Status != ledger.Recorded {
		curr = fmt.Sprintf("%s (%s %s)", prev, ev.Status, humanize.Time(ev.RetiredAt))
	}
	return prev, curr, true
}

func describeState(st ledger.State, subject string) string {
	switch {
	case st.Perm != nil:
		return fmt.Sprintf("%s %s", subject, st.Perm)
	case st.Label != "":
		return fmt.Sprintf("%s %s", subject, st.Label)
	case len(st.Command) > 0:
		return "Command: " + strings.Join(st.Command, " ")
	}
	return subject
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "Not compliant"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

// smartCell shrinks the font for long text.
func smartCell(pdf *gofpdf.Fpdf, text string, width float64) {
	switch {
	case len(text) > 45:
		pdf.SetFont("Arial", "", 6)
		text = truncate(text, 70)
	case len(text) > 35:
		pdf.SetFont("Arial", "", 7)
	default:
		pdf.SetFont("Arial", "", 8)
	}
	pdf.CellFormat(width, 8, text, "1", 0, "L", true, 0, "")
	pdf.SetFont("Arial", "", 8)
}

func drawBarChart(pdf *gofpdf.Fpdf, x, y, w, h float64, pass, fail, total, percent int) {
	pdf.SetFillColor(255, 255, 255)
	pdf.Rect(x, y, w, h, "DF")
	pdf.SetXY(x+5, y+5)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.Cell(50, 5, "Compliance")

	pdf.SetXY(x+w-30, y+5)
	if percent < 50 {
		pdf.SetTextColor(200, 0, 0)
	} else {
		pdf.SetTextColor(0, 128, 0)
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(20, 5, fmt.Sprintf("%d%%", percent))

	if total == 0 {
		return
	}
	barW := w - 20
	passW := float64(pass) / float64(total) * barW
	failW := float64(fail) / float64(total) * barW

	pdf.SetFillColor(74, 222, 128)
	pdf.Rect(x+10, y+15, passW, 8, "F")
	pdf.SetFillColor(248, 113, 113)
	pdf.Rect(x+10+passW, y+15, failW, 8, "F")

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(74, 222, 128)
	pdf.Rect(x+10, y+26, 3, 3, "F")
	pdf.SetXY(x+14, y+25)
	pdf.Cell(20, 5, "Pass")
	pdf.SetFillColor(248, 113, 113)
	pdf.Rect(x+35, y+26, 3, 3, "F")
	pdf.SetXY(x+39, y+25)
	pdf.Cell(20, 5, "Fail")
}
