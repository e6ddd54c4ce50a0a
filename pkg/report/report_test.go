package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/rules"
)

func init() {
	color.NoColor = true
}

func sampleResults() *engine.Results {
	res := engine.NewResults()
	res.Add(
		engine.Finding{Rule: 2, Name: "ip forwarding", Severity: "high", Detail: "/etc/sysctl.conf: net.ipv4.ip_forward is 1\nsecond line"},
		engine.Finding{Rule: 1, Name: "login banner", Compliant: true},
	)
	return res
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	Text(&buf, sampleResults())
	out := buf.String()

	for _, want := range []string{
		"2 rules, 1 compliant, 1 not compliant",
		"[PASS] 0001 login banner",
		"[FAIL] 0002 ip forwarding (high)",
		"    second line",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "0001") > strings.Index(out, "0002") {
		t.Errorf("rules should be listed in number order")
	}
}

func TestOutcomes(t *testing.T) {
	var buf bytes.Buffer
	Outcomes(&buf, []rules.Outcome{
		{Rule: 3, Name: "a", Op: "fix", OK: true, Changes: 2},
		{Rule: 4, Name: "b", Op: "fix", Skipped: true, Detail: "fix disabled for this rule"},
		{Rule: 5, Name: "c", Op: "undo", Detail: "0005001: backup missing"},
	})
	out := buf.String()
	for _, want := range []string{"[OK] fix 0003 a (2 changes)", "[SKIP] fix 0004 b", "[FAIL] undo 0005 c", "backup missing"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestHistory(t *testing.T) {
	var buf bytes.Buffer
	History(&buf, nil)
	if !strings.Contains(buf.String(), "no recorded changes") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	id, _ := ledger.NewEventID(7, 1)
	History(&buf, []ledger.Event{{ID: id, Type: ledger.ServiceHelper, Name: "cups", Status: ledger.Reverted, RecordedAt: time.Now().Add(-2 * time.Hour)}})
	out := buf.String()
	if !strings.Contains(out, "0007001") || !strings.Contains(out, "cups") || !strings.Contains(out, "2 hours ago") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestGeneratePDF(t *testing.T) {
	id, _ := ledger.NewEventID(2, 1)
	history := func(rule uint16) ([]ledger.Event, error) {
		if rule != 2 {
			return nil, nil
		}
		return []ledger.Event{{
			ID:     id,
			Type:   ledger.Perm,
			Path:   "/etc/shadow",
			Start:  ledger.State{Perm: &fileio.Perm{Mode: 0o644}},
			End:    ledger.State{Perm: &fileio.Perm{Mode: 0o600}},
			Status: ledger.Recorded,
		}}, nil
	}

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := GeneratePDF(sampleResults().List(), history, "test-host", path); err != nil {
		t.Fatalf("GeneratePDF: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Errorf("output is not a PDF")
	}
}

func TestLastChange(t *testing.T) {
	if _, _, ok := lastChange(nil); ok {
		t.Errorf("no events should mean no change")
	}
	prev, curr, ok := lastChange([]ledger.Event{{
		Type:   ledger.PkgHelper,
		Name:   "telnetd",
		Start:  ledger.State{Label: ledger.Installed},
		End:    ledger.State{Label: ledger.Removed},
		Status: ledger.Recorded,
	}})
	if !ok || prev != "telnetd installed" || curr != "telnetd removed" {
		t.Errorf("unexpected %q -> %q", prev, curr)
	}
}
