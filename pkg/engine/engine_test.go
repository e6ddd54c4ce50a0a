package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/rules"
)

const profileTemplate = `
standard: CIS
description: test baseline
rules:
  - number: 2
    name: ip forwarding
    severity: high
    depends_on: [1]
    edits:
      - path: %[1]s/sysctl.conf
        data:
          net.ipv4.ip_forward: 0
  - number: 1
    name: login banner
    severity: low
    edits:
      - path: %[1]s/issue
        match: space
        create: true
        data:
          Authorized: use only
`

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func newEnv(t *testing.T) *rules.Env {
	log := zaptest.NewLogger(t)
	return &rules.Env{
		Ledger: ledger.New(ledger.NewMemoryStore(), filepath.Join(t.TempDir(), "archive"), log),
		Runner: helpers.NewExecRunner(log),
		Config: config.Default(),
		Log:    log,
	}
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "b.yml", fmt.Sprintf(profileTemplate, t.TempDir()))
	writeProfile(t, dir, "a.yaml", "standard: LOCAL\nrules:\n  - number: 9\n    name: no rhosts\n    remove_files: [/root/.rhosts]\n")
	writeProfile(t, dir, "README.txt", "not a profile")

	profiles, err := LoadProfiles(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	names := Standards(profiles)
	if len(names) != 2 || names[0] != "LOCAL" || names[1] != "CIS" {
		t.Errorf("Expected [LOCAL CIS], got %v", names)
	}
	if len(profiles[1].Rules) != 2 || profiles[1].Rules[0].Severity != "high" {
		t.Errorf("unexpected rules %+v", profiles[1].Rules)
	}
}

func TestLoadProfileInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no_standard.yaml": "rules:\n  - number: 1\n    name: x\n",
		"no_rules.yaml":    "standard: X\n",
		"bad_rule.yaml":    "standard: X\nrules:\n  - number: 1\n",
		"bad_yaml.yaml":    "standard: [\n",
	}
	for name, body := range cases {
		writeProfile(t, dir, name, body)
		if _, err := LoadProfile(filepath.Join(dir, name)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestOrder(t *testing.T) {
	specs := []rules.Spec{
		{Number: 30, Name: "c", DependsOn: []uint16{10, 20}},
		{Number: 20, Name: "b", DependsOn: []uint16{10}},
		{Number: 10, Name: "a"},
		{Number: 5, Name: "e", DependsOn: []uint16{99}},
		{Number: 10, Name: "duplicate"},
	}
	layers, err := Order(specs, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Order: %v", err)
	}
	var got [][]uint16
	for _, l := range layers {
		var nums []uint16
		for _, s := range l {
			nums = append(nums, s.Number)
		}
		got = append(got, nums)
	}
	want := "[[5 10] [20] [30]]"
	if fmt.Sprint(got) != want {
		t.Errorf("Expected %s, got %v", want, got)
	}
	if layers[0][1].Name != "a" {
		t.Errorf("first definition should win, got %q", layers[0][1].Name)
	}

	_, err = Order([]rules.Spec{
		{Number: 1, DependsOn: []uint16{2}},
		{Number: 2, DependsOn: []uint16{1}},
	}, nil)
	if err == nil {
		t.Errorf("Expected cycle error")
	}
}

func TestEngineAuditFixUndo(t *testing.T) {
	target := t.TempDir()
	sysctl := filepath.Join(target, "sysctl.conf")
	issue := filepath.Join(target, "issue")
	if err := os.WriteFile(sysctl, []byte("net.ipv4.ip_forward = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	profDir := t.TempDir()
	writeProfile(t, profDir, "cis.yaml", fmt.Sprintf(profileTemplate, target))
	profiles, err := LoadProfiles(profDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	e, err := New(newEnv(t), profiles)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// 1. Rules run in dependency order
	if rs := e.Rules(); len(rs) != 2 || rs[0].Number() != 1 || rs[1].Number() != 2 {
		t.Fatalf("unexpected order")
	}
	if e.Standard(2) != "CIS" {
		t.Errorf("Expected standard CIS, got %q", e.Standard(2))
	}

	// 2. Audit before fixing
	res := e.Audit()
	if sum := res.Summary(); sum.Total != 2 || sum.NonCompliant != 2 {
		t.Fatalf("Expected two failures, got %+v", sum)
	}
	if !strings.Contains(res.Text(), "[FAIL] 0002 ip forwarding (high)") {
		t.Errorf("unexpected text:\n%s", res.Text())
	}

	// 3. Fix everything
	for _, out := range e.FixAll() {
		if !out.OK {
			t.Fatalf("fix of %d failed: %s", out.Rule, out.Detail)
		}
	}
	if sum := e.Audit().Summary(); sum.Compliant != 2 {
		t.Fatalf("Expected compliance after fix, got %+v", sum)
	}
	b, _ := os.ReadFile(sysctl)
	if string(b) != "net.ipv4.ip_forward = 0\n" {
		t.Errorf("unexpected sysctl.conf %q", b)
	}

	// 4. Undo everything
	for _, out := range e.UndoAll() {
		if !out.OK {
			t.Fatalf("undo of %d failed: %s", out.Rule, out.Detail)
		}
	}
	b, _ = os.ReadFile(sysctl)
	if string(b) != "net.ipv4.ip_forward = 1\n" {
		t.Errorf("sysctl.conf not restored: %q", b)
	}
	if fileio.Exists(issue) {
		t.Errorf("created banner should be removed by undo")
	}
}

func TestFixAllSkipsDependents(t *testing.T) {
	profiles := []Profile{{Standard: "T", Rules: []rules.Spec{
		{Number: 1, Name: "broken", Commands: []rules.CommandSpec{{Check: "false", Fix: "false"}}},
		{Number: 2, Name: "after broken", DependsOn: []uint16{1}, Commands: []rules.CommandSpec{{Fix: "true"}}},
	}}}
	e, err := New(newEnv(t), profiles)
	if err != nil {
		t.Fatal(err)
	}
	outs := e.FixAll()
	if len(outs) != 2 {
		t.Fatalf("Expected 2 outcomes, got %d", len(outs))
	}
	if outs[0].OK || outs[0].Detail == "" {
		t.Errorf("rule 1 should fail with a detail, got %+v", outs[0])
	}
	if !outs[1].Skipped || !strings.Contains(outs[1].Detail, "0001") {
		t.Errorf("rule 2 should be skipped, got %+v", outs[1])
	}
}

func TestUnknownRule(t *testing.T) {
	e, err := New(newEnv(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Fix(99); !faults.Is(err, faults.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if _, err := e.Undo(99); !faults.Is(err, faults.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if _, err := e.Plan(99); !faults.Is(err, faults.NotFound) {
		t.Errorf("Expected NotFound, got %v", err)
	}
}

func TestPlan(t *testing.T) {
	off := false
	profiles := []Profile{{Standard: "T", Rules: []rules.Spec{{
		Number:   4,
		Name:     "mounts",
		Enabled:  &off,
		Vars:     map[string]string{"mnt": "/tmp"},
		Commands: []rules.CommandSpec{{Check: "findmnt {{.mnt}}", Fix: "mount -o remount,noexec {{.mnt}}", Undo: "mount -o remount,exec {{.mnt}}"}},
	}}}}
	e, err := New(newEnv(t), profiles)
	if err != nil {
		t.Fatal(err)
	}
	plan, err := e.Plan(4)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for _, want := range []string{"[FIX PLAN]", "0004 mounts", "DISABLED", "mount -o remount,noexec /tmp", "Rollback:\n  mount -o remount,exec /tmp"} {
		if !strings.Contains(plan, want) {
			t.Errorf("plan lacks %q:\n%s", want, plan)
		}
	}
}

func TestResultsSnapshotCompare(t *testing.T) {
	// 1. Baseline: rule 1 and 2 failing, rule 3 passing
	baseline := NewResults()
	baseline.Add(
		Finding{Rule: 1, Name: "one"},
		Finding{Rule: 2, Name: "two"},
		Finding{Rule: 3, Name: "three", Compliant: true},
	)

	// 2. Save and load it back
	path := filepath.Join(t.TempDir(), "snapshot.json")
	if err := baseline.SaveSnapshot(path); err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}
	loaded := NewResults()
	if err := loaded.LoadSnapshot(path); err != nil {
		t.Fatalf("Failed to load snapshot: %v", err)
	}
	if len(loaded.List()) != 3 {
		t.Errorf("Expected 3 findings in loaded baseline, got %d", len(loaded.List()))
	}

	// 3. Current: rule 1 still failing, 2 fixed, 3 regressed
	current := NewResults()
	current.Add(
		Finding{Rule: 1, Name: "one"},
		Finding{Rule: 2, Name: "two", Compliant: true},
		Finding{Rule: 3, Name: "three"},
	)
	current.Add(Finding{Rule: 2, Name: "two", Compliant: true})
	if len(current.List()) != 3 {
		t.Errorf("Add should replace findings of the same rule")
	}

	diff := current.Compare(loaded)
	if len(diff.Unchanged) != 1 || diff.Unchanged[0].Rule != 1 {
		t.Errorf("Expected rule 1 unchanged, got %+v", diff.Unchanged)
	}
	if len(diff.Fixed) != 1 || diff.Fixed[0].Rule != 2 {
		t.Errorf("Expected rule 2 fixed, got %+v", diff.Fixed)
	}
	if len(diff.New) != 1 || diff.New[0].Rule != 3 {
		t.Errorf("Expected rule 3 new, got %+v", diff.New)
	}
}
