package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/kveditor"
	"github.com/user/hostguard/pkg/ledger"
)

type fakeServices struct {
	enabled map[string]bool
}

func (s *fakeServices) Audit(svc string) (bool, error) { return s.enabled[svc], nil }
func (s *fakeServices) Enable(svc string) error        { s.enabled[svc] = true; return nil }
func (s *fakeServices) Disable(svc string) error       { s.enabled[svc] = false; return nil }
func (s *fakeServices) Start(svc string) error         { return nil }
func (s *fakeServices) Stop(svc string) error          { return nil }
func (s *fakeServices) IsRunning(svc string) bool      { return s.enabled[svc] }

type fakePackages struct {
	installed map[string]bool
}

func (p *fakePackages) Name() string                   { return "fake" }
func (p *fakePackages) Check(pkg string) bool          { return p.installed[pkg] }
func (p *fakePackages) CheckAvailable(pkg string) bool { return true }
func (p *fakePackages) Install(pkg string) error       { p.installed[pkg] = true; return nil }
func (p *fakePackages) Remove(pkg string) error        { p.installed[pkg] = false; return nil }

func newEnv(t *testing.T) *Env {
	log := zaptest.NewLogger(t)
	return &Env{
		Ledger:   ledger.New(ledger.NewMemoryStore(), filepath.Join(t.TempDir(), "archive"), log),
		Runner:   helpers.NewExecRunner(log),
		Packages: &fakePackages{installed: map[string]bool{}},
		Services: &fakeServices{enabled: map[string]bool{}},
		Config:   config.Default(),
		Log:      log,
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func flat(pairs ...string) Data {
	var spec kveditor.FlatSpec
	for i := 0; i+1 < len(pairs); i += 2 {
		v := kveditor.Is(pairs[i+1])
		if pairs[i+1] == "*" {
			v = kveditor.Any()
		}
		spec = append(spec, kveditor.Pair{Key: pairs[i], Value: v})
	}
	return Data{Spec: spec}
}

func mustRule(t *testing.T, spec Spec, env *Env) *KVRule {
	t.Helper()
	r, err := NewKVRule(spec, env)
	if err != nil {
		t.Fatalf("NewKVRule: %v", err)
	}
	return r
}

func TestReportFixUndoConfig(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "sshd_config")
	original := "PermitRootLogin yes\n# keep me\nX11Forwarding yes\n"
	writeFile(t, path, original)

	r := mustRule(t, Spec{
		Number: 42,
		Name:   "ssh hardening",
		Edits: []EditSpec{
			{Path: path, Match: "space", Data: flat("PermitRootLogin", "no", "Protocol", "2")},
			{Path: path, Match: "space", Intent: "notpresent", Data: flat("X11Forwarding", "*")},
		},
	}, env)

	// 1. Report on a non-compliant file
	out := r.Report()
	if out.OK {
		t.Fatalf("Expected non-compliant report")
	}
	if !strings.Contains(out.Detail, path) {
		t.Errorf("Detail should name the file: %q", out.Detail)
	}
	if readFile(t, path) != original {
		t.Fatalf("report must not change the file")
	}

	// 2. Fix: both passes land in one conf event
	out = r.Fix()
	if !out.OK || out.Changes != 1 {
		t.Fatalf("Fix: %+v", out)
	}
	got := readFile(t, path)
	for _, want := range []string{"PermitRootLogin no", "Protocol 2", "# keep me"} {
		if !strings.Contains(got, want) {
			t.Errorf("fixed file lacks %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "X11Forwarding") || strings.Contains(got, "PermitRootLogin yes") {
		t.Errorf("fixed file still has old settings:\n%s", got)
	}
	ids, _ := env.Ledger.FindRuleChanges(42)
	if len(ids) != 1 || ids[0].String() != "0042001" {
		t.Fatalf("Expected one event 0042001, got %v", ids)
	}
	if !r.Report().OK {
		t.Errorf("report after fix should be compliant")
	}

	// 3. Undo restores the original bytes and retires the event
	out = r.Undo()
	if !out.OK || out.Changes != 1 || out.Name != "ssh hardening" {
		t.Fatalf("Undo: %+v", out)
	}
	if readFile(t, path) != original {
		t.Errorf("undo did not restore the file:\n%s", readFile(t, path))
	}
	if ids, _ := env.Ledger.FindRuleChanges(42); len(ids) != 0 {
		t.Errorf("Expected no live events after undo, got %v", ids)
	}
	hist, _ := env.Ledger.History(42)
	if len(hist) != 1 || hist[0].Status != ledger.Reverted {
		t.Errorf("Expected one reverted history entry, got %+v", hist)
	}
}

func TestFixDisabledByConfig(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "login.defs")
	writeFile(t, path, "PASS_MAX_DAYS 99999\n")
	env.Config.SetEnabled(7, false)

	r := mustRule(t, Spec{Number: 7, Name: "password age", Edits: []EditSpec{
		{Path: path, Match: "space", Data: flat("PASS_MAX_DAYS", "60")},
	}}, env)

	out := r.Fix()
	if !out.Skipped || out.OK {
		t.Fatalf("Expected skipped fix, got %+v", out)
	}
	if readFile(t, path) != "PASS_MAX_DAYS 99999\n" {
		t.Errorf("disabled rule changed the file")
	}
	if ids, _ := env.Ledger.FindRuleChanges(7); len(ids) != 0 {
		t.Errorf("disabled rule recorded events: %v", ids)
	}
}

func TestProfileDisabledRule(t *testing.T) {
	env := newEnv(t)
	off := false
	r := mustRule(t, Spec{Number: 8, Name: "off", Enabled: &off, Removals: []string{"/nonexistent/x"}}, env)
	if r.Enabled() {
		t.Errorf("profile default should disable the rule")
	}
	env.Config.SetEnabled(8, true)
	if !r.Enabled() {
		t.Errorf("config should override the profile default")
	}
}

func TestCreateThenUndoRemovesFile(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "limits.d", "core.conf")

	r := mustRule(t, Spec{Number: 12, Name: "core dumps", Edits: []EditSpec{
		{Path: path, Match: "space", Create: true, Mode: "0600", Data: flat("* hard core", "0")},
	}}, env)

	out := r.Fix()
	if !out.OK || out.Changes != 2 {
		t.Fatalf("Fix: %+v", out)
	}
	if !strings.Contains(readFile(t, path), "* hard core 0") {
		t.Errorf("unexpected content %q", readFile(t, path))
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %o", st.Mode().Perm())
	}

	ids, _ := env.Ledger.FindRuleChanges(12)
	first, _ := env.Ledger.GetEvent(ids[0])
	if first.Type != ledger.Creation {
		t.Errorf("first event should be the creation, got %s", first.Type)
	}

	out = r.Undo()
	if !out.OK || out.Changes != 2 {
		t.Fatalf("Undo: %+v", out)
	}
	if fileio.Exists(path) {
		t.Errorf("undo should remove the created file")
	}
}

func TestServicesPackagesAndCommands(t *testing.T) {
	env := newEnv(t)
	svc := env.Services.(*fakeServices)
	pkgs := env.Packages.(*fakePackages)
	svc.enabled["cups"] = true
	pkgs.installed["telnetd"] = true
	flag := filepath.Join(t.TempDir(), "flag")

	r := mustRule(t, Spec{
		Number:   30,
		Name:     "services",
		Vars:     map[string]string{"flag": flag},
		Services: []ServiceSpec{{Name: "cups", State: "disabled"}},
		Packages: []PackageSpec{{Name: "telnetd", State: "removed"}, {Name: "auditd", State: "installed"}},
		Commands: []CommandSpec{{
			Check: "test -f {{.flag}}",
			Fix:   "touch {{.flag}}",
			Undo:  "rm -f {{.flag}}",
		}},
	}, env)

	if r.Report().OK {
		t.Fatalf("Expected non-compliant report")
	}
	out := r.Fix()
	if !out.OK || out.Changes != 4 {
		t.Fatalf("Fix: %+v", out)
	}
	if svc.enabled["cups"] || pkgs.installed["telnetd"] || !pkgs.installed["auditd"] || !fileio.Exists(flag) {
		t.Fatalf("fix did not apply: %v %v", svc.enabled, pkgs.installed)
	}

	ids, _ := env.Ledger.FindRuleChanges(30)
	last, _ := env.Ledger.GetEvent(ids[len(ids)-1])
	if last.Type != ledger.CommandString || len(last.Start.Command) != 3 || last.Start.Command[2] != "rm -f "+flag {
		t.Errorf("command event should carry the undo command, got %+v", last)
	}

	out = r.Undo()
	if !out.OK || out.Changes != 4 {
		t.Fatalf("Undo: %+v", out)
	}
	if !svc.enabled["cups"] || !pkgs.installed["telnetd"] || pkgs.installed["auditd"] || fileio.Exists(flag) {
		t.Errorf("undo did not restore state: %v %v", svc.enabled, pkgs.installed)
	}
}

type brokenStore struct {
	*ledger.MemoryStore
}

func (brokenStore) Insert(ev ledger.Event) error { return errors.New("store unavailable") }

type maskedServices struct {
	fakeServices
}

func (s *maskedServices) Enable(svc string) error { return errors.New("unit masked") }

func TestFailedRecordRollsBackHelpers(t *testing.T) {
	env := newEnv(t)
	env.Ledger = ledger.New(brokenStore{ledger.NewMemoryStore()}, filepath.Join(t.TempDir(), "archive"), env.Log)
	svc := &maskedServices{fakeServices{enabled: map[string]bool{"cups": true}}}
	env.Services = svc
	pkgs := env.Packages.(*fakePackages)
	pkgs.installed["telnetd"] = true

	r := mustRule(t, Spec{
		Number:   31,
		Name:     "rollback",
		Services: []ServiceSpec{{Name: "cups", State: "disabled"}},
		Packages: []PackageSpec{{Name: "telnetd", State: "removed"}},
	}, env)

	out := r.Fix()
	if out.OK || out.Changes != 0 {
		t.Fatalf("Expected a failed fix with no changes, got %+v", out)
	}

	// 1. The package change is put back when it cannot be recorded
	if !pkgs.installed["telnetd"] {
		t.Errorf("telnetd should be reinstalled after the failed record")
	}

	// 2. A failed rollback is reported next to the record error
	for _, want := range []string{"store unavailable", "rollback failed: unit masked"} {
		if !strings.Contains(out.Detail, want) {
			t.Errorf("detail lacks %q:\n%s", want, out.Detail)
		}
	}
}

func TestPermsFixAndUndo(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "shadow")
	writeFile(t, path, "root:*:1:0:99999:7:::\n")
	os.Chmod(path, 0o644)

	r := mustRule(t, Spec{Number: 55, Name: "shadow perms", Perms: []PermSpec{{
		Path:     path,
		FilePerm: FilePerm{UID: os.Getuid(), GID: os.Getgid(), Mode: "0600"},
	}}}, env)

	if r.Report().OK {
		t.Fatalf("Expected perms finding")
	}
	if out := r.Fix(); !out.OK || out.Changes != 1 {
		t.Fatalf("Fix: %+v", out)
	}
	p, _ := fileio.GetPerms(path)
	if p.Mode != 0o600 {
		t.Errorf("Expected 0600, got %o", p.Mode)
	}
	if out := r.Undo(); !out.OK {
		t.Fatalf("Undo: %+v", out)
	}
	p, _ = fileio.GetPerms(path)
	if p.Mode != 0o644 {
		t.Errorf("Expected 0644 after undo, got %o", p.Mode)
	}
}

func TestRemovalFixAndUndo(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "hosts.equiv")
	writeFile(t, path, "+ +\n")

	r := mustRule(t, Spec{Number: 61, Name: "no hosts.equiv", Removals: []string{path}}, env)
	if out := r.Fix(); !out.OK || out.Changes != 1 {
		t.Fatalf("Fix: %+v", out)
	}
	if fileio.Exists(path) {
		t.Fatalf("file should be gone")
	}
	if out := r.Undo(); !out.OK {
		t.Fatalf("Undo: %+v", out)
	}
	if readFile(t, path) != "+ +\n" {
		t.Errorf("undo did not restore the removed file")
	}
}

func TestSecondFixClearsStaleEvents(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "sysctl.conf")
	writeFile(t, path, "net.ipv4.ip_forward = 1\n")

	r := mustRule(t, Spec{Number: 3, Name: "ip forwarding", Edits: []EditSpec{
		{Path: path, Data: flat("net.ipv4.ip_forward", "0")},
	}}, env)

	if out := r.Fix(); out.Changes != 1 {
		t.Fatalf("first fix: %+v", out)
	}
	out := r.Fix()
	if !out.OK || out.Changes != 0 {
		t.Fatalf("second fix: %+v", out)
	}
	if ids, _ := env.Ledger.FindRuleChanges(3); len(ids) != 0 {
		t.Errorf("stale events should be retired, got %v", ids)
	}
	hist, _ := env.Ledger.History(3)
	if len(hist) != 1 || hist[0].Status != ledger.Deleted {
		t.Errorf("Expected retired entry in history, got %+v", hist)
	}
	if out := r.Undo(); !out.OK || out.Detail != "nothing to undo" {
		t.Errorf("Undo: %+v", out)
	}
}

func TestUndoContinuesPastFailure(t *testing.T) {
	env := newEnv(t)
	path := filepath.Join(t.TempDir(), "issue")
	writeFile(t, path, "Authorized uses only\n")
	os.Chmod(path, 0o666)

	r := mustRule(t, Spec{Number: 90, Name: "banner", Edits: []EditSpec{{
		Path:  path,
		Match: "space",
		Data:  flat("Warning:", "monitored"),
		Perms: &FilePerm{UID: os.Getuid(), GID: os.Getgid(), Mode: "0644"},
	}}}, env)

	if out := r.Fix(); !out.OK || out.Changes != 2 {
		t.Fatalf("Fix: %+v", out)
	}
	ids, _ := env.Ledger.FindRuleChanges(90)
	conf, _ := env.Ledger.GetEvent(ids[0])
	if err := os.Remove(conf.Backup); err != nil {
		t.Fatal(err)
	}

	out := r.Undo()
	if out.OK || out.Changes != 1 {
		t.Fatalf("Expected partial undo, got %+v", out)
	}
	if !strings.Contains(out.Detail, ids[0].String()) {
		t.Errorf("detail should name the failed event: %q", out.Detail)
	}
	p, _ := fileio.GetPerms(path)
	if p.Mode != 0o666 {
		t.Errorf("perm event should still be reverted, got %o", p.Mode)
	}
	if live, _ := env.Ledger.FindRuleChanges(90); len(live) != 1 || live[0] != ids[0] {
		t.Errorf("failed event should stay live for a retry, got %v", live)
	}
}

type panicky struct{}

func (panicky) Number() uint16  { return 1 }
func (panicky) Name() string    { return "panicky" }
func (panicky) Report() Outcome { panic("boom") }
func (panicky) Fix() Outcome    { return Outcome{} }
func (panicky) Undo() Outcome   { return Outcome{} }

func TestGuardRecoversPanic(t *testing.T) {
	var r Rule = panicky{}
	out := Guard(zaptest.NewLogger(t), r, "report", r.Report)
	if out.OK || out.Rule != 1 || !strings.Contains(out.Detail, "boom") {
		t.Errorf("unexpected outcome %+v", out)
	}
	if !strings.Contains(out.Detail, "goroutine") {
		t.Errorf("detail should carry the stack")
	}
}

func TestDataFromYAML(t *testing.T) {
	var e EditSpec
	src := `
path: /etc/ssh/sshd_config
match: space
data:
  PermitRootLogin: "no"
  Ciphers: aes256-ctr|aes128-ctr
  AllowUsers: [alice, bob]
  UsePAM: true
  Banner: ~
`
	if err := yaml.Unmarshal([]byte(src), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	spec, ok := e.Data.Spec.(kveditor.FlatSpec)
	if !ok || len(spec) != 5 {
		t.Fatalf("Expected 5 flat pairs, got %#v", e.Data.Spec)
	}
	if spec[0].Key != "PermitRootLogin" || spec[4].Key != "Banner" {
		t.Errorf("file order not kept: %v", spec)
	}
	if !spec[2].Value.Repeated() || len(spec[2].Value.Items()) != 2 {
		t.Errorf("sequence should become repeated values")
	}
	if len(spec[1].Value.Items()) != 2 {
		t.Errorf("pipes should become alternatives")
	}

	var sec EditSpec
	if err := yaml.Unmarshal([]byte("path: /etc/x\ndialect: tagconf\ndata:\n  main:\n    a: 1\n  extra:\n    b: 2\n"), &sec); err != nil {
		t.Fatal(err)
	}
	if s, ok := sec.Data.Spec.(kveditor.SectionedSpec); !ok || len(s) != 2 || s[1].Name != "extra" {
		t.Errorf("Expected two sections, got %#v", sec.Data.Spec)
	}

	for _, bad := range []string{
		"path: /x\ndata:\n  a: 1\n  s:\n    b: 2\n",
		"path: /x\ndata:\n  a: false\n",
		"path: /x\ndata: [a]\n",
	} {
		var e EditSpec
		if err := yaml.Unmarshal([]byte(bad), &e); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestNewKVRuleRejectsBadSpecs(t *testing.T) {
	env := newEnv(t)
	sections := Data{Spec: kveditor.SectionedSpec{{Name: "main", Pairs: []kveditor.Pair{{Key: "a", Value: kveditor.Is("1")}}}}}

	cases := map[string]Spec{
		"no name":          {Number: 1, Edits: []EditSpec{{Path: "/x", Data: flat("a", "1")}}},
		"no data":          {Number: 1, Name: "n", Edits: []EditSpec{{Path: "/x"}}},
		"sections in conf": {Number: 1, Name: "n", Edits: []EditSpec{{Path: "/x", Data: sections}}},
		"wildcard present": {Number: 1, Name: "n", Edits: []EditSpec{{Path: "/x", Data: flat("a", "*")}}},
		"bad mode":         {Number: 1, Name: "n", Edits: []EditSpec{{Path: "/x", Mode: "999", Data: flat("a", "1")}}},
		"mixed dialects": {Number: 1, Name: "n", Edits: []EditSpec{
			{Path: "/x", Data: flat("a", "1")},
			{Path: "/x", Match: "space", Data: flat("b", "1")},
		}},
		"bad template":  {Number: 1, Name: "n", Commands: []CommandSpec{{Fix: "echo {{.missing}}"}}},
		"bad state":     {Number: 1, Name: "n", Services: []ServiceSpec{{Name: "cups", State: "masked"}}},
		"rule too high": {Number: 10000, Name: "n"},
	}
	for name, spec := range cases {
		if _, err := NewKVRule(spec, env); !faults.Is(err, faults.InvalidSpec) {
			t.Errorf("%s: expected InvalidSpec, got %v", name, err)
		}
	}
}
