package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"go.uber.org/zap/zaptest"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/kveditor"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/rules"
)

func newSession(t *testing.T) (*session, *bytes.Buffer, string) {
	t.Helper()
	color.NoColor = true
	log := zaptest.NewLogger(t)
	dir := t.TempDir()

	target := filepath.Join(dir, "sshd_config")
	if err := os.WriteFile(target, []byte("PermitRootLogin yes\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	l := ledger.New(ledger.NewMemoryStore(), filepath.Join(dir, "archive"), log)
	env := &rules.Env{Ledger: l, Runner: helpers.NewExecRunner(log), Config: cfg, Log: log}
	eng, err := engine.New(env, []engine.Profile{{Standard: "CIS", Rules: []rules.Spec{{
		Number: 5,
		Name:   "no root login",
		Edits: []rules.EditSpec{{
			Path:  target,
			Match: "space",
			Data:  rules.Data{Spec: kveditor.FlatSpec{{Key: "PermitRootLogin", Value: kveditor.Is("no")}}},
		}},
	}}}})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	return &session{rt: &runtime{cfg: cfg, log: log, ledger: l, engine: eng}, out: &buf}, &buf, target
}

func TestSessionFixAndUndo(t *testing.T) {
	s, out, target := newSession(t)

	// 1. Scan shows the rule failing
	s.handle("scan")
	if !strings.Contains(out.String(), "[FAIL] 0005 no root login") {
		t.Fatalf("scan output:\n%s", out.String())
	}

	// 2. Fix rewrites the file
	out.Reset()
	s.handle("fix 5")
	if !strings.Contains(out.String(), "[OK] fix 0005") {
		t.Errorf("fix output:\n%s", out.String())
	}
	b, _ := os.ReadFile(target)
	if string(b) != "PermitRootLogin no\n" {
		t.Errorf("unexpected content %q", b)
	}

	// 3. History lists the conf event
	out.Reset()
	s.handle("history 5")
	if !strings.Contains(out.String(), "0005001") {
		t.Errorf("history output:\n%s", out.String())
	}

	// 4. Undo restores the original
	out.Reset()
	s.handle("undo all")
	b, _ = os.ReadFile(target)
	if string(b) != "PermitRootLogin yes\n" {
		t.Errorf("undo did not restore: %q", b)
	}
}

func TestSessionInput(t *testing.T) {
	s, out, _ := newSession(t)

	if !s.handle("") {
		t.Errorf("empty line should keep the session going")
	}
	if s.handle("quit") || s.handle("EXIT") {
		t.Errorf("quit and exit should end the session")
	}

	s.handle("fix")
	s.handle("report abc")
	s.handle("plan 77")
	s.handle("frobnicate")
	for _, want := range []string{"expected one rule number", `invalid rule number "abc"`, "Error:", `Unknown command "frobnicate"`} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestParseRule(t *testing.T) {
	if n, err := parseRule("0042"); err != nil || n != 42 {
		t.Errorf("parseRule(0042) = %d, %v", n, err)
	}
	if _, err := parseRule("70000"); err == nil {
		t.Errorf("out of range numbers should fail")
	}
}
