package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/engine"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/kveditor"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/rules"
)

func setup(t *testing.T) (http.Handler, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zaptest.NewLogger(t)

	dir := t.TempDir()
	target := filepath.Join(dir, "sysctl.conf")
	if err := os.WriteFile(target, []byte("net.ipv4.ip_forward = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ReportDir = filepath.Join(dir, "reports")
	l := ledger.New(ledger.NewMemoryStore(), filepath.Join(dir, "archive"), log)
	env := &rules.Env{Ledger: l, Runner: helpers.NewExecRunner(log), Config: cfg, Log: log}

	profiles := []engine.Profile{{Standard: "CIS", Rules: []rules.Spec{
		{
			Number:   11,
			Name:     "ip forwarding",
			Severity: "high",
			Edits: []rules.EditSpec{{
				Path: target,
				Data: rules.Data{Spec: kveditor.FlatSpec{{Key: "net.ipv4.ip_forward", Value: kveditor.Is("0")}}},
			}},
		},
		{Number: 12, Name: "informational", Severity: "low", Removals: []string{filepath.Join(dir, "nothing")}},
	}}}
	eng, err := engine.New(env, profiles)
	if err != nil {
		t.Fatal(err)
	}
	return New(eng, l, cfg, log), target
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStatusAndRules(t *testing.T) {
	h, _ := setup(t)

	w := do(h, "GET", "/api/status", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"rules":2`) {
		t.Errorf("status: %d %s", w.Code, w.Body.String())
	}

	w = do(h, "GET", "/api/rules", "")
	var body struct {
		Rules []struct {
			Number   uint16 `json:"number"`
			Standard string `json:"standard"`
			Enabled  bool   `json:"enabled"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Rules) != 2 || body.Rules[0].Standard != "CIS" || !body.Rules[0].Enabled {
		t.Errorf("unexpected rules %+v", body.Rules)
	}
}

func TestScanLevels(t *testing.T) {
	h, _ := setup(t)
	var body struct {
		Results []engine.Finding `json:"results"`
	}

	w := do(h, "GET", "/api/scan", "")
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Results) != 2 {
		t.Errorf("strict scan should include every rule, got %d", len(body.Results))
	}

	w = do(h, "GET", "/api/scan?level=basic", "")
	json.Unmarshal(w.Body.Bytes(), &body)
	if len(body.Results) != 1 || body.Results[0].Rule != 11 || body.Results[0].Compliant {
		t.Errorf("basic scan should only list rule 11 failing, got %+v", body.Results)
	}
}

func TestFixHistoryRollback(t *testing.T) {
	h, target := setup(t)

	w := do(h, "POST", "/api/fix", `{"rule": 11}`)
	if w.Code != http.StatusOK {
		t.Fatalf("fix: %d %s", w.Code, w.Body.String())
	}
	var out rules.Outcome
	json.Unmarshal(w.Body.Bytes(), &out)
	if !out.OK || out.Changes != 1 {
		t.Errorf("unexpected outcome %+v", out)
	}
	b, _ := os.ReadFile(target)
	if string(b) != "net.ipv4.ip_forward = 0\n" {
		t.Errorf("fix not applied: %q", b)
	}

	w = do(h, "GET", "/api/history/11", "")
	if !strings.Contains(w.Body.String(), `"0011001"`) {
		t.Errorf("history should list the event: %s", w.Body.String())
	}

	w = do(h, "POST", "/api/rollback", `{"rule": 11}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rollback: %d %s", w.Code, w.Body.String())
	}
	b, _ = os.ReadFile(target)
	if string(b) != "net.ipv4.ip_forward = 1\n" {
		t.Errorf("rollback not applied: %q", b)
	}
}

func TestErrors(t *testing.T) {
	h, _ := setup(t)

	if w := do(h, "POST", "/api/fix", `{"rule": 99}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown rule: expected 404, got %d", w.Code)
	}
	if w := do(h, "POST", "/api/fix", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", w.Code)
	}
	if w := do(h, "GET", "/api/history/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad number: expected 400, got %d", w.Code)
	}
}

func TestPlanExportReset(t *testing.T) {
	h, _ := setup(t)

	w := do(h, "GET", "/api/rules/11/plan", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "net.ipv4.ip_forward = 0") {
		t.Errorf("plan: %d %s", w.Code, w.Body.String())
	}

	w = do(h, "GET", "/api/export", "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("export: %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !strings.HasPrefix(w.Body.String(), "%PDF") {
		t.Errorf("export did not return a PDF")
	}

	do(h, "POST", "/api/fix", `{"rule": 11}`)
	w = do(h, "POST", "/api/reset", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"failed":0`) {
		t.Errorf("reset: %d %s", w.Code, w.Body.String())
	}
}
