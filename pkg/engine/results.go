package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Results holds the findings of an audit, one per rule.
type Results struct {
	Findings []Finding `json:"findings"`
	mu       sync.RWMutex
}

func NewResults() *Results {
	return &Results{Findings: make([]Finding, 0)}
}

// Add ingests findings. A later finding for a rule replaces the earlier one.
func (r *Results) Add(findings ...Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range findings {
		replaced := false
		for i, existing := range r.Findings {
			if existing.Rule == f.Rule {
				r.Findings[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			r.Findings = append(r.Findings, f)
		}
	}
}

// List returns a copy of the findings ordered by rule number.
func (r *Results) List() []Finding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]Finding(nil), r.Findings...)
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}

// Summary counts findings by outcome.
type Summary struct {
	Total        int `json:"total"`
	Compliant    int `json:"compliant"`
	NonCompliant int `json:"non_compliant"`
}

func (r *Results) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Summary{Total: len(r.Findings)}
	for _, f := range r.Findings {
		if f.Compliant {
			s.Compliant++
		} else {
			s.NonCompliant++
		}
	}
	return s
}

// Text returns a plain text summary of the results.
func (r *Results) Text() string {
	findings := r.List()
	sum := r.Summary()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Audit results (%d rules, %d compliant, %d not compliant):\n", sum.Total, sum.Compliant, sum.NonCompliant))
	sb.WriteString("--------------------------------------------------\n")
	for _, f := range findings {
		status := "PASS"
		if !f.Compliant {
			status = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("[%s] %04d %s", status, f.Rule, f.Name))
		if f.Severity != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", f.Severity))
		}
		sb.WriteString("\n")
		if !f.Compliant && f.Detail != "" {
			for _, line := range strings.Split(f.Detail, "\n") {
				sb.WriteString("  " + line + "\n")
			}
		}
	}
	return sb.String()
}

// SaveSnapshot writes the findings as JSON so a later audit can be compared
// against them.
func (r *Results) SaveSnapshot(path string) error {
	data, err := json.MarshalIndent(struct {
		Findings []Finding `json:"findings"`
	}{r.List()}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// LoadSnapshot replaces the findings with the ones saved at path.
func (r *Results) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var snap struct {
		Findings []Finding `json:"findings"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	r.mu.Lock()
	r.Findings = snap.Findings
	r.mu.Unlock()
	return nil
}

// Diff is a comparison of failing rules between two audits.
type Diff struct {
	New       []Finding `json:"new"`
	Fixed     []Finding `json:"fixed"`
	Unchanged []Finding `json:"unchanged"`
}

// Compare reports which failures are new since baseline, which baseline
// failures are gone and which persist.
func (r *Results) Compare(baseline *Results) Diff {
	current := r.List()
	old := baseline.List()

	failing := func(fs []Finding) map[uint16]Finding {
		m := make(map[uint16]Finding)
		for _, f := range fs {
			if !f.Compliant {
				m[f.Rule] = f
			}
		}
		return m
	}
	nowFailing, wasFailing := failing(current), failing(old)

	var d Diff
	for _, f := range current {
		if f.Compliant {
			continue
		}
		if _, ok := wasFailing[f.Rule]; ok {
			d.Unchanged = append(d.Unchanged, f)
		} else {
			d.New = append(d.New, f)
		}
	}
	for _, f := range old {
		if f.Compliant {
			continue
		}
		if _, ok := nowFailing[f.Rule]; !ok {
			d.Fixed = append(d.Fixed, f)
		}
	}
	return d
}
