package engine

import (
	"fmt"
	"strings"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/kveditor"
	"github.com/user/hostguard/pkg/rules"
)

// Plan describes what a fix of rule number would do, without doing it.
func (e *Engine) Plan(number uint16) (string, error) {
	spec, ok := e.specs[number]
	if !ok {
		return "", faults.Errorf(faults.NotFound, "plan", "", "rule %d not loaded", number)
	}
	cmds, err := spec.RenderedCommands()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("[FIX PLAN]\n")
	sb.WriteString(fmt.Sprintf("Rule: %04d %s\n", spec.Number, spec.Name))
	if std := e.standards[number]; std != "" {
		sb.WriteString(fmt.Sprintf("Standard: %s\n", std))
	}
	if spec.Severity != "" {
		sb.WriteString(fmt.Sprintf("Severity: %s\n", spec.Severity))
	}
	if spec.Description != "" {
		sb.WriteString(fmt.Sprintf("Description: %s\n", spec.Description))
	}
	if !e.enabled(spec) {
		sb.WriteString("Fix: DISABLED for this rule\n")
	}
	sb.WriteString("\n")

	for _, ed := range spec.Edits {
		intent := ed.Intent
		if intent == "" {
			intent = "present"
		}
		sb.WriteString(fmt.Sprintf("Edit %s (%s):\n", ed.Path, intent))
		if ed.Create {
			sb.WriteString("  create if missing\n")
		}
		writeData(&sb, ed.Data)
	}
	for _, p := range spec.Perms {
		sb.WriteString(fmt.Sprintf("Permissions %s: %d:%d %s\n", p.Path, p.UID, p.GID, p.Mode))
	}
	for _, s := range spec.Services {
		sb.WriteString(fmt.Sprintf("Service %s: %s\n", s.Name, s.State))
	}
	for _, p := range spec.Packages {
		sb.WriteString(fmt.Sprintf("Package %s: %s\n", p.Name, p.State))
	}
	for _, path := range spec.Removals {
		sb.WriteString(fmt.Sprintf("Remove %s\n", path))
	}
	for _, c := range cmds {
		sb.WriteString("Suggested Fix:\n  " + c.Fix + "\n")
		if c.Check != "" {
			sb.WriteString("Validation:\n  " + c.Check + "\n")
		}
		if c.Undo != "" {
			sb.WriteString("Rollback:\n  " + c.Undo + "\n")
		}
	}
	return sb.String(), nil
}

func writeData(sb *strings.Builder, d rules.Data) {
	switch spec := d.Spec.(type) {
	case kveditor.FlatSpec:
		writePairs(sb, "  ", spec)
	case kveditor.SectionedSpec:
		for _, sec := range spec {
			sb.WriteString(fmt.Sprintf("  [%s]\n", sec.Name))
			writePairs(sb, "    ", sec.Pairs)
		}
	}
}

func writePairs(sb *strings.Builder, indent string, pairs []kveditor.Pair) {
	for _, p := range pairs {
		sb.WriteString(fmt.Sprintf("%s%s = %s\n", indent, p.Key, p.Value))
	}
}
