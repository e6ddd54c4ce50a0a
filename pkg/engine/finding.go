package engine

import (
	"time"

	"github.com/user/hostguard/pkg/rules"
)

// Finding is the audit result of one rule.
type Finding struct {
	Rule      uint16    `json:"rule"`
	Name      string    `json:"name"`
	Standard  string    `json:"standard,omitempty"`
	Severity  string    `json:"severity,omitempty"` // critical / high / medium / low / info
	Compliant bool      `json:"compliant"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func findingFrom(out rules.Outcome, spec rules.Spec, standard string, at time.Time) Finding {
	return Finding{
		Rule:      out.Rule,
		Name:      out.Name,
		Standard:  standard,
		Severity:  spec.Severity,
		Compliant: out.OK,
		Detail:    out.Detail,
		CheckedAt: at,
	}
}
