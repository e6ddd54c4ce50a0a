package engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/rules"
)

// Engine runs the loaded rules one at a time, in dependency order.
type Engine struct {
	env       *rules.Env
	log       *zap.Logger
	layers    [][]rules.Spec
	ordered   []rules.Rule
	byNumber  map[uint16]rules.Rule
	specs     map[uint16]rules.Spec
	standards map[uint16]string
	now       func() time.Time
}

// New builds a rule for every spec in profiles. A rule number defined by two
// profiles keeps the first definition.
func New(env *rules.Env, profiles []Profile) (*Engine, error) {
	e := &Engine{
		env:       env,
		log:       env.Log,
		byNumber:  make(map[uint16]rules.Rule),
		specs:     make(map[uint16]rules.Spec),
		standards: make(map[uint16]string),
		now:       time.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}

	var all []rules.Spec
	for _, p := range profiles {
		for _, s := range p.Rules {
			if _, ok := e.standards[s.Number]; !ok {
				e.standards[s.Number] = p.Standard
			}
			all = append(all, s)
		}
	}
	layers, err := Order(all, e.log)
	if err != nil {
		return nil, err
	}
	e.layers = layers

	for _, layer := range layers {
		for _, s := range layer {
			r, err := rules.NewKVRule(s, env)
			if err != nil {
				return nil, err
			}
			e.ordered = append(e.ordered, r)
			e.byNumber[s.Number] = r
			e.specs[s.Number] = s
		}
	}
	return e, nil
}

// Rules returns the rules in run order.
func (e *Engine) Rules() []rules.Rule { return e.ordered }

// Layers returns the dependency layers the rules run in.
func (e *Engine) Layers() [][]rules.Spec { return e.layers }

func (e *Engine) Rule(number uint16) (rules.Rule, bool) {
	r, ok := e.byNumber[number]
	return r, ok
}

func (e *Engine) Spec(number uint16) (rules.Spec, bool) {
	s, ok := e.specs[number]
	return s, ok
}

// Standard names the profile rule number came from.
func (e *Engine) Standard(number uint16) string { return e.standards[number] }

func (e *Engine) enabled(spec rules.Spec) bool {
	if e.env.Config == nil {
		return spec.EnabledByDefault()
	}
	return e.env.Config.Enabled(spec.Number, spec.EnabledByDefault())
}

func (e *Engine) lookup(op string, number uint16) (rules.Rule, error) {
	r, ok := e.byNumber[number]
	if !ok {
		return nil, faults.Errorf(faults.NotFound, op, "", "rule %d not loaded", number)
	}
	return r, nil
}

// Audit reports every rule. A rule that fails or panics is recorded as not
// compliant and the audit goes on.
func (e *Engine) Audit() *Results {
	res := NewResults()
	for _, r := range e.ordered {
		out := rules.Guard(e.log, r, "report", r.Report)
		res.Add(findingFrom(out, e.specs[r.Number()], e.standards[r.Number()], e.now()))
	}
	sum := res.Summary()
	e.log.Info("audit finished", zap.Int("rules", sum.Total), zap.Int("non_compliant", sum.NonCompliant))
	return res
}

// Report runs one rule's report.
func (e *Engine) Report(number uint16) (rules.Outcome, error) {
	r, err := e.lookup("report", number)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Guard(e.log, r, "report", r.Report), nil
}

// Fix runs one rule's fix.
func (e *Engine) Fix(number uint16) (rules.Outcome, error) {
	r, err := e.lookup("fix", number)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Guard(e.log, r, "fix", r.Fix), nil
}

// FixAll fixes every rule in dependency order. A rule whose dependency did
// not end up compliant is skipped.
func (e *Engine) FixAll() []rules.Outcome {
	var outcomes []rules.Outcome
	failed := make(map[uint16]bool)
	for _, r := range e.ordered {
		spec := e.specs[r.Number()]
		if dep, blocked := blockedBy(spec, failed); blocked {
			failed[spec.Number] = true
			outcomes = append(outcomes, rules.Outcome{
				Rule:    spec.Number,
				Name:    spec.Name,
				Op:      "fix",
				Skipped: true,
				Detail:  fmt.Sprintf("skipped: dependency %04d is not compliant", dep),
			})
			e.log.Warn("fix skipped for failed dependency", zap.Uint16("rule", spec.Number), zap.Uint16("depends_on", dep))
			continue
		}
		out := rules.Guard(e.log, r, "fix", r.Fix)
		if !out.OK && !out.Skipped {
			failed[spec.Number] = true
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func blockedBy(spec rules.Spec, failed map[uint16]bool) (uint16, bool) {
	for _, dep := range spec.DependsOn {
		if failed[dep] {
			return dep, true
		}
	}
	return 0, false
}

// Undo reverts one rule's recorded changes.
func (e *Engine) Undo(number uint16) (rules.Outcome, error) {
	r, err := e.lookup("undo", number)
	if err != nil {
		return rules.Outcome{}, err
	}
	return rules.Guard(e.log, r, "undo", r.Undo), nil
}

// UndoAll reverts every rule, last in run order first.
func (e *Engine) UndoAll() []rules.Outcome {
	var outcomes []rules.Outcome
	for i := len(e.ordered) - 1; i >= 0; i-- {
		r := e.ordered[i]
		outcomes = append(outcomes, rules.Guard(e.log, r, "undo", r.Undo))
	}
	return outcomes
}
