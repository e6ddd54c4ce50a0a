package rules

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/dialect"
	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/kveditor"
	"github.com/user/hostguard/pkg/ledger"
)

type pass struct {
	intent kveditor.Intent
	data   kveditor.DesiredSpec
}

// editGroup collects every edit on one path so they share an editor session
// and end up as a single conf event.
type editGroup struct {
	path   string
	d      dialect.Dialect
	create bool
	mode   os.FileMode
	perm   *fileio.Perm
	passes []pass
}

type permItem struct {
	path string
	want fileio.Perm
}

// KVRule is a rule driven entirely by its Spec.
type KVRule struct {
	spec     Spec
	env      *Env
	log      *zap.Logger
	groups   []*editGroup
	perms    []permItem
	commands []command
}

// NewKVRule validates spec and prepares the editors, perms and commands it
// describes.
func NewKVRule(spec Spec, env *Env) (*KVRule, error) {
	if err := spec.Validate(); err != nil {
		return nil, faults.New(faults.InvalidSpec, "rule", "", err)
	}
	r := &KVRule{
		spec: spec,
		env:  env,
		log:  env.logger().With(zap.Uint16("rule", spec.Number), zap.String("name", spec.Name)),
	}

	byPath := make(map[string]*editGroup)
	for _, e := range spec.Edits {
		if err := r.addEdit(byPath, e); err != nil {
			return nil, faults.New(faults.InvalidSpec, "rule", e.Path, fmt.Errorf("rule %d: %w", spec.Number, err))
		}
	}
	for _, p := range spec.Perms {
		want, _ := p.Perm()
		r.perms = append(r.perms, permItem{path: p.Path, want: want})
	}
	cmds, err := renderCommands(spec.Commands, spec.Vars)
	if err != nil {
		return nil, faults.New(faults.InvalidSpec, "rule", "", fmt.Errorf("rule %d: %w", spec.Number, err))
	}
	r.commands = cmds
	return r, nil
}

func (r *KVRule) addEdit(byPath map[string]*editGroup, e EditSpec) error {
	kind, err := dialect.ParseKind(e.Dialect)
	if err != nil {
		return err
	}
	mode, err := dialect.ParseMatchMode(e.Match)
	if err != nil {
		return err
	}
	intent, err := kveditor.ParseIntent(e.Intent)
	if err != nil {
		return err
	}

	g, ok := byPath[e.Path]
	if !ok {
		g = &editGroup{path: e.Path, d: dialect.New(kind, mode), mode: 0o644}
		byPath[e.Path] = g
		r.groups = append(r.groups, g)
	} else if g.d.Kind() != kind || g.d.Mode() != mode {
		return fmt.Errorf("edits on %s disagree on dialect", e.Path)
	}
	g.create = g.create || e.Create
	if e.Mode != "" {
		m, _ := parseMode(e.Mode)
		g.mode = os.FileMode(m)
	}
	if e.Perms != nil {
		p, _ := e.Perms.Perm()
		g.perm = &p
	}
	g.passes = append(g.passes, pass{intent: intent, data: e.Data.Spec})

	// Building the editor checks the data against the dialect up front.
	_, err = kveditor.New(kveditor.Options{Dialect: g.d, Path: g.path, Spec: e.Data.Spec, Intent: intent})
	return err
}

func (r *KVRule) Number() uint16 { return r.spec.Number }
func (r *KVRule) Name() string   { return r.spec.Name }

// Spec returns the profile entry the rule was built from.
func (r *KVRule) Spec() Spec { return r.spec }

// Enabled reports the CI flag: the per-rule config setting if there is one,
// the profile default otherwise.
func (r *KVRule) Enabled() bool {
	if r.env.Config == nil {
		return r.spec.EnabledByDefault()
	}
	return r.env.Config.Enabled(r.spec.Number, r.spec.EnabledByDefault())
}

func (r *KVRule) outcome(op string) Outcome {
	return Outcome{Rule: r.spec.Number, Name: r.spec.Name, Op: op}
}

func (r *KVRule) editor(g *editGroup, journal kveditor.Journal) (*kveditor.Editor, error) {
	first := g.passes[0]
	return kveditor.New(kveditor.Options{
		Dialect: g.d,
		Path:    g.path,
		Spec:    first.data,
		Intent:  first.intent,
		Journal: journal,
		Mode:    g.mode,
		Log:     r.log,
	})
}

// retarget moves an editor session to the next pass. The order of the two
// setters matters because wildcard values are only valid for notpresent.
func retarget(ed *kveditor.Editor, p pass) error {
	if p.intent == kveditor.NotPresent {
		if err := ed.SetIntent(p.intent); err != nil {
			return err
		}
		return ed.SetData(p.data)
	}
	if err := ed.SetData(p.data); err != nil {
		return err
	}
	return ed.SetIntent(p.intent)
}

// Report checks every item of the rule without changing anything.
func (r *KVRule) Report() Outcome {
	out := r.outcome("report")
	var findings []string
	fail := func(format string, args ...interface{}) {
		findings = append(findings, fmt.Sprintf(format, args...))
	}

	for _, g := range r.groups {
		ed, err := r.editor(g, nil)
		if err != nil {
			fail("%s: %v", g.path, err)
			continue
		}
		for i, p := range g.passes {
			if i > 0 {
				if err := retarget(ed, p); err != nil {
					fail("%s: %v", g.path, err)
					break
				}
			}
			res, err := ed.Report()
			if err != nil {
				fail("%s: %v", g.path, err)
				break
			}
			if !res.Compliant {
				fail("%s: %s", g.path, res.Detail)
			}
		}
		if g.perm != nil {
			r.reportPerm(g.path, *g.perm, fail)
		}
	}
	for _, p := range r.perms {
		r.reportPerm(p.path, p.want, fail)
	}

	for _, s := range r.spec.Services {
		if r.env.Services == nil {
			fail("service %s: no service manager available", s.Name)
			continue
		}
		on, err := r.env.Services.Audit(s.Name)
		if err != nil {
			fail("service %s: %v", s.Name, err)
			continue
		}
		if on != (s.State == ledger.Enabled) {
			fail("service %s should be %s", s.Name, s.State)
		}
	}

	for _, p := range r.spec.Packages {
		if r.env.Packages == nil {
			fail("package %s: no package manager available", p.Name)
			continue
		}
		if r.env.Packages.Check(p.Name) != (p.State == ledger.Installed) {
			fail("package %s should be %s", p.Name, p.State)
		}
	}

	for _, c := range r.commands {
		if c.check == "" {
			continue
		}
		if res := runArgv(r.env.Runner, shell(c.check)); !res.OK() {
			fail("check failed: %s", c.check)
		}
	}

	for _, path := range r.spec.Removals {
		if fileio.Exists(path) {
			fail("%s should not exist", path)
		}
	}

	out.OK = len(findings) == 0
	out.Detail = joinDetail(findings...)
	if out.OK {
		r.log.Debug("rule compliant")
	} else {
		r.log.Info("rule not compliant", zap.Strings("findings", findings))
	}
	return out
}

func (r *KVRule) reportPerm(path string, want fileio.Perm, fail func(string, ...interface{})) {
	ok, err := fileio.CheckPerms(path, want)
	switch {
	case faults.Is(err, faults.NotFound):
		fail("%s: missing, want %s", path, want)
	case err != nil:
		fail("%s: %v", path, err)
	case !ok:
		have, _ := fileio.GetPerms(path)
		fail("%s: perms %s, want %s", path, have, want)
	}
}

// fixer carries the state of one fix run.
type fixer struct {
	r       *KVRule
	l       *ledger.Ledger
	seq     *ledger.Sequencer
	errs    []string
	changes int
}

func (f *fixer) fail(what string, err error) {
	f.r.log.Error("fix step failed", zap.String("item", what), zap.Error(err))
	f.errs = append(f.errs, fmt.Sprintf("%s: %v", what, err))
}

func (f *fixer) record(ev ledger.Event) error {
	if err := f.l.RecordEvent(ev); err != nil {
		return err
	}
	f.changes++
	return nil
}

// Fix brings the host in line with the rule and records every change so Undo
// can reverse it. It does nothing when the rule's CI flag is off.
func (r *KVRule) Fix() Outcome {
	out := r.outcome("fix")
	if !r.Enabled() {
		r.log.Info("fix skipped, rule disabled")
		out.Skipped = true
		out.Detail = "fix disabled for this rule"
		return out
	}
	if r.env.Ledger == nil {
		out.Detail = "no change ledger configured"
		return out
	}

	f := &fixer{r: r, l: r.env.Ledger, seq: ledger.NewSequencer(r.spec.Number)}
	if err := r.clearStale(); err != nil {
		f.fail("ledger", err)
		out.Detail = joinDetail(f.errs...)
		return out
	}

	for _, g := range r.groups {
		f.edit(g)
		if g.perm != nil {
			f.perm(g.path, *g.perm)
		}
	}
	for _, p := range r.perms {
		f.perm(p.path, p.want)
	}
	for _, s := range r.spec.Services {
		f.service(s)
	}
	for _, p := range r.spec.Packages {
		f.pkg(p)
	}
	for _, c := range r.commands {
		f.command(c)
	}
	for _, path := range r.spec.Removals {
		f.remove(path)
	}

	after := r.Report()
	out.Changes = f.changes
	out.OK = len(f.errs) == 0 && after.OK
	out.Detail = joinDetail(joinDetail(f.errs...), after.Detail)
	r.log.Info("fix finished", zap.Bool("ok", out.OK), zap.Int("changes", f.changes))
	return out
}

// clearStale retires whatever an earlier fix of this rule left in the ledger.
func (r *KVRule) clearStale() error {
	ids, err := r.env.Ledger.FindRuleChanges(r.spec.Number)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := r.env.Ledger.DeleteEntry(id); err != nil {
			return err
		}
	}
	return nil
}

func (f *fixer) edit(g *editGroup) {
	if g.create && !fileio.Exists(g.path) {
		id, err := f.seq.Next()
		if err != nil {
			f.fail(g.path, err)
			return
		}
		created, err := fileio.CreateFile(g.path, g.mode)
		if err != nil {
			f.fail(g.path, err)
			return
		}
		if created {
			ev := ledger.Event{
				ID:    id,
				Type:  ledger.Creation,
				Path:  g.path,
				Start: ledger.State{Label: ledger.Absent},
				End:   ledger.State{Label: ledger.Present},
			}
			if err := f.record(ev); err != nil {
				os.Remove(g.path)
				f.fail(g.path, err)
				return
			}
		}
	}

	ed, err := f.r.editor(g, f.l)
	if err != nil {
		f.fail(g.path, err)
		return
	}
	for i, p := range g.passes {
		if i > 0 {
			if err := retarget(ed, p); err != nil {
				f.fail(g.path, err)
				return
			}
		}
		res, err := ed.Report()
		if err != nil {
			f.fail(g.path, err)
			return
		}
		if res.Compliant {
			continue
		}
		if err := ed.Fix(); err != nil {
			f.fail(g.path, err)
			return
		}
	}
	if !ed.Staged() {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(g.path, err)
		return
	}
	ed.SetEventID(id)
	if err := ed.Commit(); err != nil {
		f.fail(g.path, err)
		return
	}
	f.changes++
}

func (f *fixer) perm(path string, want fileio.Perm) {
	ok, err := fileio.CheckPerms(path, want)
	if err != nil {
		f.fail(path, err)
		return
	}
	if ok {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(path, err)
		return
	}
	if err := fileio.SetPerms(path, want, f.l.PermRecorder(id)); err != nil {
		f.fail(path, err)
		return
	}
	f.changes++
}

func (f *fixer) service(s ServiceSpec) {
	svc := f.r.env.Services
	what := "service " + s.Name
	if svc == nil {
		f.fail(what, errors.New("no service manager available"))
		return
	}
	on, err := svc.Audit(s.Name)
	if err != nil {
		f.fail(what, err)
		return
	}
	want := s.State == ledger.Enabled
	if on == want {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(what, err)
		return
	}
	start, apply, restore := ledger.Enabled, svc.Disable, svc.Enable
	if want {
		start, apply, restore = ledger.Disabled, svc.Enable, svc.Disable
	}
	if err := apply(s.Name); err != nil {
		f.fail(what, err)
		return
	}
	ev := ledger.Event{
		ID:    id,
		Type:  ledger.ServiceHelper,
		Name:  s.Name,
		Start: ledger.State{Label: start},
		End:   ledger.State{Label: s.State},
	}
	if err := f.record(ev); err != nil {
		if rerr := restore(s.Name); rerr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		f.fail(what, err)
	}
}

func (f *fixer) pkg(p PackageSpec) {
	pm := f.r.env.Packages
	what := "package " + p.Name
	if pm == nil {
		f.fail(what, errors.New("no package manager available"))
		return
	}
	want := p.State == ledger.Installed
	if pm.Check(p.Name) == want {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(what, err)
		return
	}
	start, apply, restore := ledger.Installed, pm.Remove, pm.Install
	if want {
		start, apply, restore = ledger.Removed, pm.Install, pm.Remove
	}
	if err := apply(p.Name); err != nil {
		f.fail(what, err)
		return
	}
	ev := ledger.Event{
		ID:    id,
		Type:  ledger.PkgHelper,
		Name:  p.Name,
		Start: ledger.State{Label: start},
		End:   ledger.State{Label: p.State},
	}
	if err := f.record(ev); err != nil {
		if rerr := restore(p.Name); rerr != nil {
			err = fmt.Errorf("%w (rollback failed: %v)", err, rerr)
		}
		f.fail(what, err)
	}
}

func (f *fixer) command(c command) {
	run := f.r.env.Runner
	if c.check != "" && runArgv(run, shell(c.check)).OK() {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(c.fix, err)
		return
	}
	fix := shell(c.fix)
	if res := runArgv(run, fix); !res.OK() {
		f.fail(c.fix, res.AsError("fix"))
		return
	}
	ev := ledger.Event{
		ID:    id,
		Type:  ledger.CommandString,
		Start: ledger.State{Command: shell(c.undo)},
		End:   ledger.State{Command: fix},
	}
	if err := f.record(ev); err != nil {
		f.fail(c.fix, err)
	}
}

func (f *fixer) remove(path string) {
	if !fileio.Exists(path) {
		return
	}
	id, err := f.seq.Next()
	if err != nil {
		f.fail(path, err)
		return
	}
	if err := f.l.RecordFileDelete(path, id); err != nil {
		f.fail(path, err)
		return
	}
	f.changes++
}

// Undo reverses everything the last fix recorded.
func (r *KVRule) Undo() Outcome {
	out := Undo(r.env, r.spec.Number)
	out.Name = r.spec.Name
	return out
}
