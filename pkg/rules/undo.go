package rules

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/fileio"
	"github.com/user/hostguard/pkg/ledger"
)

// Undo reverts the live events of rule, newest first. A failed event is
// logged, reported in the detail and left in the ledger so a later undo can
// retry it; the remaining events are still processed.
func Undo(env *Env, rule uint16) Outcome {
	out := Outcome{Rule: rule, Op: "undo"}
	log := env.logger().With(zap.Uint16("rule", rule))
	if env.Ledger == nil {
		out.Detail = "no change ledger configured"
		return out
	}

	ids, err := env.Ledger.FindRuleChanges(rule)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	if len(ids) == 0 {
		out.OK = true
		out.Detail = "nothing to undo"
		return out
	}
	sort.Slice(ids, func(i, j int) bool { return ids[j].Less(ids[i]) })

	var errs []string
	for _, id := range ids {
		ev, err := env.Ledger.GetEvent(id)
		if err == nil {
			err = revert(env, log, ev)
		}
		if err == nil {
			err = env.Ledger.DeleteEntry(id)
		}
		if err != nil {
			log.Error("undo of event failed", zap.Stringer("id", id), zap.Error(err))
			errs = append(errs, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		out.Changes++
	}
	out.OK = len(errs) == 0
	out.Detail = joinDetail(errs...)
	return out
}

// revert restores ev's start state. Events that were already settled by an
// interrupted undo are only retired.
func revert(env *Env, log *zap.Logger, ev ledger.Event) error {
	if ev.Status != ledger.Recorded {
		return nil
	}
	l := env.Ledger
	switch ev.Type {
	case ledger.Conf:
		return l.RevertFileChanges(ev.Path, ev.ID)

	case ledger.Deletion:
		return l.RevertFileDelete(ev.Path, ev.ID)

	case ledger.Creation:
		if err := os.Remove(ev.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return faults.New(faults.WriteFailure, "undo", ev.Path, err)
		}

	case ledger.Move:
		if err := os.Rename(ev.Target, ev.Path); err != nil {
			return faults.New(faults.WriteFailure, "undo", ev.Path, err)
		}

	case ledger.Perm:
		if ev.Start.Perm == nil {
			return faults.New(faults.UndoImpossible, "undo", ev.Path, errors.New("no prior permissions recorded"))
		}
		if err := fileio.ApplyPerms(ev.Path, *ev.Start.Perm); err != nil {
			return err
		}

	case ledger.ServiceHelper:
		if env.Services == nil {
			return faults.New(faults.UndoImpossible, "undo", ev.Name, errors.New("no service manager available"))
		}
		var err error
		if ev.Start.Label == ledger.Enabled {
			err = env.Services.Enable(ev.Name)
		} else {
			err = env.Services.Disable(ev.Name)
		}
		if err != nil {
			return err
		}

	case ledger.PkgHelper:
		if env.Packages == nil {
			return faults.New(faults.UndoImpossible, "undo", ev.Name, errors.New("no package manager available"))
		}
		var err error
		if ev.Start.Label == ledger.Installed {
			err = env.Packages.Install(ev.Name)
		} else {
			err = env.Packages.Remove(ev.Name)
		}
		if err != nil {
			return err
		}

	case ledger.CommandString:
		if len(ev.Start.Command) == 0 {
			log.Warn("command has no undo, retiring event", zap.Stringer("id", ev.ID), zap.Strings("fix", ev.End.Command))
			break
		}
		if res := runArgv(env.Runner, ev.Start.Command); !res.OK() {
			return res.AsError("undo")
		}

	default:
		return faults.Errorf(faults.UndoImpossible, "undo", ev.Path, "unknown event type %q", ev.Type)
	}
	return l.MarkReverted(ev.ID)
}
