package rules

import (
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/config"
	"github.com/user/hostguard/pkg/helpers"
	"github.com/user/hostguard/pkg/ledger"
	"github.com/user/hostguard/pkg/logging"
)

// Rule is one independent compliance check.
type Rule interface {
	Number() uint16
	Name() string
	Report() Outcome
	Fix() Outcome
	Undo() Outcome
}

// Outcome is what every rule operation hands back to the operator.
type Outcome struct {
	Rule    uint16 `json:"rule"`
	Name    string `json:"name"`
	Op      string `json:"op"`
	OK      bool   `json:"ok"`
	Skipped bool   `json:"skipped,omitempty"`
	Changes int    `json:"changes"`
	Detail  string `json:"detail,omitempty"`
}

// Env is the per-run context shared by all rules. Packages and Services may
// be nil on hosts where no supported tool was found; rules that need them
// then fail with a detail instead of panicking.
type Env struct {
	Ledger   *ledger.Ledger
	Runner   helpers.Runner
	Packages helpers.PackageManager
	Services helpers.ServiceManager
	Config   *config.Config
	Log      *zap.Logger
}

func (e *Env) logger() *zap.Logger {
	if e == nil {
		return zap.NewNop()
	}
	return logging.OrNop(e.Log)
}

// Guard runs fn and turns a panic into a failed outcome carrying the stack,
// so one broken rule cannot stop a batch.
func Guard(log *zap.Logger, r Rule, op string, fn func() Outcome) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			stack := string(debug.Stack())
			logging.OrNop(log).Error("rule panicked",
				zap.Uint16("rule", r.Number()),
				zap.String("op", op),
				zap.Any("panic", p),
				zap.String("stack", stack))
			out = Outcome{
				Rule:   r.Number(),
				Name:   r.Name(),
				Op:     op,
				Detail: fmt.Sprintf("%s failed unexpectedly: %v\n%s", op, p, stack),
			}
		}
	}()
	return fn()
}

func joinDetail(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
