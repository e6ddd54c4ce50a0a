package rules

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/user/hostguard/pkg/helpers"
)

// command is a CommandSpec with its templates rendered.
type command struct {
	check string
	fix   string
	undo  string
}

func renderCommands(specs []CommandSpec, vars map[string]string) ([]command, error) {
	var out []command
	for i, c := range specs {
		var (
			rc  command
			err error
		)
		if rc.check, err = renderString(fmt.Sprintf("check%d", i), c.Check, vars); err != nil {
			return nil, err
		}
		if rc.fix, err = renderString(fmt.Sprintf("fix%d", i), c.Fix, vars); err != nil {
			return nil, err
		}
		if rc.undo, err = renderString(fmt.Sprintf("undo%d", i), c.Undo, vars); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, nil
}

func renderString(name, tmplStr string, vars map[string]string) (string, error) {
	if tmplStr == "" {
		return "", nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to execute template %s: %v", name, err)
	}
	return buf.String(), nil
}

// shell is the argv a rendered command line runs under. It is also what
// commandstring events store, so undo can replay it verbatim.
func shell(line string) []string {
	if line == "" {
		return nil
	}
	return []string{"sh", "-c", line}
}

func runArgv(r helpers.Runner, argv []string) helpers.Output {
	return r.Run(argv[0], argv[1:]...)
}

// RenderedCommands returns the rule's commands with Vars substituted.
func (s *Spec) RenderedCommands() ([]CommandSpec, error) {
	cmds, err := renderCommands(s.Commands, s.Vars)
	if err != nil {
		return nil, err
	}
	out := make([]CommandSpec, len(cmds))
	for i, c := range cmds {
		out[i] = CommandSpec{Check: c.check, Fix: c.fix, Undo: c.undo}
	}
	return out, nil
}
