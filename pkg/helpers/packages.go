package helpers

import (
	"fmt"
	"os/exec"
)

// PackageManager installs and removes packages.
type PackageManager interface {
	Name() string
	Check(pkg string) bool
	CheckAvailable(pkg string) bool
	Install(pkg string) error
	Remove(pkg string) error
}

type pkgCommands struct {
	name      string
	check     []string
	available []string
	install   []string
	remove    []string
}

var knownManagers = []pkgCommands{
	{
		name:      "apt-get",
		check:     []string{"dpkg-query", "-W", "-f=${Status}"},
		available: []string{"apt-cache", "show"},
		install:   []string{"apt-get", "install", "-y"},
		remove:    []string{"apt-get", "remove", "-y"},
	},
	{
		name:      "dnf",
		check:     []string{"rpm", "-q"},
		available: []string{"dnf", "-q", "list", "available"},
		install:   []string{"dnf", "install", "-y"},
		remove:    []string{"dnf", "remove", "-y"},
	},
	{
		name:      "yum",
		check:     []string{"rpm", "-q"},
		available: []string{"yum", "-q", "list", "available"},
		install:   []string{"yum", "install", "-y"},
		remove:    []string{"yum", "remove", "-y"},
	},
	{
		name:      "zypper",
		check:     []string{"rpm", "-q"},
		available: []string{"zypper", "--non-interactive", "info"},
		install:   []string{"zypper", "--non-interactive", "install"},
		remove:    []string{"zypper", "--non-interactive", "remove"},
	},
}

// CommandPackages drives a package manager through a Runner.
type CommandPackages struct {
	r    Runner
	cmds pkgCommands
}

// NewPackageManager picks the first package manager found on PATH.
func NewPackageManager(r Runner) (*CommandPackages, error) {
	for _, m := range knownManagers {
		if _, err := exec.LookPath(m.name); err == nil {
			return &CommandPackages{r: r, cmds: m}, nil
		}
	}
	return nil, fmt.Errorf("no supported package manager found")
}

// NewPackageManagerNamed builds the manager for a known tool name without
// probing PATH.
func NewPackageManagerNamed(r Runner, name string) (*CommandPackages, error) {
	for _, m := range knownManagers {
		if m.name == name {
			return &CommandPackages{r: r, cmds: m}, nil
		}
	}
	return nil, fmt.Errorf("unknown package manager %q", name)
}

func (p *CommandPackages) Name() string { return p.cmds.name }

func (p *CommandPackages) run(argv []string, pkg string) Output {
	args := append(append([]string{}, argv[1:]...), pkg)
	return p.r.Run(argv[0], args...)
}

func (p *CommandPackages) Check(pkg string) bool {
	out := p.run(p.cmds.check, pkg)
	if !out.OK() {
		return false
	}
	if p.cmds.name == "apt-get" {
		return containsWord(out.Stdout, "installed")
	}
	return true
}

func (p *CommandPackages) CheckAvailable(pkg string) bool {
	return p.run(p.cmds.available, pkg).OK()
}

func (p *CommandPackages) Install(pkg string) error {
	return p.run(p.cmds.install, pkg).AsError("install")
}

func (p *CommandPackages) Remove(pkg string) error {
	return p.run(p.cmds.remove, pkg).AsError("remove")
}
