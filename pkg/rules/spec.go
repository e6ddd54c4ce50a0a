package rules

import (
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/user/hostguard/pkg/fileio"
)

// Spec is the profile description of a data driven rule.
type Spec struct {
	Number      uint16            `yaml:"number" json:"number" validate:"required,max=9999"`
	Name        string            `yaml:"name" json:"name" validate:"required"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    string            `yaml:"severity,omitempty" json:"severity,omitempty" validate:"omitempty,oneof=critical high medium low info"`
	Enabled     *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	DependsOn   []uint16          `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`

	Edits    []EditSpec    `yaml:"edits,omitempty" json:"edits,omitempty" validate:"dive"`
	Perms    []PermSpec    `yaml:"perms,omitempty" json:"perms,omitempty" validate:"dive"`
	Services []ServiceSpec `yaml:"services,omitempty" json:"services,omitempty" validate:"dive"`
	Packages []PackageSpec `yaml:"packages,omitempty" json:"packages,omitempty" validate:"dive"`
	Commands []CommandSpec `yaml:"commands,omitempty" json:"commands,omitempty" validate:"dive"`
	Removals []string      `yaml:"remove_files,omitempty" json:"remove_files,omitempty" validate:"dive,required"`
}

// EditSpec asks for one configuration file to carry, or not carry, Data.
type EditSpec struct {
	Path    string    `yaml:"path" json:"path" validate:"required"`
	Dialect string    `yaml:"dialect,omitempty" json:"dialect,omitempty" validate:"omitempty,oneof=conf tagconf"`
	Match   string    `yaml:"match,omitempty" json:"match,omitempty" validate:"omitempty,oneof=openeq closedeq space"`
	Intent  string    `yaml:"intent,omitempty" json:"intent,omitempty" validate:"omitempty,oneof=present notpresent absent"`
	Create  bool      `yaml:"create,omitempty" json:"create,omitempty"`
	Mode    string    `yaml:"mode,omitempty" json:"mode,omitempty"`
	Perms   *FilePerm `yaml:"perms,omitempty" json:"perms,omitempty"`
	Data    Data      `yaml:"data" json:"-"`
}

// FilePerm is ownership and mode as written in a profile. Mode is octal.
type FilePerm struct {
	UID  int    `yaml:"uid" json:"uid" validate:"min=0"`
	GID  int    `yaml:"gid" json:"gid" validate:"min=0"`
	Mode string `yaml:"mode" json:"mode" validate:"required"`
}

// Perm converts p to the fileio form.
func (p FilePerm) Perm() (fileio.Perm, error) {
	mode, err := parseMode(p.Mode)
	if err != nil {
		return fileio.Perm{}, err
	}
	return fileio.Perm{UID: p.UID, GID: p.GID, Mode: mode}, nil
}

type PermSpec struct {
	Path     string `yaml:"path" json:"path" validate:"required"`
	FilePerm `yaml:",inline"`
}

type ServiceSpec struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	State string `yaml:"state" json:"state" validate:"required,oneof=enabled disabled"`
}

type PackageSpec struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	State string `yaml:"state" json:"state" validate:"required,oneof=installed removed"`
}

// CommandSpec is a shell remediation. Check exiting zero means compliant; an
// empty Check means the rule cannot tell and Fix always runs. All three are
// text/template strings over the rule's Vars.
type CommandSpec struct {
	Check string `yaml:"check,omitempty" json:"check,omitempty"`
	Fix   string `yaml:"fix" json:"fix" validate:"required"`
	Undo  string `yaml:"undo,omitempty" json:"undo,omitempty"`
}

var validate = validator.New()

// Validate checks the struct tags and the values the tags cannot express.
func (s *Spec) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("rule %d: %w", s.Number, err)
	}
	for i, e := range s.Edits {
		if e.Data.Spec == nil {
			return fmt.Errorf("rule %d: edit %d (%s): no data", s.Number, i, e.Path)
		}
		if e.Mode != "" {
			if _, err := parseMode(e.Mode); err != nil {
				return fmt.Errorf("rule %d: edit %d: %w", s.Number, i, err)
			}
		}
		if e.Perms != nil {
			if _, err := e.Perms.Perm(); err != nil {
				return fmt.Errorf("rule %d: edit %d: %w", s.Number, i, err)
			}
		}
	}
	for _, p := range s.Perms {
		if _, err := p.Perm(); err != nil {
			return fmt.Errorf("rule %d: %s: %w", s.Number, p.Path, err)
		}
	}
	return nil
}

// EnabledByDefault is the profile's CI default; rules are enabled unless the
// profile says otherwise.
func (s *Spec) EnabledByDefault() bool {
	return s.Enabled == nil || *s.Enabled
}

func parseMode(s string) (uint32, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("bad mode %q", s)
	}
	return uint32(m), nil
}
