package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/user/hostguard/pkg/logging"
	"github.com/user/hostguard/pkg/rules"
)

// Profile is a compliance standard (e.g., CIS, STIG) and the rules that
// implement it.
type Profile struct {
	Standard    string       `yaml:"standard" json:"standard" validate:"required"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Rules       []rules.Spec `yaml:"rules" json:"rules" validate:"required,min=1"`
}

var validate = validator.New()

// LoadProfiles reads every YAML profile in dir, in file name order.
func LoadProfiles(dir string, log *zap.Logger) ([]Profile, error) {
	log = logging.OrNop(log)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var profiles []Profile
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		p, err := LoadProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
		log.Info("loaded compliance profile", zap.String("standard", p.Standard), zap.Int("rules", len(p.Rules)))
	}
	return profiles, nil
}

// LoadProfile reads and validates a single profile file.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("failed to parse %s: %v", filepath.Base(path), err)
	}
	if err := validate.Struct(&p); err != nil {
		return Profile{}, fmt.Errorf("invalid profile %s: %w", filepath.Base(path), err)
	}
	for i := range p.Rules {
		if err := p.Rules[i].Validate(); err != nil {
			return Profile{}, fmt.Errorf("invalid profile %s: %w", filepath.Base(path), err)
		}
	}
	return p, nil
}

// Standards returns the names of the loaded profiles.
func Standards(profiles []Profile) []string {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Standard)
	}
	return names
}
