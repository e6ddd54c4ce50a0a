package helpers

import "strings"

// ServiceManager controls boot-time and running state of services.
type ServiceManager interface {
	Audit(svc string) (enabled bool, err error)
	Enable(svc string) error
	Disable(svc string) error
	Start(svc string) error
	Stop(svc string) error
	IsRunning(svc string) bool
}

// Systemd drives systemctl through a Runner.
type Systemd struct {
	r Runner
}

func NewSystemd(r Runner) *Systemd { return &Systemd{r: r} }

// Audit reports whether svc starts at boot. systemctl exits non-zero for
// disabled units, so only a failure to run it is an error.
func (s *Systemd) Audit(svc string) (bool, error) {
	out := s.r.Run("systemctl", "is-enabled", svc)
	if out.Err != nil {
		return false, out.AsError("audit")
	}
	switch strings.TrimSpace(out.Stdout) {
	case "enabled", "enabled-runtime", "static":
		return true, nil
	}
	return false, nil
}

func (s *Systemd) Enable(svc string) error {
	return s.r.Run("systemctl", "enable", svc).AsError("enable")
}

// Disable stops the unit as well, matching what a disabled baseline expects.
func (s *Systemd) Disable(svc string) error {
	return s.r.Run("systemctl", "disable", "--now", svc).AsError("disable")
}

func (s *Systemd) Start(svc string) error {
	return s.r.Run("systemctl", "start", svc).AsError("start")
}

func (s *Systemd) Stop(svc string) error {
	return s.r.Run("systemctl", "stop", svc).AsError("stop")
}

func (s *Systemd) IsRunning(svc string) bool {
	return s.r.Run("systemctl", "is-active", "--quiet", svc).OK()
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}
