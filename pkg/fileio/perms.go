package fileio

import (
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/logging"
)

// Perm is an owner, group and S_IMODE permission triple.
type Perm struct {
	UID  int    `json:"uid" yaml:"uid"`
	GID  int    `json:"gid" yaml:"gid"`
	Mode uint32 `json:"mode" yaml:"mode"`
}

func (p Perm) String() string {
	return fmt.Sprintf("%d:%d %04o", p.UID, p.GID, p.Mode)
}

// PermRecorder is told about every permission change SetPerms makes.
type PermRecorder interface {
	RecordPerm(path string, start, end Perm) error
}

// GetPerms stats path, following symlinks the same way ApplyPerms does.
func GetPerms(path string) (Perm, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if err == unix.ENOENT {
			return Perm{}, faults.New(faults.NotFound, "stat", path, err)
		}
		return Perm{}, faults.New(faults.ReadFailure, "stat", path, err)
	}
	return Perm{UID: int(st.Uid), GID: int(st.Gid), Mode: uint32(st.Mode) & 0o7777}, nil
}

// CheckPerms is true only when owner, group and mode all match want.
func CheckPerms(path string, want Perm) (bool, error) {
	have, err := GetPerms(path)
	if err != nil {
		return false, err
	}
	return have == want, nil
}

// ApplyPerms sets ownership then mode. chown clears setuid bits on some
// systems, so the order matters.
func ApplyPerms(path string, p Perm) error {
	if err := unix.Chown(path, p.UID, p.GID); err != nil {
		return faults.New(faults.WriteFailure, "chown", path, err)
	}
	if err := unix.Chmod(path, p.Mode); err != nil {
		return faults.New(faults.WriteFailure, "chmod", path, err)
	}
	return nil
}

// SetPerms applies want to path. When rec is non-nil the change is recorded
// with the prior perms as start state; if recording fails the prior perms are
// put back so the file and the ledger agree.
func SetPerms(path string, want Perm, rec PermRecorder) error {
	start, err := GetPerms(path)
	if err != nil {
		return err
	}
	if start == want {
		return nil
	}
	if err := ApplyPerms(path, want); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	if err := rec.RecordPerm(path, start, want); err != nil {
		if rerr := ApplyPerms(path, start); rerr != nil {
			return fmt.Errorf("record perm change: %w (restore failed: %v)", err, rerr)
		}
		return fmt.Errorf("record perm change: %w", err)
	}
	return nil
}

// ModeOf returns the permission bits of path, or fallback when it cannot be
// read.
func ModeOf(path string, fallback os.FileMode) os.FileMode {
	st, err := os.Stat(path)
	if err != nil {
		return fallback
	}
	return st.Mode().Perm()
}

var restoreconPaths = []string{"/sbin/restorecon", "/usr/sbin/restorecon"}

// ResetSecon relabels path with restorecon when the tool is installed. It
// never fails the caller.
func ResetSecon(log *zap.Logger, path string) {
	log = logging.OrNop(log)
	bin := ""
	for _, p := range restoreconPaths {
		if Exists(p) {
			bin = p
			break
		}
	}
	if bin == "" {
		if p, err := exec.LookPath("restorecon"); err == nil {
			bin = p
		}
	}
	if bin == "" {
		log.Debug("restorecon not available", zap.String("path", path))
		return
	}
	if out, err := exec.Command(bin, path).CombinedOutput(); err != nil {
		log.Debug("restorecon failed", zap.String("path", path), zap.ByteString("output", out), zap.Error(err))
	}
}
