// Package fileio holds the file primitives the editor and ledger build on:
// line reads that tolerate missing files, writes that refuse to invent
// directories, and POSIX ownership/mode helpers.
package fileio

import (
	"bufio"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/user/hostguard/pkg/faults"
	"github.com/user/hostguard/pkg/logging"
)

// ReadLines returns the file's lines with their terminators kept, so joining
// the result reproduces the file. A missing file yields no lines and no error.
func ReadLines(log *zap.Logger, path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logging.OrNop(log).Debug("file not found", zap.String("path", path))
		return nil, nil
	}
	if err != nil {
		return nil, faults.New(faults.ReadFailure, "read", path, err)
	}
	defer f.Close()

	var lines []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, faults.New(faults.ReadFailure, "read", path, err)
		}
	}
	return lines, nil
}

// ReadString is ReadLines joined back together.
func ReadString(log *zap.Logger, path string) (string, error) {
	lines, err := ReadLines(log, path)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, ""), nil
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// WriteFile writes content to path. The parent directory must already exist.
func WriteFile(path, content string, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return faults.New(faults.WriteFailure, "write", path, err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return faults.New(faults.WriteFailure, "write", path, err)
	}
	return nil
}

// WriteLines writes lines verbatim; callers supply the terminators.
func WriteLines(path string, lines []string, mode os.FileMode) error {
	return WriteFile(path, strings.Join(lines, ""), mode)
}

// CreateFile creates an empty file at path, making parent directories as
// needed. created is false when the file was already there.
func CreateFile(path string, mode os.FileMode) (created bool, err error) {
	if Exists(path) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, faults.New(faults.WriteFailure, "create", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return false, faults.New(faults.WriteFailure, "create", path, err)
	}
	return true, f.Close()
}

// CopyFile copies src to dst byte for byte and gives dst the mode of src.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return faults.New(faults.ReadFailure, "copy", src, err)
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return faults.New(faults.ReadFailure, "copy", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return faults.New(faults.WriteFailure, "copy", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return faults.New(faults.WriteFailure, "copy", dst, err)
	}
	if err := out.Close(); err != nil {
		return faults.New(faults.WriteFailure, "copy", dst, err)
	}
	return os.Chmod(dst, st.Mode().Perm())
}
