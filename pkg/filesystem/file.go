package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	// Some other error (e.g., permission)
	return false, err
}

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %q", path)
	}
	return nil
}

// ExpandHome resolves a leading "~" against the current user's home
// directory. Paths without the prefix pass through unchanged; "~user"
// forms are not supported.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	if len(path) > 1 && path[1] != '/' {
		return "", fmt.Errorf("cannot expand user-relative path %q", path)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve home directory")
	}

	return filepath.Join(home, strings.TrimPrefix(path[1:], "/")), nil
}
