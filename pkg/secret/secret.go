// Package secret loads the device enable/SCP password from a local file.
package secret

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"asabackup/pkg/filesystem"
)

var (
	// ErrSecretMissing is returned when the secret file does not exist
	ErrSecretMissing = errors.New("secret file not found")
	// ErrSecretPerms is returned when the secret file is readable by group or others
	ErrSecretPerms = errors.New("secret file permissions too open")
	// ErrSecretEmpty is returned when the secret file holds no value
	ErrSecretEmpty = errors.New("secret file is empty")
)

// Load reads the single-line secret from path, expanding a leading "~".
// Trailing whitespace and line breaks are stripped. The file must be
// accessible only by its owner; group or world access is rejected, since
// the same value authenticates the enable dialogue and the SCP copy
// destination.
func Load(path string) (string, error) {
	path, err := filesystem.ExpandHome(path)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretMissing, path)
		}
		return "", fmt.Errorf("stat secret file %q: %w", path, err)
	}

	if perm := fi.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("%w: %s has mode %04o, want 0600", ErrSecretPerms, path, perm)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret file %q: %w", path, err)
	}

	s := strings.TrimRight(string(b), " \t\r\n")
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretEmpty, path)
	}

	return s, nil
}

// Save writes value to path with owner-only permissions, replacing any
// existing file.
func Save(path, value string) error {
	path, err := filesystem.ExpandHome(path)
	if err != nil {
		return err
	}
	if err := filesystem.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(value+"\n"), 0o600); err != nil {
		return fmt.Errorf("write secret file %q: %w", path, err)
	}

	// WriteFile keeps the previous mode when the file already existed.
	return os.Chmod(path, 0o600)
}
