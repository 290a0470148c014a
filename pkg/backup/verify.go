package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"asabackup/pkg/device"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"
)

var cryptochecksumRe = regexp.MustCompile(`(?m)^Cryptochecksum: ?([0-9a-fA-F]+)`)

// verifyUnit checks that the delivered artifact landed non-empty in
// the local destination directory. The backup host is this host, so a
// copy the device reported as successful must be visible here.
func verifyUnit(destDir string, u device.Unit) error {
	path := filepath.Join(destDir, u.Filename)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("artifact %s not found after copy: %w", u.Filename, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("artifact %s is empty", u.Filename)
	}
	return nil
}

// compareLegacyConfigs diffs the running and startup config artifacts
// of a legacy run. A mismatch means unsaved changes on the device.
// That is worth a warning with the diff, not a failed run.
func compareLegacyConfigs(log *logrus.Entry, destDir, suffix string) {
	running, err := os.ReadFile(filepath.Join(destDir, fmt.Sprintf("running-config_%s.cfg", suffix)))
	if err != nil {
		return
	}
	startup, err := os.ReadFile(filepath.Join(destDir, fmt.Sprintf("startup-config_%s.cfg", suffix)))
	if err != nil {
		return
	}

	runSum := cryptochecksumRe.FindSubmatch(running)
	startSum := cryptochecksumRe.FindSubmatch(startup)
	if runSum == nil || startSum == nil {
		log.Debug("config artifacts carry no checksum line, skipping comparison")
		return
	}
	if string(runSum[1]) == string(startSum[1]) {
		log.Debug("running and startup configs match")
		return
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(startup)),
		B:        difflib.SplitLines(string(running)),
		FromFile: "startup-config",
		ToFile:   "running-config",
		Context:  3,
	})
	if err != nil {
		log.Warnf("running and startup configs differ, diff failed: %v", err)
		return
	}
	log.Warnf("running config has unsaved changes:\n%s", diff)
}
