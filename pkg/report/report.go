// Package report records the outcome of one device run, both as a
// machine-readable artifact stored next to the backups and as log
// output for the operator.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"asabackup/pkg/device"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Status classifies how one backup unit ended.
type Status string

const (
	// StatusOK means the artifact was produced and verified.
	StatusOK Status = "ok"
	// StatusFailed means the unit ran and did not deliver.
	StatusFailed Status = "failed"
	// StatusSkipped means the unit never ran, e.g. the device does not
	// support the operation.
	StatusSkipped Status = "skipped"
)

// UnitResult is the outcome of one planned artifact.
type UnitResult struct {
	Label    string  `json:"label"`
	Kind     string  `json:"kind"`
	Filename string  `json:"filename"`
	Status   Status  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Seconds  float64 `json:"seconds"`
}

// Run is the full record of one device run. It is written even when
// the run fails so that an operator can reconstruct what happened
// without the logs.
type Run struct {
	ID      string        `json:"id"`
	Device  string        `json:"device"`
	Suffix  string        `json:"suffix"`
	Started time.Time     `json:"started"`
	Seconds float64       `json:"seconds"`
	Facts   *device.Facts `json:"facts,omitempty"`
	Units   []UnitResult  `json:"units"`
	Error   string        `json:"error,omitempty"`
}

// New starts the record for one device run.
func New(deviceName, suffix string) *Run {
	return &Run{
		ID:      uuid.NewString(),
		Device:  deviceName,
		Suffix:  suffix,
		Started: time.Now(),
	}
}

// Record appends the outcome of one unit.
func (r *Run) Record(u UnitResult) {
	r.Units = append(r.Units, u)
}

// Finish stamps the total duration and the run-level error, if any.
// Unit failures are carried per unit; runErr is for failures that
// stopped the run before or between units.
func (r *Run) Finish(runErr error) {
	r.Seconds = time.Since(r.Started).Seconds()
	if runErr != nil {
		r.Error = runErr.Error()
	}
}

// Failed reports whether anything in the run went wrong.
func (r *Run) Failed() bool {
	if r.Error != "" {
		return true
	}
	for _, u := range r.Units {
		if u.Status == StatusFailed {
			return true
		}
	}
	return false
}

// WriteFile stores the record as report_{suffix}.json in destDir and
// returns the path.
func (r *Run) WriteFile(destDir string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run report: %w", err)
	}
	path := filepath.Join(destDir, fmt.Sprintf("report_%s.json", r.Suffix))
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write run report: %w", err)
	}
	return path, nil
}

// Log prints the per-unit outcomes and a one-line summary.
func (r *Run) Log(log *logrus.Entry) {
	var ok, failed, skipped int
	for _, u := range r.Units {
		fields := logrus.Fields{"unit": u.Label, "file": u.Filename}
		switch u.Status {
		case StatusOK:
			ok++
			log.WithFields(fields).Info("backed up")
		case StatusSkipped:
			skipped++
			log.WithFields(fields).Warnf("skipped: %s", u.Error)
		default:
			failed++
			log.WithFields(fields).Errorf("failed: %s", u.Error)
		}
	}
	if r.Error != "" {
		log.Errorf("run aborted after %.1fs: %s", r.Seconds, r.Error)
		return
	}
	log.Infof("%d backed up, %d failed, %d skipped in %.1fs", ok, failed, skipped, r.Seconds)
}
