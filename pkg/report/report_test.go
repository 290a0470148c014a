package report

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"asabackup/pkg/device"

	"github.com/stretchr/testify/require"
)

func TestWriteFileRoundTrips(t *testing.T) {
	dir := t.TempDir()

	r := New("asa1", "daily_3")
	r.Facts = &device.Facts{Mode: device.ModeSingle, VersionKnown: true}
	r.Record(UnitResult{
		Label:    "tech-support",
		Kind:     "tech-support",
		Filename: "tech-support_daily_3.txt",
		Status:   StatusOK,
		Seconds:  12.5,
	})
	r.Record(UnitResult{
		Label:    "backup-archive",
		Kind:     "backup-archive",
		Filename: "backup_daily_3.tar.gz",
		Status:   StatusFailed,
		Error:    "copy failed",
	})
	r.Finish(nil)

	path, err := r.WriteFile(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "report_daily_3.json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Run
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, "asa1", got.Device)
	require.Len(t, got.Units, 2)
	require.Equal(t, StatusFailed, got.Units[1].Status)
	require.Equal(t, "copy failed", got.Units[1].Error)
	require.True(t, got.Facts.VersionKnown)
}

func TestFailed(t *testing.T) {
	r := New("asa1", "daily_0")
	require.False(t, r.Failed(), "empty run has not failed")

	r.Record(UnitResult{Label: "tech-support", Status: StatusOK})
	r.Record(UnitResult{Label: "backup-archive", Status: StatusSkipped})
	require.False(t, r.Failed(), "skips are not failures")

	r.Record(UnitResult{Label: "legacy-config", Status: StatusFailed, Error: "timeout"})
	require.True(t, r.Failed())
}

func TestFinishRecordsRunError(t *testing.T) {
	r := New("asa1", "monthly_02")
	r.Finish(errors.New("enable rejected"))
	require.Equal(t, "enable rejected", r.Error)
	require.True(t, r.Failed())
	require.GreaterOrEqual(t, r.Seconds, 0.0)
}
