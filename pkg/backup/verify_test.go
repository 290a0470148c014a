package backup

import (
	"os"
	"path/filepath"
	"testing"

	"asabackup/pkg/device"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestVerifyUnit(t *testing.T) {
	dir := t.TempDir()
	u := device.Unit{Kind: device.KindTechSupport, Filename: "tech-support_daily_1.txt"}

	require.ErrorContains(t, verifyUnit(dir, u), "not found")

	path := filepath.Join(dir, u.Filename)
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	require.ErrorContains(t, verifyUnit(dir, u), "empty")

	require.NoError(t, os.WriteFile(path, []byte("Cisco Adaptive Security Appliance\n"), 0o600))
	require.NoError(t, verifyUnit(dir, u))
}

func TestCompareLegacyConfigsWarnsOnDrift(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("running-config_daily_2.cfg", "hostname asa1\nsnmp-server enable\nCryptochecksum: aabbccdd\n")
	write("startup-config_daily_2.cfg", "hostname asa1\nCryptochecksum: 11223344\n")

	logger, hook := logtest.NewNullLogger()
	compareLegacyConfigs(logger.WithField("firewall", "asa1"), dir, "daily_2")

	require.NotEmpty(t, hook.Entries)
	last := hook.LastEntry()
	require.Equal(t, logrus.WarnLevel, last.Level)
	require.Contains(t, last.Message, "unsaved changes")
	require.Contains(t, last.Message, "+snmp-server enable")
}

func TestCompareLegacyConfigsQuietWhenChecksumsMatch(t *testing.T) {
	dir := t.TempDir()
	body := "hostname asa1\nCryptochecksum: aabbccdd\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "running-config_daily_4.cfg"), []byte(body), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "startup-config_daily_4.cfg"), []byte(body), 0o600))

	logger, hook := logtest.NewNullLogger()
	compareLegacyConfigs(logger.WithField("firewall", "asa1"), dir, "daily_4")

	for _, e := range hook.Entries {
		require.NotEqual(t, logrus.WarnLevel, e.Level)
	}
}

func TestCompareLegacyConfigsToleratesMissingArtifacts(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	compareLegacyConfigs(logger.WithField("firewall", "asa1"), t.TempDir(), "daily_5")
	require.Empty(t, hook.Entries)
}
