package device

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"asabackup/pkg/expect"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// scriptedShell plays the appliance side of a session: each command the
// session sends pops the next canned reply.
type scriptedShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	sent    []string
	replies []string
}

func newScriptedShell(replies ...string) *scriptedShell {
	pr, pw := io.Pipe()
	return &scriptedShell{pr: pr, pw: pw, replies: replies}
}

func (s *scriptedShell) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *scriptedShell) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.sent = append(s.sent, strings.TrimSuffix(string(p), "\n"))
	var reply string
	if len(s.replies) > 0 {
		reply = s.replies[0]
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()
	if reply != "" {
		if _, err := s.pw.Write([]byte(reply)); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *scriptedShell) Close() error { return s.pw.Close() }

func (s *scriptedShell) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// newScriptedSession builds an already privileged session over a
// scripted shell, as if Connect and Elevate had succeeded.
func newScriptedSession(t *testing.T, replies ...string) (*Session, *scriptedShell) {
	t.Helper()
	sh := newScriptedShell(replies...)
	ch := expect.NewChannel(sh)
	t.Cleanup(func() { _ = ch.Close() })
	log := logrus.NewEntry(logrus.StandardLogger())
	return &Session{
		ch:       ch,
		eng:      expect.NewEngine(ch, 2*time.Second, log),
		log:      log,
		secret:   "pw",
		prompt:   promptExecRe,
		elevated: true,
	}, sh
}

func TestElevateSendsSecretAfterChallenge(t *testing.T) {
	s, sh := newScriptedSession(t,
		"enable 15\r\nPassword: ",
		"\r\nasa# ")
	s.elevated = false
	s.prompt = promptAnyRe

	require.NoError(t, s.Elevate(context.Background(), 15))
	require.True(t, s.elevated)
	require.Equal(t, []string{"enable 15", "pw"}, sh.commands())
}

func TestElevateAlreadyPrivileged(t *testing.T) {
	s, sh := newScriptedSession(t, "enable 15\r\nasa# ")
	s.elevated = false
	s.prompt = promptAnyRe

	require.NoError(t, s.Elevate(context.Background(), 15))
	require.True(t, s.elevated)
	// The secret must not be sent without a challenge.
	require.Equal(t, []string{"enable 15"}, sh.commands())
}

func TestElevateAccessDenied(t *testing.T) {
	s, _ := newScriptedSession(t,
		"enable 15\r\nPassword: ",
		"\r\nAccess denied.\r\nasa> ")
	s.elevated = false
	s.prompt = promptAnyRe

	err := s.Elevate(context.Background(), 15)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.False(t, s.elevated)
}

func TestElevateInvalidPassword(t *testing.T) {
	s, _ := newScriptedSession(t,
		"enable 15\r\nPassword: ",
		"\r\nInvalid password\r\nPassword: ")
	s.elevated = false
	s.prompt = promptAnyRe

	err := s.Elevate(context.Background(), 15)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.NotContains(t, err.Error(), "pw")
}

func TestProbeFactsSingleMode(t *testing.T) {
	s, sh := newScriptedSession(t,
		"show version | include ^Cisco.*Appliance.*Version\r\n"+
			"Cisco Adaptive Security Appliance Software Version 9.12(4)8\r\nasa# ",
		"show mode\r\nSecurity context mode: single\r\nasa# ",
		"show failover | include ^Failover\r\nFailover Off\r\nasa# ",
		"show interface inside | include ^Interface\r\n"+
			"Interface GigabitEthernet0/1 \"inside\", is up, line protocol is up\r\nasa# ")

	facts, err := s.ProbeFacts(context.Background())
	require.NoError(t, err)

	require.True(t, facts.VersionKnown)
	require.Equal(t, Version{Major: 9, Minor: 12, Maintenance: 4, Interim: 8}, facts.Version)
	require.Equal(t, ModeSingle, facts.Mode)
	require.Empty(t, facts.Contexts)
	require.False(t, facts.FailoverOn)
	require.Equal(t, InsideInterfaceToken, facts.InterfaceHack)
	require.True(t, facts.SupportsNativeBackup())

	require.Equal(t, []string{
		"show version | include ^Cisco.*Appliance.*Version",
		"show mode",
		"show failover | include ^Failover",
		"show interface inside | include ^Interface",
	}, sh.commands())
}

func TestProbeFactsMultipleMode(t *testing.T) {
	s, sh := newScriptedSession(t,
		"show version | include ^Cisco.*Appliance.*Version\r\n"+
			"Cisco Adaptive Security Appliance Software Version 9.8(2)\r\nasa# ",
		"show mode\r\nSecurity context mode: multiple\r\nasa# ",
		"changeto system\r\nasa# ",
		"terminal pager 0\r\nasa# ",
		"show context\r\n"+
			"Context Name      Class      Interfaces      Mode         URL\r\n"+
			"*admin            default    Management0/0   Routed       disk0:/admin.cfg\r\n"+
			" web1             default    Gi0/1           Routed       disk0:/web1.cfg\r\n"+
			" web2             default    Gi0/2           Routed       disk0:/web2.cfg\r\n"+
			"Total active Security Contexts: 3\r\nasa# ",
		"show failover | include ^Failover\r\nFailover On\r\nasa# ")

	facts, err := s.ProbeFacts(context.Background())
	require.NoError(t, err)

	require.Equal(t, ModeMultiple, facts.Mode)
	require.Equal(t, []string{"system", "admin", "web1", "web2"}, facts.Contexts)
	require.True(t, facts.FailoverOn)
	// The interface probe is a single-mode affair.
	require.Empty(t, facts.InterfaceHack)
	require.NotContains(t, sh.commands(), "show interface inside | include ^Interface")
	require.Contains(t, sh.commands(), "changeto system")
}

func TestProbeFactsUnknownVersionFallsBack(t *testing.T) {
	s, _ := newScriptedSession(t,
		"show version | include ^Cisco.*Appliance.*Version\r\n"+
			"ERROR: % Invalid input detected at '^' marker.\r\nasa# ",
		"show mode\r\nSecurity context mode: single\r\nasa# ",
		"show failover | include ^Failover\r\nFailover Off\r\nasa# ",
		"show interface inside | include ^Interface\r\n"+
			"ERROR: % Invalid input detected at '^' marker.\r\nasa# ")

	facts, err := s.ProbeFacts(context.Background())
	require.NoError(t, err)
	require.False(t, facts.VersionKnown)
	require.False(t, facts.SupportsNativeBackup())
	require.Empty(t, facts.InterfaceHack)
}

func TestProbeFactsRequiresElevation(t *testing.T) {
	s, _ := newScriptedSession(t)
	s.elevated = false

	_, err := s.ProbeFacts(context.Background())
	require.ErrorIs(t, err, ErrNotElevated)
}

func TestExecuteTechSupportStagesCopiesCleans(t *testing.T) {
	s, sh := newScriptedSession(t,
		"show tech-support file flash:/tech-support_daily_3.txt\r\nasa# ",
		"copy /noconfirm ...\r\n"+
			"Copy in progress...CCCC\r\n"+
			"INFO: No digital signature found\r\n"+
			"395891 bytes copied in 5.130 secs (77175 bytes/sec)\r\nasa# ",
		"delete /noconfirm flash:/tech-support_daily_3.txt\r\nasa# ")

	u := Unit{
		Kind:     KindTechSupport,
		Filename: "tech-support_daily_3.txt",
		Dest:     "scp://backup:pw@10.0.0.9/srv/backup/asa/fw1/tech-support_daily_3.txt",
	}
	require.NoError(t, s.Execute(context.Background(), u))

	require.Equal(t, []string{
		"show tech-support file flash:/tech-support_daily_3.txt",
		"copy /noconfirm flash:/tech-support_daily_3.txt " + u.Dest,
		"delete /noconfirm flash:/tech-support_daily_3.txt",
	}, sh.commands())
}

func TestExecuteArchiveSingle(t *testing.T) {
	s, sh := newScriptedSession(t,
		"backup ...\r\n"+
			"Begin backup...\r\n"+
			"Backing up [ASA version] ... Done!\r\n"+
			"Backing up [Running Config] ... Done!\r\n"+
			"Backing up [Startup Config] ... Done!\r\n"+
			"Compressing the backup directory ... Done!\r\n"+
			"Copying Backup ... Done!\r\n"+
			"Cleaning up ... Done!\r\n"+
			"Backup finished!\r\nasa# ",
		"copy ...\r\n12345 bytes copied in 1.2 secs\r\nasa# ",
		"delete ...\r\nasa# ")

	u := Unit{
		Kind:     KindArchive,
		Filename: "backup_daily_3.tar.gz",
		Dest:     "scp://backup:pw@10.0.0.9/srv/backup/asa/fw1/backup_daily_3.tar.gz",
	}
	require.NoError(t, s.Execute(context.Background(), u))

	cmds := sh.commands()
	require.Len(t, cmds, 3)
	require.Equal(t, "backup /noconfirm passphrase pw location flash:/backup_daily_3.tar.gz", cmds[0])
	require.Equal(t, "copy /noconfirm flash:/backup_daily_3.tar.gz "+u.Dest, cmds[1])
	require.Equal(t, "delete /noconfirm flash:/backup_daily_3.tar.gz", cmds[2])
}

func TestExecuteArchiveScopesContext(t *testing.T) {
	s, sh := newScriptedSession(t,
		"backup ...\r\nBegin backup...\r\nBackup finished!\r\nasa# ",
		"copy ...\r\n12345 bytes copied in 1.2 secs\r\nasa# ",
		"delete ...\r\nasa# ")

	u := Unit{
		Kind:     KindArchive,
		Context:  "web1",
		Filename: "backup_web1_daily_3.tar.gz",
		Dest:     "scp://backup:pw@10.0.0.9/srv/backup/asa/fw1/backup_web1_daily_3.tar.gz",
	}
	require.NoError(t, s.Execute(context.Background(), u))
	require.Equal(t,
		"backup /noconfirm context web1 passphrase pw location flash:/backup_web1_daily_3.tar.gz",
		sh.commands()[0])
}

func TestExecuteArchiveUnsupportedSkipsCleanup(t *testing.T) {
	s, sh := newScriptedSession(t,
		"backup ...\r\nERROR: % Invalid input detected at '^' marker.\r\nasa# ")

	u := Unit{Kind: KindArchive, Filename: "backup_daily_3.tar.gz", Dest: "scp://b:pw@h/d/f"}
	err := s.Execute(context.Background(), u)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	// The command was rejected outright: nothing was staged, so no
	// delete must follow.
	require.Len(t, sh.commands(), 1)
}

func TestExecuteArchiveFailureCleansStaged(t *testing.T) {
	s, sh := newScriptedSession(t,
		"backup ...\r\nBegin backup...\r\n%Error backing up: No space left on device\r\nasa# ",
		"delete /noconfirm flash:/backup_daily_3.tar.gz\r\nasa# ")

	u := Unit{Kind: KindArchive, Filename: "backup_daily_3.tar.gz", Dest: "scp://b:pw@h/d/f"}
	err := s.Execute(context.Background(), u)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnsupportedOperation)

	cmds := sh.commands()
	require.Len(t, cmds, 2)
	require.Equal(t, "delete /noconfirm flash:/backup_daily_3.tar.gz", cmds[1])
}

func TestExecuteLegacyCopyHasNoStaging(t *testing.T) {
	s, sh := newScriptedSession(t,
		"copy ...\r\n8192 bytes copied in 0.5 secs\r\nasa# ")

	u := Unit{
		Kind:     KindLegacyConfig,
		Source:   "running-config",
		Filename: "running-config_daily_3.cfg",
		Dest:     "scp://backup:pw@10.0.0.9/srv/backup/asa/fw1/running-config_daily_3.cfg;int=inside",
	}
	require.NoError(t, s.Execute(context.Background(), u))

	require.Equal(t, []string{"copy /noconfirm running-config " + u.Dest}, sh.commands())
}

func TestExecuteRequiresElevation(t *testing.T) {
	s, _ := newScriptedSession(t)
	s.elevated = false

	err := s.Execute(context.Background(), Unit{Kind: KindTechSupport, Filename: "f"})
	require.ErrorIs(t, err, ErrNotElevated)
}
