// Package device drives the interactive admin CLI of an ASA appliance
// over an SSH shell: privilege elevation, capability probing, and the
// per-unit backup dialogues.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"asabackup/pkg/expect"
	"asabackup/pkg/filesystem"
	"asabackup/pkg/ssh"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAuthenticationFailed means the appliance rejected the enable
	// password or denied the requested privilege level. Not retriable.
	ErrAuthenticationFailed = errors.New("authentication rejected by device")
	// ErrUnsupportedOperation means the device does not know the
	// command, e.g. the native backup on a pre-9.3 release.
	ErrUnsupportedOperation = errors.New("operation not supported by device")
	// ErrNotElevated guards operations that require the privileged
	// prompt.
	ErrNotElevated = errors.New("session is not elevated")
)

// promptChars are the characters appliance prompts are built from:
// hostname, partition and config-mode decorations.
const promptChars = `[\w.\-/()]*`

var (
	// promptAnyRe matches a user or privileged prompt at the end of the
	// buffer. Anchoring to the end keeps prompt-looking text inside
	// command output from terminating a dialogue early.
	promptAnyRe  = regexp.MustCompile(`(?:^|[\r\n])` + promptChars + `[>#] ?$`)
	promptExecRe = regexp.MustCompile(`(?:^|[\r\n])` + promptChars + `# ?$`)
	passwordRe   = regexp.MustCompile(`[Pp]assword: ?$`)

	busyRe = throughPrompt(`Device or resource busy`)
)

// throughPrompt anchors base through the next prompt. Terminal rules
// built this way always consume the prompt along with the diagnostic,
// so the next dialogue can never match a stale one.
func throughPrompt(base string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + base + `.*?[\r\n]` + promptChars + `[>#] ?$`)
}

func waitOn(pattern string) expect.Rule {
	return expect.Rule{Pattern: regexp.MustCompile(pattern), Action: expect.ActionWait}
}

func failOn(pattern, reason string, sentinel error) expect.Rule {
	return expect.Rule{Pattern: throughPrompt(pattern), Action: expect.ActionFail, Reason: reason, Err: sentinel}
}

// Config carries what a session needs to reach and drive one appliance.
type Config struct {
	Addr string // host:port
	User string
	// KeyPath is an optional private key for login; when the file is
	// absent the secret doubles as the login password.
	KeyPath string
	// Secret is the enable password and the backup passphrase.
	Secret      string
	ConnTimeout time.Duration
	// ReadTimeout bounds each dialogue; captures and archives on big
	// configs take minutes.
	ReadTimeout time.Duration
	// Transcript, when set, receives every byte the device sends.
	// Callers wrap it in a redactor; command echoes carry secrets.
	Transcript io.Writer
	Log        *logrus.Entry
}

// Session drives the admin CLI of one appliance. Dialogues are
// strictly sequential: the shell has a single foreground context, so a
// session must only ever be used from one goroutine.
type Session struct {
	client *ssh.Client
	ch     *expect.Channel
	eng    *expect.Engine
	log    *logrus.Entry

	secret    string
	elevated  bool
	prompt    *regexp.Regexp
	partition string
}

// Connect dials the appliance, opens a PTY shell, waits out the login
// banner and disables output paging. The returned session is still
// unprivileged; call Elevate next.
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	opts := []ssh.Option{
		ssh.WithUser(cfg.User),
		ssh.WithPassword(cfg.Secret),
		ssh.WithTimeout(cfg.ConnTimeout),
	}
	if cfg.KeyPath != "" {
		if ok, _ := filesystem.PathExists(cfg.KeyPath); ok {
			opts = append(opts, ssh.WithPrivateKey(cfg.KeyPath))
		} else {
			log.Debugf("ssh key %q not found, using password auth only", cfg.KeyPath)
		}
	}

	client, err := ssh.Dial(ctx, cfg.Addr, opts...)
	if err != nil {
		return nil, err
	}
	stream, err := client.Shell(ctx)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	var chOpts []expect.Option
	if cfg.Transcript != nil {
		chOpts = append(chOpts, expect.WithTranscript(cfg.Transcript))
	}
	ch := expect.NewChannel(stream, chOpts...)

	s := &Session{
		client: client,
		ch:     ch,
		eng:    expect.NewEngine(ch, cfg.ReadTimeout, log),
		log:    log,
		secret: cfg.Secret,
		prompt: promptAnyRe,
	}

	// The login banner ends at the first prompt.
	if _, err := ch.Expect(ctx, []*regexp.Regexp{promptAnyRe}, cfg.ConnTimeout); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("waiting for initial prompt on %s: %w", cfg.Addr, err)
	}

	if err := s.disablePaging(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	log.Debugf("session established with %s", cfg.Addr)
	return s, nil
}

// disablePaging turns off interactive paging so long outputs arrive as
// one stream. Pager state is per partition and must be re-sent after a
// changeto.
func (s *Session) disablePaging(ctx context.Context) error {
	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send:  "terminal pager 0",
		Rules: []expect.Rule{s.succeedOnPrompt()},
	}); err != nil {
		return fmt.Errorf("disable paging: %w", err)
	}
	return nil
}

// succeedOnPrompt terminates a dialogue at the current privilege
// level's prompt.
func (s *Session) succeedOnPrompt() expect.Rule {
	return expect.Rule{Pattern: s.prompt, Action: expect.ActionSucceed}
}

// Elevate raises the session to the given privilege level. A rejected
// password re-challenges instead of returning to the prompt, so any
// repeated challenge counts as a rejection.
func (s *Session) Elevate(ctx context.Context, level int) error {
	out, err := s.eng.Run(ctx, expect.Dialogue{
		Send: fmt.Sprintf("enable %d", level),
		Rules: []expect.Rule{
			{Pattern: passwordRe, Action: expect.ActionSucceed},
			{Pattern: promptExecRe, Action: expect.ActionSucceed},
		},
	})
	if err != nil {
		return fmt.Errorf("enable %d: %w", level, err)
	}
	if out.RuleIndex == 1 {
		// Some AAA setups elevate without a challenge.
		s.markElevated()
		return nil
	}

	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send:      s.secret,
		Sensitive: true,
		Rules: []expect.Rule{
			{Pattern: regexp.MustCompile(`(?s)Invalid [Pp]assword.*?[Pp]assword: ?$`),
				Action: expect.ActionFail, Reason: "invalid enable password", Err: ErrAuthenticationFailed},
			{Pattern: passwordRe,
				Action: expect.ActionFail, Reason: "enable password rejected", Err: ErrAuthenticationFailed},
			failOn(`Access denied`, fmt.Sprintf("access denied at level %d", level), ErrAuthenticationFailed),
			{Pattern: promptExecRe, Action: expect.ActionSucceed},
		},
	}); err != nil {
		return fmt.Errorf("elevate to level %d: %w", level, err)
	}

	s.markElevated()
	return nil
}

func (s *Session) markElevated() {
	s.elevated = true
	s.prompt = promptExecRe
}

// run sends one probe command and waits for the prompt. Parsing
// happens on the accumulated output afterwards, so invalid-input noise
// from devices without a given filter is absorbed instead of failing
// the probe.
func (s *Session) run(ctx context.Context, cmd string) (expect.Outcome, error) {
	return s.eng.Run(ctx, expect.Dialogue{
		Send:  cmd,
		Rules: []expect.Rule{s.succeedOnPrompt()},
	})
}

// ProbeFacts interrogates the appliance. Probe order matters: the
// context mode decides the partition later probes run from. A probe
// failure aborts the whole device run, so errors here are fatal to the
// caller.
func (s *Session) ProbeFacts(ctx context.Context) (Facts, error) {
	var facts Facts
	if !s.elevated {
		return facts, ErrNotElevated
	}

	out, err := s.run(ctx, `show version | include ^Cisco.*Appliance.*Version`)
	if err != nil {
		return facts, fmt.Errorf("probe version: %w", err)
	}
	facts.Version, facts.VersionKnown = ParseVersion(out.Output)
	if !facts.VersionKnown {
		s.log.Warn("software version not recognized, assuming a release without the backup command")
	}

	out, err = s.run(ctx, "show mode")
	if err != nil {
		return facts, fmt.Errorf("probe context mode: %w", err)
	}
	mode, ok := parseMode(out.Output)
	if !ok {
		return facts, fmt.Errorf("%w: no context mode in %.120q", expect.ErrUnrecognizedOutput, out.Output)
	}
	facts.Mode = mode

	if facts.Mode == ModeMultiple {
		if err := s.changeTo(ctx, SystemContext); err != nil {
			return facts, err
		}
		out, err = s.run(ctx, "show context")
		if err != nil {
			return facts, fmt.Errorf("probe contexts: %w", err)
		}
		names := parseContexts(out.Output)
		if len(names) == 0 {
			return facts, fmt.Errorf("%w: no contexts in %.120q", expect.ErrUnrecognizedOutput, out.Output)
		}
		facts.Contexts = append([]string{SystemContext}, names...)
	}

	out, err = s.run(ctx, `show failover | include ^Failover`)
	if err != nil {
		return facts, fmt.Errorf("probe failover: %w", err)
	}
	facts.FailoverOn = parseFailover(out.Output)

	if facts.Mode == ModeSingle {
		out, err = s.run(ctx, `show interface inside | include ^Interface`)
		if err != nil {
			return facts, fmt.Errorf("probe inside interface: %w", err)
		}
		facts.InterfaceHack = parseInterfaceHack(out.Output)
	}

	version := "unknown"
	if facts.VersionKnown {
		version = facts.Version.String()
	}
	s.log.WithFields(logrus.Fields{
		"version":     version,
		"mode":        facts.Mode,
		"contexts":    len(facts.Contexts),
		"failover":    facts.FailoverOn,
		"inside_hack": facts.InterfaceHack != "",
	}).Info("device facts probed")

	return facts, nil
}

// changeTo switches the session to the named partition and restores
// the pager setting there.
func (s *Session) changeTo(ctx context.Context, name string) error {
	cmd := "changeto system"
	if name != SystemContext {
		cmd = "changeto context " + name
	}
	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send: cmd,
		Rules: []expect.Rule{
			failOn(`ERROR:`, "changeto rejected", nil),
			s.succeedOnPrompt(),
		},
	}); err != nil {
		return fmt.Errorf("change to partition %s: %w", name, err)
	}
	s.partition = name
	return s.disablePaging(ctx)
}

// Execute runs one backup unit to completion. A unit failure leaves
// the session usable for the remaining units unless the transport
// itself died.
func (s *Session) Execute(ctx context.Context, u Unit) error {
	if !s.elevated {
		return ErrNotElevated
	}
	s.log.WithField("unit", u.Label()).Info("executing backup unit")

	switch u.Kind {
	case KindTechSupport:
		return s.execTechSupport(ctx, u)
	case KindArchive:
		return s.execArchive(ctx, u)
	case KindLegacyConfig:
		return s.execLegacyCopy(ctx, u)
	default:
		return fmt.Errorf("unknown unit kind %q", u.Kind)
	}
}

// execTechSupport writes the diagnostic dump to flash, copies it out
// and cleans the staged file up. Staging is unavoidable: rendering the
// dump straight to a copy destination fails on the device.
func (s *Session) execTechSupport(ctx context.Context, u Unit) error {
	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send: "show tech-support file flash:/" + u.Filename,
		Rules: []expect.Rule{
			failOn(`%Error`, "tech-support capture failed", nil),
			s.succeedOnPrompt(),
		},
	}); err != nil {
		return err
	}

	copyErr := s.copyToDest(ctx, "flash:/"+u.Filename, u.Dest)
	s.removeStaged(ctx, u.Filename)
	return copyErr
}

// execArchive drives the native backup command. The archive is staged
// on flash first (CSCvh02142: backing up straight to a remote URL
// fails), then copied out and removed.
func (s *Session) execArchive(ctx context.Context, u Unit) error {
	cmd := "backup /noconfirm "
	if u.Context != "" {
		cmd += "context " + u.Context + " "
	}
	cmd += "passphrase " + s.secret + " location flash:/" + u.Filename

	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send:      cmd,
		Sensitive: true,
		Rules: []expect.Rule{
			failOn(`Invalid input detected`, "backup command not available", ErrUnsupportedOperation),
			failOn(`%Error`, "backup to flash failed", nil),
			waitOn(`(?mi)^WARNING`),
			waitOn(`Begin backup`),
			waitOn(`Backing up`),
			waitOn(`Compressing`),
			waitOn(`Copying`),
			waitOn(`Cleaning up`),
			waitOn(`Backup finished`),
			s.succeedOnPrompt(),
		},
	}); err != nil {
		if !errors.Is(err, ErrUnsupportedOperation) {
			// The rejected command never created a file; anything else
			// may have left a partial archive behind.
			s.removeStaged(ctx, u.Filename)
		}
		return fmt.Errorf("archive %s: %w", u.Label(), err)
	}

	copyErr := s.copyToDest(ctx, "flash:/"+u.Filename, u.Dest)
	s.removeStaged(ctx, u.Filename)
	return copyErr
}

// execLegacyCopy copies a config object straight to the destination,
// no staging.
func (s *Session) execLegacyCopy(ctx context.Context, u Unit) error {
	return s.copyToDest(ctx, u.Source, u.Dest)
}

// copyToDest drives the device-side copy. The destination URL embeds
// the backup credentials, so the command is masked in logs and the
// transcript redactor covers the echo.
func (s *Session) copyToDest(ctx context.Context, src, dest string) error {
	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send:      fmt.Sprintf("copy /noconfirm %s %s", src, dest),
		Sensitive: true,
		Rules: []expect.Rule{
			failOn(`%Error`, "copy to destination failed", nil),
			waitOn(`Copy in progress`),
			waitOn(`(?m)^INFO:`),
			waitOn(`\d+ bytes copied`),
			s.succeedOnPrompt(),
		},
	}); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

// deleteFlash removes a staged file. The device can hold the file
// briefly after a copy, so a busy answer re-issues the delete, bounded
// by the engine.
func (s *Session) deleteFlash(ctx context.Context, name string) error {
	if _, err := s.eng.Run(ctx, expect.Dialogue{
		Send: "delete /noconfirm flash:/" + name,
		Rules: []expect.Rule{
			{Pattern: busyRe, Action: expect.ActionReissue},
			failOn(`%Error`, "delete from flash failed", nil),
			s.succeedOnPrompt(),
		},
	}); err != nil {
		return fmt.Errorf("delete flash:/%s: %w", name, err)
	}
	return nil
}

// removeStaged is the best-effort flavor of deleteFlash: by the time
// it runs the unit outcome is already decided, so a failure only costs
// flash space and a warning.
func (s *Session) removeStaged(ctx context.Context, name string) {
	if err := s.deleteFlash(ctx, name); err != nil {
		s.log.Warnf("staged file flash:/%s not removed: %v", name, err)
	}
}

// Close ends the remote shell and the connection. Safe to call on any
// error path and more than once.
func (s *Session) Close() error {
	if s.ch != nil {
		// Polite logout; the device drops the line either way.
		_ = s.ch.SendLine("exit")
	}
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.client != nil {
		errs = append(errs, s.client.Close())
	}
	return errors.Join(errs...)
}
