package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"asabackup/pkg/config"
	"asabackup/pkg/define"
	"asabackup/pkg/device"
	"asabackup/pkg/expect"
	"asabackup/pkg/filesystem"
	"asabackup/pkg/probes"
	"asabackup/pkg/report"
	"asabackup/pkg/retention"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// session is the part of device.Session the orchestrator drives,
// narrow enough to script in tests.
type session interface {
	Elevate(ctx context.Context, level int) error
	ProbeFacts(ctx context.Context) (device.Facts, error)
	Execute(ctx context.Context, u device.Unit) error
	Close() error
}

type connectFunc func(ctx context.Context, cfg device.Config) (session, error)

// Orchestrator runs the whole backup pipeline for one firewall.
type Orchestrator struct {
	fw      config.Firewall
	secret  string
	log     *logrus.Entry
	connect connectFunc
}

// New builds the orchestrator for one resolved firewall. The secret is
// the device's enable password and backup passphrase in one.
func New(fw config.Firewall, secret string) *Orchestrator {
	return &Orchestrator{
		fw:     fw,
		secret: secret,
		log:    logrus.WithField("firewall", fw.Name),
		connect: func(ctx context.Context, cfg device.Config) (session, error) {
			s, err := device.Connect(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// Run executes one backup run and always returns the run record, even
// when it aborted early. Unit failures do not stop the run; the error
// summarizes anything that kept the run from completing cleanly. The
// whole run is bounded by the configured run timeout.
func (o *Orchestrator) Run(ctx context.Context) (*report.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, o.fw.RunTimeout.Std())
	defer cancel()

	suffix := retention.Slot(time.Now())
	run := report.New(o.fw.Name, suffix)
	destDir := filepath.Join(o.fw.BackupDir, o.fw.Name)
	o.log.Infof("run %s starting, retention slot %s", run.ID, suffix)

	err := o.execute(ctx, run, destDir, suffix)
	run.Finish(err)

	if _, werr := run.WriteFile(destDir); werr != nil {
		o.log.Warnf("run report not written: %v", werr)
	}
	run.Log(o.log)

	if err != nil {
		return run, err
	}
	if run.Failed() {
		return run, fmt.Errorf("backup of %s incomplete", o.fw.Name)
	}
	return run, nil
}

// execute walks the pipeline up to the last unit. Errors returned here
// aborted the run; per-unit failures are recorded on run instead.
func (o *Orchestrator) execute(ctx context.Context, run *report.Run, destDir, suffix string) error {
	if err := filesystem.EnsureDir(destDir); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(destDir, define.LockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s is locked, another run is active", destDir)
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil {
			o.log.Debugf("release run lock: %v", uerr)
		}
	}()

	if err := o.preflight(ctx); err != nil {
		return fmt.Errorf("preflight for %s: %w", o.fw.Addr(), err)
	}

	transcript, err := os.OpenFile(
		filepath.Join(destDir, fmt.Sprintf("session_%s.log", suffix)),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open session transcript: %w", err)
	}
	defer transcript.Close()
	redactor := expect.NewRedactWriter(transcript, o.secret)
	defer redactor.Close()

	sess, err := o.connect(ctx, device.Config{
		Addr:        o.fw.Addr(),
		User:        o.fw.Username,
		KeyPath:     o.keyPath(),
		Secret:      o.secret,
		ConnTimeout: o.fw.ConnTimeout.Std(),
		ReadTimeout: o.fw.ReadTimeout.Std(),
		Transcript:  redactor,
		Log:         o.log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			o.log.Debugf("close session: %v", cerr)
		}
	}()

	if err := sess.Elevate(ctx, o.fw.EnableLevel); err != nil {
		return err
	}

	facts, err := sess.ProbeFacts(ctx)
	if err != nil {
		return err
	}
	run.Facts = &facts

	units := PlanUnits(facts, suffix, Target{
		User:   o.fw.BackupUser,
		Secret: o.secret,
		Host:   o.fw.BackupHost,
		Dir:    destDir,
	})
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run deadline reached before %s: %w", u.Label(), err)
		}
		run.Record(o.runUnit(ctx, sess, destDir, u))
	}

	if !facts.SupportsNativeBackup() {
		compareLegacyConfigs(o.log, destDir, suffix)
	}
	return nil
}

// runUnit executes and verifies one planned artifact. Failures are
// recorded, not returned: the remaining units still deserve a try.
func (o *Orchestrator) runUnit(ctx context.Context, sess session, destDir string, u device.Unit) report.UnitResult {
	o.log.Infof("capturing %s", u.Label())
	started := time.Now()

	err := sess.Execute(ctx, u)
	if err == nil {
		err = verifyUnit(destDir, u)
	}

	res := report.UnitResult{
		Label:    u.Label(),
		Kind:     string(u.Kind),
		Filename: u.Filename,
		Seconds:  time.Since(started).Seconds(),
	}
	switch {
	case err == nil:
		res.Status = report.StatusOK
	case errors.Is(err, device.ErrUnsupportedOperation):
		res.Status = report.StatusSkipped
		res.Error = err.Error()
		o.log.Warnf("%s skipped: %v", u.Label(), err)
	default:
		res.Status = report.StatusFailed
		res.Error = err.Error()
		o.log.Errorf("%s failed: %v", u.Label(), err)
	}
	return res
}

// preflight confirms the device is resolvable and reachable before
// anything touches the destination directory's artifact set.
func (o *Orchestrator) preflight(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.fw.ConnTimeout.Std())
	defer cancel()
	return probes.WaitAll(ctx, probes.NewDNSProbe(o.fw.Hostname), probes.NewTCPProbe(o.fw.Addr()))
}

func (o *Orchestrator) keyPath() string {
	path, err := filesystem.ExpandHome(o.fw.SSHKey)
	if err != nil {
		o.log.Warnf("ssh key path: %v", err)
		return ""
	}
	return path
}
