package main

import (
	"context"
	"fmt"

	"asabackup/pkg/backup"
	"asabackup/pkg/config"
	"asabackup/pkg/define"
	"asabackup/pkg/secret"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

var runBackup = cli.Command{
	Name:        "run",
	Usage:       "back up the selected firewalls",
	UsageText:   define.AppName + " run [flags]",
	Description: "runs the full pipeline per firewall: preflight, session, fact probing, artifact capture, verification and the run report",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:    define.FlagFirewall,
			Aliases: []string{"f"},
			Usage:   "firewall to back up, repeatable; \"" + define.AllFirewalls + "\" or no flag selects the whole fleet",
		},
		&cli.IntFlag{
			Name:  define.FlagParallel,
			Usage: "how many firewalls to back up concurrently",
			Value: 1,
		},
	},
	Action: runBackups,
}

func runBackups(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	fleet, err := cfg.Select(command.StringSlice(define.FlagFirewall))
	if err != nil {
		return err
	}

	parallel := command.Int(define.FlagParallel)
	if parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", parallel)
	}

	// Devices are independent pipelines. One firewall failing must not
	// cancel the others, so no errgroup context here; each run carries
	// its own deadline and reacts to the signal context on its own.
	g := new(errgroup.Group)
	g.SetLimit(parallel)

	for _, fw := range fleet {
		g.Go(func() error {
			sec, err := secret.Load(fw.SecretFile)
			if err != nil {
				logrus.WithField("firewall", fw.Name).Error(err)
				return err
			}
			_, err = backup.New(fw, sec).Run(ctx)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("fleet run incomplete: %w", err)
	}

	logrus.Infof("all %d firewall(s) backed up", len(fleet))
	return nil
}
