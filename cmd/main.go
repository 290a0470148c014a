package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"asabackup/pkg/define"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.Command{
		Name:                      define.AppName,
		Usage:                     "config backup for a fleet of ASA firewalls",
		UsageText:                 define.AppName + " [command] [flags]",
		Description:               "drives an admin shell on each firewall over SSH, captures tech-support and configuration archives and delivers them to the backup host under retention-slot names",
		Version:                   versionString(),
		Before:                    earlyStage,
		DisableSliceFlagSeparator: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    define.FlagConfig,
				Aliases: []string{"c"},
				Usage:   "fleet configuration file",
				Value:   define.DefaultConfigFile,
			},
			&cli.StringFlag{
				Name:  define.FlagLogLevel,
				Usage: "trace, debug, info, warn or error",
				Value: "info",
			},
		},
	}

	app.Commands = []*cli.Command{
		&runBackup,
		&configCmd,
		&secretCmd,
		&keygenCmd,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func earlyStage(ctx context.Context, command *cli.Command) (context.Context, error) {
	if err := setLogrus(command); err != nil {
		return ctx, err
	}
	ctx, _ = signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	return ctx, nil
}
