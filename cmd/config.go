package main

import (
	"context"
	"fmt"
	"os"

	"asabackup/pkg/config"
	"asabackup/pkg/define"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var configCmd = cli.Command{
	Name:      "config",
	Usage:     "manage the fleet configuration file",
	UsageText: define.AppName + " config [command]",
	Commands: []*cli.Command{
		{
			Name:   "init",
			Usage:  "write a commented starter fleet file",
			Action: configInit,
		},
		{
			Name:        "show",
			Usage:       "print the resolved per-firewall configuration",
			Description: "prints every firewall with defaults applied, the way the run command will see it",
			Action:      configShow,
		},
	},
}

func configInit(ctx context.Context, command *cli.Command) error {
	path, err := config.WriteDefault(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	logrus.Infof("fleet configuration written to %s, edit it before the first run", path)
	return nil
}

func configShow(ctx context.Context, command *cli.Command) error {
	cfg, err := config.Load(command.String(define.FlagConfig))
	if err != nil {
		return err
	}

	out, err := cfg.Dump()
	if err != nil {
		return err
	}

	_, err = fmt.Fprint(os.Stdout, out)
	return err
}
