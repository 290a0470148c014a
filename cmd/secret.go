package main

import (
	"bytes"
	"context"
	"errors"

	"asabackup/pkg/define"
	"asabackup/pkg/secret"
	"asabackup/pkg/system"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var secretCmd = cli.Command{
	Name:      "secret",
	Usage:     "manage the device secret",
	UsageText: define.AppName + " secret [command]",
	Commands: []*cli.Command{
		{
			Name:        "set",
			Usage:       "prompt for the secret and store it",
			Description: "the one value used as enable password and backup passphrase; stored owner-readable only",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  define.FlagFile,
					Usage: "secret file location",
					Value: define.DefaultSecretFile,
				},
			},
			Action: secretSet,
		},
	},
}

func secretSet(ctx context.Context, command *cli.Command) error {
	if !system.IsTerminal() {
		return errors.New("secret set needs an interactive terminal, the secret is never taken from arguments")
	}

	first, err := system.ReadSecret("Secret: ")
	if err != nil {
		return err
	}
	second, err := system.ReadSecret("Again: ")
	if err != nil {
		return err
	}

	if !bytes.Equal(first, second) {
		return errors.New("secrets do not match")
	}
	if len(bytes.TrimSpace(first)) == 0 {
		return errors.New("secret is empty")
	}

	path := command.String(define.FlagFile)
	if err := secret.Save(path, string(first)); err != nil {
		return err
	}

	logrus.Infof("secret stored in %s", path)
	return nil
}
