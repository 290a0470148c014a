package main

import (
	"context"
	"fmt"
	"os"

	"asabackup/pkg/define"
	"asabackup/pkg/filesystem"
	"asabackup/pkg/ssh"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

var keygenCmd = cli.Command{
	Name:        "keygen",
	Usage:       "generate the ed25519 login identity",
	UsageText:   define.AppName + " keygen [flags]",
	Description: "writes the private key used for device login; authorize the printed public key on the firewalls",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  define.FlagFile,
			Usage: "private key location",
			Value: define.DefaultSSHKeyFile,
		},
		&cli.BoolFlag{
			Name:  define.FlagForce,
			Usage: "replace an existing key",
		},
	},
	Action: generateKey,
}

func generateKey(ctx context.Context, command *cli.Command) error {
	path, err := filesystem.ExpandHome(command.String(define.FlagFile))
	if err != nil {
		return err
	}

	exists, err := filesystem.PathExists(path)
	if err != nil {
		return err
	}
	if exists {
		if !command.Bool(define.FlagForce) {
			return fmt.Errorf("%s already exists, pass --%s to replace it", path, define.FlagForce)
		}
		for _, p := range []string{path, path + ".pub"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove old key %s: %w", p, err)
			}
		}
	}

	kp, err := ssh.GenerateKeyPair(path)
	if err != nil {
		return err
	}

	logrus.Infof("private key: %s", kp.PrivateKeyPath())
	logrus.Infof("public key: %s, authorize it on the devices", kp.PublicKeyPath())
	return nil
}
