package main

import (
	"fmt"
	"os"
	"strings"

	"asabackup/pkg/define"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func setLogrus(command *cli.Command) error {
	level, err := logrus.ParseLevel(command.String(define.FlagLogLevel))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", command.String(define.FlagLogLevel), err)
	}
	logrus.SetLevel(level)

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		ForceColors:     true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logrus.SetOutput(os.Stderr)

	return nil
}

func versionString() string {
	var version strings.Builder
	if define.Version != "" {
		version.WriteString(define.Version)
	} else {
		version.WriteString("unknown")
	}

	version.WriteString("-")

	if define.CommitID != "" {
		version.WriteString(define.CommitID)
	} else {
		version.WriteString("(unknown)")
	}

	return version.String()
}
