// Package log configures the process-wide logrus logger and hands out
// per-component entries.
package log

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Setup applies the level ("debug", "info", ...) and format ("text" or
// "json") to the standard logrus logger.
func Setup(level, format string) error {
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return errors.Wrap(err, "log: bad level")
		}
		logrus.SetLevel(lvl)
	}

	switch strings.ToLower(format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("log: unknown format %q", format)
	}
	return nil
}

// SetOutput redirects the standard logger, mostly for tests.
func SetOutput(w io.Writer) {
	logrus.SetOutput(w)
}

// Component returns an entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
