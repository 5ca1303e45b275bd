package server

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const LogLevelOff = "off"

// ParseLogLevel accepts the logrus level names plus "off", which maps to the panic level
func ParseLogLevel(level string) (logrus.Level, error) {
	if strings.EqualFold(level, LogLevelOff) {
		return logrus.PanicLevel, nil
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, errors.Wrapf(err, "expected one of off, error, warn, info, debug, trace")
	}
	return parsed, nil
}

// ConfigureLogging applies level to the standard logger. Output is discarded entirely for "off".
func ConfigureLogging(level string) error {
	parsed, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if strings.EqualFold(level, LogLevelOff) {
		out = io.Discard
	}
	logrus.SetOutput(out)
	logrus.SetLevel(parsed)
	return nil
}
