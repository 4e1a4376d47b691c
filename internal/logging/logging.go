// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// New returns a logger at level writing text or JSON to stderr. It also
// configures the package-level logrus logger the same way, since libraries
// in this module log through it.
func New(level, format string) (*log.Logger, error) {
	return newWithOutput(level, format, os.Stderr)
}

func newWithOutput(level, format string, out io.Writer) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var f log.Formatter
	switch format {
	case "", "text":
		f = &log.TextFormatter{FullTimestamp: true}
	case "json":
		f = &log.JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := log.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(f)

	log.SetOutput(out)
	log.SetLevel(lvl)
	log.SetFormatter(f)
	return logger, nil
}
