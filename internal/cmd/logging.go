// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package cmd

import (
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/virtualcable/udsactor/internal/logging"
)

// Log supplies the necessary functionality for Commands that wish to set
// up logging.
type Log struct {
	// DefaultConfig is used to set the default logging configuration
	// when neither --debug nor --logging-config is given.
	DefaultConfig string

	Verbose bool
	Debug   bool
	Config  string
}

// AddFlags adds appropriate flags to f.
func (l *Log) AddFlags(f *gnuflag.FlagSet) {
	f.BoolVar(&l.Verbose, "verbose", false, "Show more verbose output")
	f.BoolVar(&l.Verbose, "v", false, "")
	f.BoolVar(&l.Debug, "debug", false, "Equivalent to --logging-config=<root>=DEBUG")
	f.StringVar(&l.Config, "logging-config", l.DefaultConfig, "Specify log levels for modules")
}

// Start configures the loggers and directs their output to the context
// stderr.
func (l *Log) Start(ctx *Context) error {
	config := l.Config
	switch {
	case l.Debug:
		config = "<root>=DEBUG"
	case l.Verbose && config == l.DefaultConfig:
		config = "<root>=INFO"
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(ctx.Stderr, loggo.DefaultFormatter)); err != nil {
		return err
	}
	return logging.Configure(config)
}
