// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package logging configures the process wide loggo context.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
)

var logger = loggo.GetLogger("udsactor.logging")

const (
	// LoggingConfigEnvKey overrides the configured logging specification.
	LoggingConfigEnvKey = "UDSACTOR_LOGGING_CONFIG"

	// DefaultLoggingConfig is used when nothing else is configured.
	DefaultLoggingConfig = "<root>=INFO"

	// LogFilename is the name of the rotating log file in the log
	// directory.
	LogFilename = "udsactor.log"

	fileWriterName = "file"
)

// Configure sets the logger levels from the environment override, the
// given specification or the default, in that order.
func Configure(spec string) error {
	if override := os.Getenv(LoggingConfigEnvKey); override != "" {
		spec = override
	}
	if spec == "" {
		spec = DefaultLoggingConfig
	}
	loggo.DefaultContext().ResetLoggerLevels()
	if err := loggo.ConfigureLoggers(spec); err != nil {
		return errors.Annotatef(err, "configuring logging %q", spec)
	}
	logger.Debugf("logging config set to %q", spec)
	return nil
}

// FileConfig describes the rotating log file.
type FileConfig struct {
	LogDir     string
	MaxSizeMB  int
	MaxBackups int
}

// AddFileWriter adds a rotating file writer to the default context. The
// returned closer flushes and closes the file.
func AddFileWriter(config FileConfig) (io.Closer, error) {
	if config.LogDir == "" {
		return nil, errors.NotValidf("empty log directory")
	}
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return nil, errors.Annotate(err, "creating log directory")
	}
	if config.MaxSizeMB == 0 {
		config.MaxSizeMB = 10
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 5
	}
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, LogFilename),
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		Compress:   true,
	}
	if err := loggo.RegisterWriter(fileWriterName, loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		_ = writer.Close()
		return nil, errors.Annotate(err, "configuring file logging")
	}
	logger.Debugf("logging to %q, max size %d MB, max backups %d", writer.Filename, writer.MaxSize, writer.MaxBackups)
	return closerFunc(func() error {
		_, _ = loggo.RemoveWriter(fileWriterName)
		return writer.Close()
	}), nil
}

// UseFileOnly replaces the default stderr writer, for processes without
// a console.
func UseFileOnly() {
	_, _ = loggo.RemoveWriter(loggo.DefaultWriterName)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
