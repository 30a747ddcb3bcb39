// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package simplesignalhandler provides a worker that turns the first
// process signal it receives into the error it stops with.
package simplesignalhandler

import (
	"os"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
)

const (
	// ErrInterrupted is the stop error for an interactive interrupt.
	ErrInterrupted = errors.ConstError("interrupted")

	// ErrTerminated is the stop error for a termination request.
	ErrTerminated = errors.ConstError("terminated")
)

// IsStopRequest reports whether err is one of the stop errors of this
// package.
func IsStopRequest(err error) bool {
	return errors.Is(err, ErrInterrupted) || errors.Is(err, ErrTerminated)
}

// DefaultStopErrors maps the console stop signals to their stop errors.
func DefaultStopErrors() map[os.Signal]error {
	return map[os.Signal]error{
		os.Interrupt:    ErrInterrupted,
		syscall.SIGTERM: ErrTerminated,
	}
}

// Logger is the logging interface used by the watcher.
type Logger interface {
	Infof(string, ...interface{})
}

// Config holds the configuration of a Watcher.
type Config struct {
	Logger  Logger
	Signals <-chan os.Signal

	// Errors maps signals to stop errors. Signals missing from it stop
	// the watcher with Default.
	Errors  map[os.Signal]error
	Default error
}

// Validate ensures the config is usable.
func (config Config) Validate() error {
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.Signals == nil {
		return errors.NotValidf("nil Signals")
	}
	if config.Default == nil {
		return errors.NotValidf("nil Default")
	}
	return nil
}

// stopError returns the error the watcher stops with for sig.
func (config Config) stopError(sig os.Signal) error {
	if err, ok := config.Errors[sig]; ok && err != nil {
		return err
	}
	return config.Default
}

// Watcher is a worker stopping with the stop error of the first signal
// it receives.
type Watcher struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWatcher starts a watcher for config.
func NewWatcher(config Config) (*Watcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Watcher{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "signal-watcher",
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Watcher) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Watcher) Wait() error {
	return w.catacomb.Wait()
}

func (w *Watcher) loop() error {
	select {
	case <-w.catacomb.Dying():
		return w.catacomb.ErrDying()
	case sig, ok := <-w.config.Signals:
		if !ok {
			return errors.New("signal channel closed")
		}
		err := w.config.stopError(sig)
		w.config.Logger.Infof("%v received, stopping: %v", sig, err)
		return err
	}
}
