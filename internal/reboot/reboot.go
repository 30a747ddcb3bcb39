// Copyright 2026 Canonical Ltd.
// Copyright 2014 Cloudbase Solutions SRL
// Licensed under the AGPLv3.

// Package reboot schedules a machine restart.
package reboot

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("udsactor.reboot")

// DefaultDelay is how many seconds the OS waits before restarting, so
// that the service can report its stop.
const DefaultDelay = 15

// Exit statuses of shutdown.exe meaning a restart is already on its way.
const (
	errorShutdownInProgress  = 1115
	errorShutdownIsScheduled = 1190
)

// Runner runs a command to completion. A failing command returns an
// error exposing its exit status through an ExitCode method, as
// *exec.ExitError does.
type Runner func(ctx context.Context, args []string) error

func runCommand(ctx context.Context, args []string) error {
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return errors.Annotatef(err, "running %q: %s", args[0], out)
	}
	return nil
}

// Rebooter asks the OS for a forced restart. It returns as soon as the
// restart is scheduled; the process may be terminated at any point
// afterwards.
type Rebooter struct {
	run   Runner
	goos  string
	delay int
}

// New returns a rebooter running the OS shutdown command.
func New() *Rebooter {
	return &Rebooter{run: runCommand, goos: runtime.GOOS, delay: DefaultDelay}
}

// NewWithRunner returns a rebooter using the given runner.
func NewWithRunner(run Runner, delay int) *Rebooter {
	return &Rebooter{run: run, goos: runtime.GOOS, delay: delay}
}

// Reboot schedules the restart.
func (r *Rebooter) Reboot(ctx context.Context) error {
	args := Command(r.goos, r.delay)
	logger.Infof("scheduling reboot: %v", args)
	if err := r.run(ctx, args); err != nil {
		if r.alreadyScheduled(err) {
			logger.Infof("reboot already scheduled")
			return nil
		}
		return errors.Annotate(err, "scheduling reboot")
	}
	return nil
}

func (r *Rebooter) alreadyScheduled(err error) bool {
	if r.goos != "windows" {
		return false
	}
	var exit interface{ ExitCode() int }
	if !errors.As(err, &exit) {
		return false
	}
	switch exit.ExitCode() {
	case errorShutdownInProgress, errorShutdownIsScheduled:
		return true
	}
	return false
}

// Command returns the command line restarting the machine after delay
// seconds.
func Command(goos string, delay int) []string {
	if goos == "windows" {
		return []string{"shutdown.exe", "-f", "-r", "-t", strconv.Itoa(delay)}
	}
	// shutdown(8) counts in minutes.
	minutes := (delay + 59) / 60
	return []string{"shutdown", "-r", "+" + strconv.Itoa(minutes)}
}
