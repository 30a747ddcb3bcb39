// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/internal/cmd"
	"github.com/virtualcable/udsactor/internal/logging"
	"github.com/virtualcable/udsactor/internal/worker/simplesignalhandler"
)

const runDoc = `
Runs the actor in the foreground until interrupted. The actor applies any
recorded domain join, listens for session notifications and serves the
broker endpoint, exactly as the service does.
`

var (
	newActor = func(config agent.Config, configPath string) (worker.Worker, error) {
		params, err := newActorParams(config, configPath)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return startActor(params)
	}
	notifySignals = func(ch chan<- os.Signal) func() {
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		return func() { signal.Stop(ch) }
	}
)

type runCommand struct {
	agentCommand
}

func newRunCommand(log *cmd.Log) cmd.Command {
	return &runCommand{agentCommand{log: log}}
}

// Info is part of the cmd.Command interface.
func (c *runCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run",
		Purpose: "run the actor in the foreground",
		Doc:     runDoc,
	}
}

// Init is part of the cmd.Command interface.
func (c *runCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *runCommand) Run(ctx *cmd.Context) error {
	config, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	closer, err := logging.AddFileWriter(logging.FileConfig{LogDir: config.LogDir})
	if err != nil {
		return errors.Trace(err)
	}
	defer closer.Close()

	sigCh := make(chan os.Signal, 1)
	stop := notifySignals(sigCh)
	defer stop()

	w, err := newActor(config, ctx.AbsPath(c.configPath))
	if err != nil {
		return errors.Annotate(err, "starting actor")
	}
	ctx.Infof("actor running, interrupt to stop")
	return runUntilSignalled(w, sigCh)
}

// runUntilSignalled waits for w to stop on its own, or stops it when a
// signal arrives.
func runUntilSignalled(w worker.Worker, sigCh <-chan os.Signal) error {
	watcher, err := simplesignalhandler.NewWatcher(simplesignalhandler.Config{
		Logger:  logger,
		Signals: sigCh,
		Errors:  simplesignalhandler.DefaultStopErrors(),
		Default: simplesignalhandler.ErrTerminated,
	})
	if err != nil {
		w.Kill()
		_ = w.Wait()
		return errors.Trace(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Wait()
	}()
	signalled := make(chan error, 1)
	go func() {
		signalled <- watcher.Wait()
	}()

	select {
	case err := <-done:
		watcher.Kill()
		<-signalled
		return errors.Trace(err)
	case err := <-signalled:
		if !simplesignalhandler.IsStopRequest(err) {
			logger.Errorf("watching signals: %v", err)
		}
		w.Kill()
		return errors.Trace(<-done)
	}
}
