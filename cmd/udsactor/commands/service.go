// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/virtualcable/udsactor/internal/cmd"
	"github.com/virtualcable/udsactor/internal/logging"
	"github.com/virtualcable/udsactor/service/windows"
)

const serviceDoc = `
Runs the actor under the Windows service control manager. The service
manager starts this command; it is not meant to be run by hand.
`

type serviceCommand struct {
	agentCommand
}

func newServiceCommand(log *cmd.Log) cmd.Command {
	return &serviceCommand{agentCommand{log: log}}
}

// Info is part of the cmd.Command interface.
func (c *serviceCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "service",
		Purpose: "run as the " + windows.ServiceName + " Windows service",
		Doc:     serviceDoc,
	}
}

// Init is part of the cmd.Command interface.
func (c *serviceCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *serviceCommand) Run(ctx *cmd.Context) error {
	config, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	closer, err := logging.AddFileWriter(logging.FileConfig{LogDir: config.LogDir})
	if err != nil {
		return errors.Trace(err)
	}
	defer closer.Close()
	// There is no console under the service manager.
	logging.UseFileOnly()

	params, err := newActorParams(config, ctx.AbsPath(c.configPath))
	if err != nil {
		return errors.Trace(err)
	}
	serviceConfig := windows.Config{
		NewLoop: func() (worker.Worker, error) {
			return startActor(params)
		},
		Events:      params.Events,
		SessionUser: params.Machine.SessionUser,
	}
	if eventLog, err := windows.OpenEventLog(); err != nil {
		logger.Warningf("%v", err)
	} else {
		defer eventLog.Close()
		serviceConfig.EventLog = eventLog
	}

	service, err := windows.NewService(serviceConfig)
	if err != nil {
		return errors.Trace(err)
	}
	return windows.Serve(service)
}
