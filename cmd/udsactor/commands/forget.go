// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"github.com/juju/errors"

	"github.com/virtualcable/udsactor/internal/cmd"
)

type forgetCommand struct {
	agentCommand
}

func newForgetCommand(log *cmd.Log) cmd.Command {
	return &forgetCommand{agentCommand{log: log}}
}

// Info is part of the cmd.Command interface.
func (c *forgetCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "forget",
		Purpose: "drop the recorded domain join request",
		Doc:     "\nThe machine keeps its current name and domain membership.\n",
	}
}

// Init is part of the cmd.Command interface.
func (c *forgetCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *forgetCommand) Run(ctx *cmd.Context) error {
	config, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	controller, err := newIdentityController(config)
	if err != nil {
		return errors.Trace(err)
	}
	if err := withLock(ctx, controller.Forget); err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("join request dropped")
	return nil
}
