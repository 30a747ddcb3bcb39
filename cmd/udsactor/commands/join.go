// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"bytes"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/cmd"
)

const joinDoc = `
Records the computer name and domain the machine must end up with. The
request replaces any previous one and is applied the next time the actor
starts, which may take several reboots.

The password of the joining account is read from --password-file, or from
standard input when the file is "-".

Examples:

    udsactor join --name WKS01 --domain corp.local --account joiner --password-file -
    udsactor join --name WKS01 --domain corp.local --ou "OU=VDI,DC=corp,DC=local" \
        --account joiner --password-file C:\join.txt --multi-step
`

type joinCommand struct {
	agentCommand

	intent       identity.JoinIntent
	passwordFile cmd.FileVar
	multiStep    bool
}

func newJoinCommand(log *cmd.Log) cmd.Command {
	return &joinCommand{agentCommand: agentCommand{log: log}}
}

// Info is part of the cmd.Command interface.
func (c *joinCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "join",
		Purpose: "request a computer name and domain membership",
		Doc:     joinDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *joinCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	f.StringVar(&c.intent.TargetName, "name", "", "computer name to apply")
	f.StringVar(&c.intent.Domain, "domain", "", "domain to join")
	f.StringVar(&c.intent.OrganizationalUnit, "ou", "", "organizational unit of the machine account")
	f.StringVar(&c.intent.Account, "account", "", "account allowed to join machines to the domain")
	f.Var(&c.passwordFile, "password-file", "file holding the password of the account")
	f.BoolVar(&c.multiStep, "multi-step", false, "rename and join in separate reboots")
}

// Init is part of the cmd.Command interface.
func (c *joinCommand) Init(args []string) error {
	if c.multiStep {
		c.intent.Strategy = identity.MultiStep
	}
	if err := c.intent.Validate(); err != nil {
		return errors.Trace(err)
	}
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *joinCommand) Run(ctx *cmd.Context) error {
	intent := c.intent
	if c.passwordFile.Path != "" {
		data, err := c.passwordFile.Read(ctx)
		if err != nil {
			return errors.Annotate(err, "reading password")
		}
		intent.Secret = bytes.TrimRight(data, "\r\n")
	}

	config, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	controller, err := newIdentityController(config)
	if err != nil {
		return errors.Trace(err)
	}
	err = withLock(ctx, func() error {
		return controller.RequestJoin(intent)
	})
	if err != nil {
		return errors.Trace(err)
	}
	ctx.Infof("join of %q to domain %q recorded, it is applied when the actor next starts", intent.TargetName, intent.Domain)
	return nil
}
