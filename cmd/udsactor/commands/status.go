// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/cmd"
)

const statusDoc = `
Shows the recorded domain join request and how far the machine is from it.
The account password is never shown.
`

// StateNotRequested is reported when no join was requested.
const StateNotRequested = "not-requested"

// StatusResult is the output of the status command.
type StatusResult struct {
	State  string        `yaml:"state" json:"state"`
	Reason string        `yaml:"reason,omitempty" json:"reason,omitempty"`
	Intent *IntentResult `yaml:"intent,omitempty" json:"intent,omitempty"`
}

// IntentResult describes a join intent without its secret.
type IntentResult struct {
	TargetName         string `yaml:"name" json:"name"`
	Domain             string `yaml:"domain" json:"domain"`
	OrganizationalUnit string `yaml:"ou,omitempty" json:"ou,omitempty"`
	Account            string `yaml:"account" json:"account"`
	Strategy           string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

type statusCommand struct {
	agentCommand
	out cmd.Output
}

func newStatusCommand(log *cmd.Log) cmd.Command {
	return &statusCommand{agentCommand: agentCommand{log: log}}
}

// Info is part of the cmd.Command interface.
func (c *statusCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "status",
		Purpose: "show the machine identity state",
		Doc:     statusDoc,
	}
}

// SetFlags is part of the cmd.Command interface.
func (c *statusCommand) SetFlags(f *gnuflag.FlagSet) {
	c.agentCommand.SetFlags(f)
	c.out.AddFlags(f, "yaml", cmd.DefaultFormatters)
}

// Init is part of the cmd.Command interface.
func (c *statusCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run is part of the cmd.Command interface.
func (c *statusCommand) Run(ctx *cmd.Context) error {
	config, err := c.readConfig(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	controller, err := newIdentityController(config)
	if err != nil {
		return errors.Trace(err)
	}

	var result StatusResult
	err = withLock(ctx, func() error {
		intent, err := controller.Intent()
		if errors.Is(err, errors.NotFound) {
			result.State = StateNotRequested
			return nil
		} else if err != nil {
			return errors.Trace(err)
		}
		result.Intent = intentResult(intent)

		state, err := controller.Observe(ctx)
		if err != nil && state.Kind != identity.Errored {
			return errors.Trace(err)
		}
		result.State = string(state.Kind)
		if state.Reason != nil {
			result.Reason = state.Reason.Error()
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	return c.out.Write(ctx, result)
}

func intentResult(intent identity.JoinIntent) *IntentResult {
	return &IntentResult{
		TargetName:         intent.TargetName,
		Domain:             intent.Domain,
		OrganizationalUnit: intent.OrganizationalUnit,
		Account:            intent.Account,
		Strategy:           string(intent.Strategy),
	}
}
