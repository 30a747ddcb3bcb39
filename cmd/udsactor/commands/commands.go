// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package commands implements the udsactor command line.
package commands

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/cmd"
	"github.com/virtualcable/udsactor/internal/lock"
	"github.com/virtualcable/udsactor/internal/logging"
)

var logger = loggo.GetLogger("udsactor.cmd")

// Version is the actor version reported to the broker. It is set at
// link time for release builds.
var Version = "4.0.0"

const udsactorDoc = `
udsactor keeps a virtual desktop in line with the broker: it applies the
machine name and domain membership requested for it, grants remote desktop
access to the user the broker connects, and reports session activity.

Without a subcommand on Windows the service control manager entry point is
used.
`

// IdentityController is the part of the domain join controller used by
// the identity commands.
type IdentityController interface {
	RequestJoin(identity.JoinIntent) error
	Forget() error
	Intent() (identity.JoinIntent, error)
	Observe(ctx context.Context) (identity.State, error)
}

var (
	newIdentityController = func(config agent.Config) (IdentityController, error) {
		return newController(config)
	}
	acquireLock = func(ctx context.Context) (lock.Releaser, error) {
		return lock.Acquire(lock.Config{Cancel: ctx.Done()})
	}
)

// NewUDSActorCommand returns the udsactor super command with every
// subcommand registered.
func NewUDSActorCommand() *cmd.SuperCommand {
	log := &cmd.Log{DefaultConfig: logging.DefaultLoggingConfig}
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "udsactor",
		Purpose: "UDS actor for virtual desktops",
		Doc:     udsactorDoc,
		Log:     log,
		Version: Version,
		NotifyRun: func(name string) {
			logger.Debugf("running %q", name)
		},
	})
	super.Register(newRunCommand(log))
	super.Register(newServiceCommand(log))
	super.Register(newJoinCommand(log))
	super.Register(newStatusCommand(log))
	super.Register(newForgetCommand(log))
	return super
}

// agentCommand is embedded by every command reading the agent config.
type agentCommand struct {
	cmd.CommandBase
	log        *cmd.Log
	configPath string
}

// SetFlags is part of the cmd.Command interface.
func (c *agentCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", agent.ConfigPath(agent.DefaultPaths().DataDir), "path to the agent configuration")
}

// readConfig reads the agent config, falling back to the defaults when
// there is none. The logging-config it carries applies unless logging
// was set on the command line.
func (c *agentCommand) readConfig(ctx *cmd.Context) (agent.Config, error) {
	path := ctx.AbsPath(c.configPath)
	config, err := agent.ReadConfig(path)
	if errors.Is(err, errors.NotFound) {
		logger.Debugf("no agent config at %q, using defaults", path)
		config = agent.DefaultConfig()
	} else if err != nil {
		return agent.Config{}, errors.Trace(err)
	}
	if config.LoggingConfig != "" && c.loggingFromConfig() {
		if err := logging.Configure(config.LoggingConfig); err != nil {
			return agent.Config{}, errors.Trace(err)
		}
	}
	return config, nil
}

func (c *agentCommand) loggingFromConfig() bool {
	if c.log == nil {
		return true
	}
	return !c.log.Debug && !c.log.Verbose && c.log.Config == c.log.DefaultConfig
}

// withLock runs f holding the machine wide identity lock.
func withLock(ctx context.Context, f func() error) error {
	releaser, err := acquireLock(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	defer releaser.Release()
	return f()
}
