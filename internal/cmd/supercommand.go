// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package cmd

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
)

// SuperCommandParams provides a way to have default parameter to the
// NewSuperCommand call.
type SuperCommandParams struct {
	Name    string
	Purpose string
	Doc     string

	// Log holds the Log value associated with the supercommand. If it's
	// nil, no logging flags will be configured.
	Log *Log

	// Version, if set, adds a version subcommand and --version flag.
	Version string

	// NotifyRun, if not nil, is called when the SuperCommand is about
	// to run a sub-command.
	NotifyRun func(cmdName string)
}

// NewSuperCommand creates and initializes a new SuperCommand.
func NewSuperCommand(params SuperCommandParams) *SuperCommand {
	command := &SuperCommand{
		Name:      params.Name,
		Purpose:   params.Purpose,
		Doc:       params.Doc,
		Log:       params.Log,
		version:   params.Version,
		notifyRun: params.NotifyRun,
	}
	command.init()
	return command
}

type commandReference struct {
	name    string
	command Command
	alias   string
}

// SuperCommand is a Command that selects a subcommand and assumes its
// properties; any command line arguments that were not used in
// selecting the subcommand are passed down to it, and to Run a
// SuperCommand is to run its selected subcommand.
type SuperCommand struct {
	CommandBase
	Name    string
	Purpose string
	Doc     string
	Log     *Log

	version     string
	subcmds     map[string]commandReference
	help        *helpCommand
	commonflags *gnuflag.FlagSet
	action      commandReference
	showHelp    bool
	showVersion bool
	notifyRun   func(string)
}

// IsSuperCommand implements Command.IsSuperCommand
func (c *SuperCommand) IsSuperCommand() bool {
	return true
}

func (c *SuperCommand) init() {
	if c.subcmds != nil {
		return
	}
	c.help = &helpCommand{super: c}
	c.subcmds = map[string]commandReference{
		"help": {name: "help", command: c.help},
	}
	if c.version != "" {
		c.subcmds["version"] = commandReference{
			name:    "version",
			command: &versionCommand{version: c.version},
		}
	}
}

// Register makes a subcommand available for use on the command line.
// The command will be available via its own name, and via any supplied
// aliases.
func (c *SuperCommand) Register(subcmd Command) {
	info := subcmd.Info()
	c.insert(commandReference{name: info.Name, command: subcmd})
	for _, name := range info.Aliases {
		c.insert(commandReference{name: name, command: subcmd, alias: info.Name})
	}
}

func (c *SuperCommand) insert(value commandReference) {
	if _, found := c.subcmds[value.name]; found {
		panic(fmt.Sprintf("command already registered: %q", value.name))
	}
	c.subcmds[value.name] = value
}

// describeCommands returns a short description of each registered
// subcommand.
func (c *SuperCommand) describeCommands() map[string]string {
	result := make(map[string]string, len(c.subcmds))
	for name, action := range c.subcmds {
		purpose := action.command.Info().Purpose
		if action.alias != "" {
			purpose = "Alias for '" + action.alias + "'."
		}
		result[name] = purpose
	}
	return result
}

// Info returns a description of the currently selected subcommand, or
// of the SuperCommand itself if no subcommand has been specified.
func (c *SuperCommand) Info() *Info {
	if c.action.command != nil {
		info := *c.action.command.Info()
		info.Name = fmt.Sprintf("%s %s", c.Name, info.Name)
		return &info
	}
	return &Info{
		Name:        c.Name,
		Args:        "<command> ...",
		Purpose:     c.Purpose,
		Doc:         strings.TrimSpace(c.Doc),
		Subcommands: c.describeCommands(),
	}
}

const helpPurpose = "Show help on a command or other topic."

// SetCommonFlags creates a new "commonflags" flagset, whose flags are
// shared with the argument f; this enables us to add non-global flags
// to f, which do not carry into subcommands.
func (c *SuperCommand) SetCommonFlags(f *gnuflag.FlagSet) {
	if c.Log != nil {
		c.Log.AddFlags(f)
	}
	f.BoolVar(&c.showHelp, "h", false, helpPurpose)
	f.BoolVar(&c.showHelp, "help", false, "")
	c.commonflags = gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	c.commonflags.SetOutput(io.Discard)
	f.VisitAll(func(flag *gnuflag.Flag) {
		c.commonflags.Var(flag.Value, flag.Name, flag.Usage)
	})
}

// SetFlags adds the options that apply to all commands, particularly
// those due to logging.
func (c *SuperCommand) SetFlags(f *gnuflag.FlagSet) {
	c.SetCommonFlags(f)
	if c.version != "" {
		f.BoolVar(&c.showVersion, "version", false, "Show the command's version and exit")
	}
}

// AllowInterspersedFlags is false so that only options that relate to
// the SuperCommand itself can come before the subcommand name.
func (c *SuperCommand) AllowInterspersedFlags() bool {
	return false
}

// Init initializes the command for running.
func (c *SuperCommand) Init(args []string) error {
	if c.showVersion {
		c.action = c.subcmds["version"]
		return c.action.command.Init(nil)
	}
	if len(args) == 0 {
		c.action = c.subcmds["help"]
		return c.action.command.Init(args)
	}

	var found bool
	if c.action, found = c.subcmds[args[0]]; !found {
		return fmt.Errorf("unrecognized command: %s %s", c.Name, args[0])
	}

	cleanArgs := make([]string, len(args[1:]))
	copy(cleanArgs, args[1:])
	subcmd := c.action.command
	subcmd.SetFlags(c.commonflags)
	if err := c.commonflags.Parse(subcmd.AllowInterspersedFlags(), cleanArgs); err != nil {
		return err
	}
	cleanArgs = c.commonflags.Args()
	if c.showHelp {
		// Treat help for the command the same way as "help foo".
		cleanArgs = []string{c.action.name}
		c.action = c.subcmds["help"]
	}
	return c.action.command.Init(cleanArgs)
}

// Run executes the subcommand that was selected in Init.
func (c *SuperCommand) Run(ctx *Context) error {
	if c.action.command == nil {
		panic("Run: missing subcommand; Init failed or not called")
	}
	if c.Log != nil {
		if err := c.Log.Start(ctx); err != nil {
			return err
		}
	}
	if c.notifyRun != nil {
		c.notifyRun(c.action.name)
	}
	err := c.action.command.Run(ctx)
	if err != nil && !IsErrSilent(err) {
		WriteError(ctx.Stderr, err)
		logger.Debugf("error stack: \n%v", errors.ErrorStack(err))
		// The error has been reported, so make it silent for Main.
		err = ErrSilent
	} else if err == nil {
		logger.Debugf("command finished")
	}
	return err
}

type versionCommand struct {
	CommandBase
	version string
}

func (v *versionCommand) Info() *Info {
	return &Info{
		Name:    "version",
		Purpose: "Print the current version.",
	}
}

func (v *versionCommand) Run(ctx *Context) error {
	_, err := fmt.Fprintf(ctx.Stdout, "%s (%s/%s)\n", v.version, runtime.GOOS, runtime.GOARCH)
	return err
}
