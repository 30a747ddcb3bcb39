// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/juju/gnuflag"
)

type helpCommand struct {
	CommandBase
	super  *SuperCommand
	topic  string
	target *commandReference
}

func (c *helpCommand) Info() *Info {
	return &Info{
		Name:    "help",
		Args:    "[command]",
		Purpose: helpPurpose,
	}
}

func (c *helpCommand) Init(args []string) error {
	switch len(args) {
	case 0:
		return nil
	case 1:
	default:
		return fmt.Errorf("extra arguments to command help: %q", args[1:])
	}
	c.topic = args[0]
	if c.topic == "commands" {
		return nil
	}
	ref, ok := c.super.subcmds[c.topic]
	if !ok {
		return fmt.Errorf("unknown command or topic for %s", c.topic)
	}
	c.target = &ref
	return nil
}

func (c *helpCommand) Run(ctx *Context) error {
	if c.topic == "commands" {
		_, err := fmt.Fprintf(ctx.Stdout, "%s\n", describeSubcommands(c.super.describeCommands()))
		return err
	}

	var (
		info *Info
		f    = gnuflag.NewFlagSet(c.super.Name, gnuflag.ContinueOnError)
	)
	if c.target != nil {
		info = c.target.command.Info()
		info.Name = fmt.Sprintf("%s %s", c.super.Name, info.Name)
		c.target.command.SetFlags(f)
	} else {
		// Print as if nothing was selected.
		c.super.action.command = nil
		info = c.super.Info()
		c.super.SetCommonFlags(f)
	}
	_, err := ctx.Stdout.Write(info.Help(f))
	return err
}

// describeSubcommands lists the commands, one per line, with their
// purposes aligned.
func describeSubcommands(commands map[string]string) string {
	names := make([]string, 0, len(commands))
	longest := 0
	for name := range commands {
		if len(name) > longest {
			longest = len(name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = fmt.Sprintf("%-*s  %s", longest, name, commands[name])
	}
	return strings.Join(lines, "\n")
}
