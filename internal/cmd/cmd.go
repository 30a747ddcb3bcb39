// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package cmd is a small command framework: commands declare their
// flags on a gnuflag.FlagSet, are initialised with the remaining
// positional arguments and run against a Context holding the standard
// streams.
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("udsactor.cmd")

// ErrSilent can be returned from Run to signal that Main should exit
// with code 1 without producing error output.
var ErrSilent = errors.New("cmd: error out silently")

// IsErrSilent returns whether the error should be logged from cmd.Main.
func IsErrSilent(err error) bool {
	if err == ErrSilent {
		return true
	}
	if _, ok := err.(*RcPassthroughError); ok {
		return true
	}
	return false
}

// RcPassthroughError indicates that a command wants Main to exit with
// the given code.
type RcPassthroughError struct {
	Code int
}

// Error implements error.
func (e *RcPassthroughError) Error() string {
	return fmt.Sprintf("subprocess encountered error code %v", e.Code)
}

// NewRcPassthroughError creates an error that will have the code used
// as the return code from Main.
func NewRcPassthroughError(code int) error {
	return &RcPassthroughError{Code: code}
}

// Command is implemented by types that interpret command-line arguments.
type Command interface {
	// IsSuperCommand returns true if the command is a super command.
	IsSuperCommand() bool

	// Info returns information about the Command.
	Info() *Info

	// SetFlags adds command specific flags to the flag set.
	SetFlags(f *gnuflag.FlagSet)

	// Init initializes the Command before running.
	Init(args []string) error

	// Run will execute the Command as directed by the options and
	// positional arguments passed to Init.
	Run(ctx *Context) error

	// AllowInterspersedFlags returns whether the command allows flag
	// arguments to be interspersed with non-flag arguments.
	AllowInterspersedFlags() bool
}

// CommandBase provides the default implementation for SetFlags, Init,
// and Help.
type CommandBase struct{}

// IsSuperCommand implements Command.IsSuperCommand
func (c *CommandBase) IsSuperCommand() bool {
	return false
}

// SetFlags does nothing in the simplest case.
func (c *CommandBase) SetFlags(f *gnuflag.FlagSet) {}

// Init in the simplest case makes sure there are no args.
func (c *CommandBase) Init(args []string) error {
	return CheckEmpty(args)
}

// AllowInterspersedFlags returns true by default. Some subcommands may
// want to override this.
func (c *CommandBase) AllowInterspersedFlags() bool {
	return true
}

// Context represents the run context of a Command. Command
// implementations should interpret file names relative to Dir (see
// AbsPath below), and print output and errors to Stdout and Stderr
// respectively.
type Context struct {
	context.Context

	Dir    string
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// DefaultContext returns a Context suitable for use in non-hosted
// situations.
func DefaultContext() (*Context, error) {
	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Context{
		Context: context.Background(),
		Dir:     abs,
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}, nil
}

// AbsPath returns an absolute representation of path, with relative
// paths interpreted as relative to ctx.Dir.
func (ctx *Context) AbsPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ctx.Dir, path)
}

// Getenv looks up an environment variable in the context. It mirrors
// os.Getenv. An empty string is returned if the key is not set.
func (ctx *Context) Getenv(key string) string {
	if value, ok := ctx.Env[key]; ok {
		return value
	}
	return os.Getenv(key)
}

// Infof will write the formatted string to Stderr.
func (ctx *Context) Infof(format string, params ...interface{}) {
	fmt.Fprintf(ctx.Stderr, format+"\n", params...)
}

// Warningf allows writing of warnings to the Stderr.
func (ctx *Context) Warningf(format string, params ...interface{}) {
	fmt.Fprintf(ctx.Stderr, "WARNING "+format+"\n", params...)
}

// Info holds some of the usage documentation of a Command.
type Info struct {
	// Name is the Command's name.
	Name string

	// Args describes the command's expected positional arguments.
	Args string

	// Purpose is a short explanation of the Command's purpose.
	Purpose string

	// Doc is the long documentation for the Command.
	Doc string

	// Subcommands stores the name and description of each subcommand.
	Subcommands map[string]string

	// Aliases are other names for the Command.
	Aliases []string
}

// Help renders i's content, along with documentation for any flags
// defined in f. It calls f.SetOutput(io.Discard).
func (i *Info) Help(f *gnuflag.FlagSet) []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "Usage: %s", i.Name)
	hasOptions := false
	f.VisitAll(func(f *gnuflag.Flag) { hasOptions = true })
	if hasOptions {
		fmt.Fprintf(buf, " [options]")
	}
	if i.Args != "" {
		fmt.Fprintf(buf, " %s", i.Args)
	}
	fmt.Fprintf(buf, "\n")
	if i.Purpose != "" {
		fmt.Fprintf(buf, "\nSummary:\n%s\n", strings.TrimSpace(i.Purpose))
	}
	if hasOptions {
		fmt.Fprintf(buf, "\nOptions:\n")
		f.SetOutput(buf)
		f.PrintDefaults()
	}
	f.SetOutput(io.Discard)
	if i.Doc != "" {
		fmt.Fprintf(buf, "\nDetails:\n%s\n", strings.TrimSpace(i.Doc))
	}
	if len(i.Subcommands) > 0 {
		fmt.Fprintf(buf, "\nSubcommands:\n%s\n", describeSubcommands(i.Subcommands))
	}
	return buf.Bytes()
}

// CheckEmpty is a utility function that returns an error if args is
// not empty.
func CheckEmpty(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unrecognized args: %q", args)
	}
	return nil
}

// WriteError writes the error to the given writer.
func WriteError(w io.Writer, err error) {
	fmt.Fprintf(w, "ERROR %v\n", err)
}

// Main runs the given Command in the supplied Context with the given
// arguments, which should not include the command name. It returns a
// code suitable for passing to os.Exit.
func Main(c Command, ctx *Context, args []string) int {
	f := gnuflag.NewFlagSet(c.Info().Name, gnuflag.ContinueOnError)
	f.SetOutput(io.Discard)
	c.SetFlags(f)
	if rc, done := handleCommandError(c, ctx, f.Parse(c.AllowInterspersedFlags(), args), f); done {
		return rc
	}
	if rc, done := handleCommandError(c, ctx, c.Init(f.Args()), f); done {
		return rc
	}
	if err := c.Run(ctx); err != nil {
		if IsErrSilent(err) {
			if rcErr, ok := err.(*RcPassthroughError); ok {
				return rcErr.Code
			}
			return 1
		}
		logger.Debugf("%s command failed: %v", c.Info().Name, err)
		WriteError(ctx.Stderr, err)
		return 1
	}
	return 0
}

// handleCommandError handles errors from parsing and initialising a
// command. It reports whether Main should return with the given code.
func handleCommandError(c Command, ctx *Context, err error, f *gnuflag.FlagSet) (int, bool) {
	switch {
	case err == nil:
		return 0, false
	case err == gnuflag.ErrHelp:
		_, _ = ctx.Stdout.Write(c.Info().Help(f))
		return 0, true
	case IsErrSilent(err):
		return 2, true
	}
	WriteError(ctx.Stderr, err)
	return 2, true
}
