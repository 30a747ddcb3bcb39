// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package cmd_test

import (
	"runtime"

	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	gc "gopkg.in/check.v1"

	"github.com/virtualcable/udsactor/internal/cmd"
)

type superSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&superSuite{})

func (s *superSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.AddCleanup(func(*gc.C) { loggo.ResetLogging() })
}

func (s *superSuite) newSuper(notified *[]string) *cmd.SuperCommand {
	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "udsactor",
		Purpose: "manage the actor",
		Version: "4.0.0",
		Log:     &cmd.Log{},
		NotifyRun: func(name string) {
			if notified != nil {
				*notified = append(*notified, name)
			}
		},
	})
	super.Register(&testCommand{})
	return super
}

func (s *superSuite) TestDispatch(c *gc.C) {
	var notified []string
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(&notified), ctx, []string{"verb", "--option", "hi"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Equals, "option: hi\n")
	c.Assert(notified, gc.DeepEquals, []string{"verb"})
}

func (s *superSuite) TestCommonFlagsBeforeSubcommand(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, []string{"--debug", "verb", "--option", "hi"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(loggo.GetLogger("udsactor").EffectiveLogLevel(), gc.Equals, loggo.DEBUG)
}

func (s *superSuite) TestUnknownCommand(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, []string{"dance"})
	c.Assert(rc, gc.Equals, 2)
	c.Assert(stderr(ctx), gc.Equals, "ERROR unrecognized command: udsactor dance\n")
}

func (s *superSuite) TestRunErrorReportedOnce(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, []string{"verb", "--option", "error"})
	c.Assert(rc, gc.Equals, 1)
	c.Assert(stderr(ctx), gc.Matches, `(?s).*ERROR BAM!\n`)
}

func (s *superSuite) TestHelp(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, nil)
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Matches, `(?s)Usage: udsactor \[options\] <command> \.\.\..*manage the actor.*verb +verb the actor.*`)
}

func (s *superSuite) TestHelpCommand(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, []string{"help", "verb"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Matches, `(?s)Usage: udsactor verb \[options\] <something>.*option-doc.*`)

	ctx = newContext(c)
	rc = cmd.Main(s.newSuper(nil), ctx, []string{"verb", "--help"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Matches, `(?s)Usage: udsactor verb \[options\] <something>.*`)
}

func (s *superSuite) TestVersion(c *gc.C) {
	ctx := newContext(c)
	rc := cmd.Main(s.newSuper(nil), ctx, []string{"version"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Equals, "4.0.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")\n")

	ctx = newContext(c)
	rc = cmd.Main(s.newSuper(nil), ctx, []string{"--version"})
	c.Assert(rc, gc.Equals, 0)
	c.Assert(stdout(ctx), gc.Equals, "4.0.0 ("+runtime.GOOS+"/"+runtime.GOARCH+")\n")
}
