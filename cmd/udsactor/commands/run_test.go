// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands_test

import (
	"os"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4"
	gc "gopkg.in/check.v1"
	"gopkg.in/tomb.v2"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/cmd/udsactor/commands"
)

// fakeActor runs until killed, or stops with the error sent on exit.
type fakeActor struct {
	tomb tomb.Tomb
	exit chan error
}

func newFakeActor() *fakeActor {
	a := &fakeActor{exit: make(chan error, 1)}
	a.tomb.Go(func() error {
		select {
		case <-a.tomb.Dying():
			return nil
		case err := <-a.exit:
			return err
		}
	})
	return a
}

func (a *fakeActor) Kill()       { a.tomb.Kill(nil) }
func (a *fakeActor) Wait() error { return a.tomb.Wait() }

type runSuite struct {
	baseSuite

	actor   *fakeActor
	signals chan chan<- os.Signal
}

var _ = gc.Suite(&runSuite{})

func (s *runSuite) SetUpTest(c *gc.C) {
	s.baseSuite.SetUpTest(c)
	s.actor = newFakeActor()
	s.AddCleanup(func(*gc.C) {
		s.actor.Kill()
		_ = s.actor.Wait()
	})
	s.signals = make(chan chan<- os.Signal, 1)
	s.PatchValue(commands.NotifySignals, func(ch chan<- os.Signal) func() {
		s.signals <- ch
		return func() {}
	})
	s.PatchValue(commands.NewActor, func(config agent.Config, path string) (worker.Worker, error) {
		s.config = config
		s.stub.AddCall("NewActor", path)
		return s.actor, s.stub.NextErr()
	})
}

func (s *runSuite) startRun(c *gc.C) <-chan int {
	result := make(chan int, 1)
	go func() {
		_, rc := s.run(c, "", "run", "--config", s.configPath)
		result <- rc
	}()
	return result
}

func (s *runSuite) waitRC(c *gc.C, result <-chan int) int {
	select {
	case rc := <-result:
		return rc
	case <-time.After(testing.LongWait):
		c.Fatalf("timed out waiting for run to finish")
	}
	return -1
}

func (s *runSuite) TestRunStopsOnSignal(c *gc.C) {
	result := s.startRun(c)

	var sigCh chan<- os.Signal
	select {
	case sigCh = <-s.signals:
	case <-time.After(testing.LongWait):
		c.Fatalf("signals never watched")
	}
	sigCh <- os.Interrupt

	c.Assert(s.waitRC(c, result), gc.Equals, 0)
	c.Assert(s.actor.Wait(), jc.ErrorIsNil)
	s.stub.CheckCall(c, 0, "NewActor", s.configPath)
	c.Check(s.config.LogDir, gc.Not(gc.Equals), "")
	_, err := os.Stat(s.config.LogDir)
	c.Check(err, jc.ErrorIsNil)
}

func (s *runSuite) TestRunStopsWithActor(c *gc.C) {
	result := s.startRun(c)
	s.actor.exit <- errors.New("initialization failed")
	c.Assert(s.waitRC(c, result), gc.Equals, 1)
}

func (s *runSuite) TestRunActorFailsToStart(c *gc.C) {
	s.stub.SetErrors(errors.New("address in use"))
	ctx, rc := s.run(c, "", "run", "--config", s.configPath)
	c.Assert(rc, gc.Equals, 1)
	c.Check(stderr(ctx), jc.Contains, "ERROR starting actor: address in use\n")
}

func (s *runSuite) TestRunUntilSignalledReturnsWorkerError(c *gc.C) {
	sigCh := make(chan os.Signal)
	s.actor.exit <- errors.New("boom")
	err := commands.RunUntilSignalled(s.actor, sigCh)
	c.Assert(err, gc.ErrorMatches, "boom")
}

func (s *runSuite) TestRunUntilSignalledStopsWorker(c *gc.C) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- os.Interrupt
	err := commands.RunUntilSignalled(s.actor, sigCh)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.actor.Wait(), jc.ErrorIsNil)
}

func (s *runSuite) TestRunUntilSignalledStopsWorkerOnTerminate(c *gc.C) {
	sigCh := make(chan os.Signal, 1)
	sigCh <- syscall.SIGTERM
	err := commands.RunUntilSignalled(s.actor, sigCh)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(s.actor.Wait(), jc.ErrorIsNil)
}
