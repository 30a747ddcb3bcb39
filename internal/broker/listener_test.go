// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package broker_test

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/virtualcable/udsactor/internal/broker"
)

type fakeNotifier struct {
	testing.Stub

	// calls, if set, receives the name of every call made.
	calls chan string
	// block, if set, makes Login wait until its context is done.
	block bool
}

func (n *fakeNotifier) record(name string) {
	if n.calls != nil {
		n.calls <- name
	}
}

func (n *fakeNotifier) Login(ctx context.Context, user, sessionType string) (broker.LoginResult, error) {
	n.AddCall("Login", user, sessionType)
	n.record("Login")
	if n.block {
		<-ctx.Done()
		return broker.LoginResult{}, ctx.Err()
	}
	return broker.LoginResult{IP: "192.168.1.20"}, n.NextErr()
}

func (n *fakeNotifier) Logout(ctx context.Context, user, sessionType string) error {
	n.AddCall("Logout", user, sessionType)
	n.record("Logout")
	return n.NextErr()
}

func (n *fakeNotifier) Ready(ctx context.Context, ip string, port int) error {
	n.AddCall("Ready", ip, port)
	return n.NextErr()
}

func waitCalls(c *gc.C, calls <-chan string, expected ...string) {
	for _, name := range expected {
		select {
		case got := <-calls:
			c.Assert(got, gc.Equals, name)
		case <-time.After(testing.LongWait):
			c.Fatalf("timed out waiting for %s", name)
		}
	}
}

type listenerSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&listenerSuite{})

func (s *listenerSuite) TestValidateConfig(c *gc.C) {
	_, err := broker.NewSessionReporter(broker.ReporterConfig{})
	c.Assert(err, gc.ErrorMatches, "nil Notifier not valid")
}

func (s *listenerSuite) TestForwardsLogonLogoff(c *gc.C) {
	notifier := &fakeNotifier{calls: make(chan string, 4)}
	reporter, err := broker.NewSessionReporter(broker.ReporterConfig{Notifier: notifier, SessionType: "RDP"})
	c.Assert(err, jc.ErrorIsNil)
	defer workertest.CleanKill(c, reporter)

	c.Assert(reporter.OnConnect("alice", "rdp", "", ""), gc.Equals, "alice")
	reporter.OnDisconnect("alice")
	reporter.OnLogon("alice")
	reporter.OnLogoff("alice")
	waitCalls(c, notifier.calls, "Login", "Logout")

	notifier.CheckCalls(c, []testing.StubCall{
		{FuncName: "Login", Args: []interface{}{"alice", "RDP"}},
		{FuncName: "Logout", Args: []interface{}{"alice", "RDP"}},
	})
}

func (s *listenerSuite) TestFailuresAreSwallowed(c *gc.C) {
	notifier := &fakeNotifier{calls: make(chan string, 4)}
	notifier.SetErrors(errors.New("broker down"), errors.New("broker down"))
	reporter, err := broker.NewSessionReporter(broker.ReporterConfig{Notifier: notifier})
	c.Assert(err, jc.ErrorIsNil)

	reporter.OnLogon("alice")
	reporter.OnLogoff("alice")
	waitCalls(c, notifier.calls, "Login", "Logout")
	workertest.CleanKill(c, reporter)
}

func (s *listenerSuite) TestListenerDoesNotWaitForBroker(c *gc.C) {
	notifier := &fakeNotifier{calls: make(chan string, 4), block: true}
	reporter, err := broker.NewSessionReporter(broker.ReporterConfig{
		Notifier: notifier,
		Timeout:  time.Hour,
	})
	c.Assert(err, jc.ErrorIsNil)

	reporter.OnLogon("alice")
	waitCalls(c, notifier.calls, "Login")

	returned := make(chan struct{})
	go func() {
		reporter.OnLogoff("alice")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(testing.LongWait):
		c.Fatalf("logoff waited for the broker")
	}

	// Killing the reporter cancels the call in flight.
	workertest.CleanKill(c, reporter)
}

func (s *listenerSuite) TestFullQueueDrops(c *gc.C) {
	notifier := &fakeNotifier{calls: make(chan string, 4), block: true}
	reporter, err := broker.NewSessionReporter(broker.ReporterConfig{
		Notifier:  notifier,
		Timeout:   time.Hour,
		QueueSize: 1,
	})
	c.Assert(err, jc.ErrorIsNil)

	reporter.OnLogon("alice")
	waitCalls(c, notifier.calls, "Login")
	reporter.OnLogon("bob")
	reporter.OnLogon("carol")

	workertest.CleanKill(c, reporter)
	notifier.CheckCalls(c, []testing.StubCall{
		{FuncName: "Login", Args: []interface{}{"alice", ""}},
	})
}

func (s *listenerSuite) TestAnnounceReady(c *gc.C) {
	notifier := &fakeNotifier{}
	announcer := &broker.Announcer{
		Notifier: notifier,
		Clock:    testclock.NewClock(time.Now()),
		Address:  func() (string, error) { return "10.0.0.7", nil },
		Port:     43910,
	}
	c.Assert(announcer.AnnounceReady(context.Background()), jc.ErrorIsNil)
	notifier.CheckCall(c, 0, "Ready", "10.0.0.7", 43910)
}

func (s *listenerSuite) TestAnnounceReadyRetries(c *gc.C) {
	notifier := &fakeNotifier{}
	notifier.SetErrors(errors.New("broker down"), errors.New("still down"))
	clock := testclock.NewDilatedWallClock(time.Millisecond)
	announcer := &broker.Announcer{
		Notifier: notifier,
		Clock:    clock,
		Address:  func() (string, error) { return "10.0.0.7", nil },
		Port:     43910,
		Attempts: 3,
		Delay:    time.Second,
	}
	c.Assert(announcer.AnnounceReady(context.Background()), jc.ErrorIsNil)
	notifier.CheckCallNames(c, "Ready", "Ready", "Ready")
}

func (s *listenerSuite) TestAnnounceReadyGivesUp(c *gc.C) {
	notifier := &fakeNotifier{}
	notifier.SetErrors(errors.New("broker down"), errors.New("broker down"))
	announcer := &broker.Announcer{
		Notifier: notifier,
		Clock:    testclock.NewDilatedWallClock(time.Millisecond),
		Address:  func() (string, error) { return "10.0.0.7", nil },
		Attempts: 2,
		Delay:    time.Second,
	}
	err := announcer.AnnounceReady(context.Background())
	c.Assert(err, gc.ErrorMatches, "announcing readiness: broker down")
}
