// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package domainjoin_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/version/v2"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/domainjoin"
	"github.com/virtualcable/udsactor/internal/domainjoin/mocks"
)

var (
	windows10 = version.MustParse("10.0.19045")
	windowsXP = version.MustParse("5.1.2600")
)

type controllerSuite struct {
	testing.IsolationSuite

	machine  *mocks.MockMachine
	rebooter *mocks.MockRebooter
	store    *memStore
	states   []identity.StateKind
}

var _ = gc.Suite(&controllerSuite{})

func (s *controllerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = &memStore{}
	s.states = nil
}

func (s *controllerSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.machine = mocks.NewMockMachine(ctrl)
	s.rebooter = mocks.NewMockRebooter(ctrl)
	return ctrl
}

func (s *controllerSuite) RecordIdentityState(kind identity.StateKind) {
	s.states = append(s.states, kind)
}

func (s *controllerSuite) newController(c *gc.C, forceMultiStep bool) *domainjoin.Controller {
	ctrl, err := domainjoin.NewController(domainjoin.Config{
		Machine:        s.machine,
		Rebooter:       s.rebooter,
		Store:          s.store,
		ForceMultiStep: forceMultiStep,
		Recorder:       s,
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl
}

func (s *controllerSuite) intent() identity.JoinIntent {
	return identity.JoinIntent{
		TargetName:         "WKS01",
		Domain:             "corp.local",
		OrganizationalUnit: "OU=VDI,DC=corp,DC=local",
		Account:            "joiner",
		Secret:             []byte("s3cret"),
	}
}

func (s *controllerSuite) expectFacts(facts identity.Facts) {
	s.machine.EXPECT().Facts(gomock.Any()).Return(facts, nil)
}

func (s *controllerSuite) TestValidateConfig(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := domainjoin.NewController(domainjoin.Config{})
	c.Check(err, gc.ErrorMatches, "nil Machine not valid")
	_, err = domainjoin.NewController(domainjoin.Config{Machine: s.machine})
	c.Check(err, gc.ErrorMatches, "nil Rebooter not valid")
	_, err = domainjoin.NewController(domainjoin.Config{Machine: s.machine, Rebooter: s.rebooter})
	c.Check(err, gc.ErrorMatches, "nil Store not valid")
}

func (s *controllerSuite) TestMultiStepJoinsWhenNameMatches(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WKS01", PendingName: "WKS01", OSVersion: windows10})
	gomock.InOrder(
		s.machine.EXPECT().JoinDomain(gomock.Any(), identity.JoinRequest{
			Domain:             "corp.local",
			OrganizationalUnit: "OU=VDI,DC=corp,DC=local",
			Account:            `corp.local\joiner`,
			Secret:             []byte("s3cret"),
			OneStep:            false,
		}).Return(nil),
		s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil),
	)

	state, err := s.newController(c, true).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.AwaitingDomainJoin)
	c.Assert(s.states, jc.DeepEquals, []identity.StateKind{identity.AwaitingDomainJoin})
}

func (s *controllerSuite) TestMultiStepAlreadyInAnyDomain(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.store.intent = &identity.JoinIntent{TargetName: "WKS01"}
	// The machine is in a different domain than requested; that is
	// accepted as joined.
	s.expectFacts(identity.Facts{ActiveName: "wks01", PendingName: "wks01", Domain: "elsewhere.local", OSVersion: windowsXP})

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.Joined)
	c.Assert(s.store.intent, gc.IsNil)
}

func (s *controllerSuite) TestMultiStepRenamesBeforeJoin(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windowsXP})
	gomock.InOrder(
		s.machine.EXPECT().Rename(gomock.Any(), "WKS01").Return(nil),
		s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil),
	)

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.RenamedPendingReboot)
}

func (s *controllerSuite) TestMultiStepRenamePendingDoesNotRenameAgain(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WKS01", OSVersion: windows10})
	s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil)

	state, err := s.newController(c, true).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.RenamedPendingReboot)
}

func (s *controllerSuite) TestOneStepRenamesAndJoins(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10})
	gomock.InOrder(
		s.machine.EXPECT().Rename(gomock.Any(), "WKS01").Return(nil),
		s.machine.EXPECT().JoinDomain(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req identity.JoinRequest) error {
				c.Check(req.OneStep, jc.IsTrue)
				c.Check(req.Domain, gc.Equals, "corp.local")
				return nil
			}),
		s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil),
	)

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.RenamedPendingReboot)
	c.Assert(s.store.intent.Strategy, gc.Equals, identity.OneStep)
}

func (s *controllerSuite) TestRecordedMultiStepIsKept(c *gc.C) {
	defer s.setupMocks(c).Finish()

	intent := s.intent()
	intent.Strategy = identity.MultiStep
	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10})
	gomock.InOrder(
		s.machine.EXPECT().Rename(gomock.Any(), "WKS01").Return(nil),
		s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil),
	)

	state, err := s.newController(c, false).EnsureJoined(context.Background(), intent)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.RenamedPendingReboot)
}

func (s *controllerSuite) TestOneStepWithNameInPlaceOnlyJoins(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WKS01", PendingName: "WKS01", OSVersion: windows10})
	gomock.InOrder(
		s.machine.EXPECT().JoinDomain(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req identity.JoinRequest) error {
				c.Check(req.OneStep, jc.IsFalse)
				return nil
			}),
		s.rebooter.EXPECT().Reboot(gomock.Any()).Return(nil),
	)

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.AwaitingDomainJoin)
}

func (s *controllerSuite) TestRenameFailureIsErrored(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10})
	s.machine.EXPECT().Rename(gomock.Any(), "WKS01").Return(errors.New("access is denied"))

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, gc.ErrorMatches, `identity operation failed: renaming computer to "WKS01": access is denied`)
	c.Assert(errors.Is(err, identity.ErrIdentity), jc.IsTrue)
	c.Assert(state.Kind, gc.Equals, identity.Errored)
	c.Assert(state.Reason, gc.Equals, err)
	c.Assert(s.states, jc.DeepEquals, []identity.StateKind{identity.Errored})
}

func (s *controllerSuite) TestJoinFailureIsErrored(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WKS01", PendingName: "WKS01", OSVersion: windowsXP})
	s.machine.EXPECT().JoinDomain(gomock.Any(), gomock.Any()).Return(errors.New("the specified domain does not exist"))

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, gc.ErrorMatches, `identity operation failed: joining domain "corp.local": the specified domain does not exist`)
	c.Assert(state.Kind, gc.Equals, identity.Errored)
}

func (s *controllerSuite) TestFactsFailureIsErrored(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.machine.EXPECT().Facts(gomock.Any()).Return(identity.Facts{}, errors.New("boom"))

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, gc.ErrorMatches, "identity operation failed: reading machine facts: boom")
	c.Assert(state.Kind, gc.Equals, identity.Errored)
}

func (s *controllerSuite) TestRebootFailureIsErrored(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windowsXP})
	s.machine.EXPECT().Rename(gomock.Any(), "WKS01").Return(nil)
	s.rebooter.EXPECT().Reboot(gomock.Any()).Return(errors.New("shutdown.exe not found"))

	state, err := s.newController(c, false).EnsureJoined(context.Background(), s.intent())
	c.Assert(err, gc.ErrorMatches, "identity operation failed: requesting reboot: shutdown.exe not found")
	c.Assert(state.Kind, gc.Equals, identity.Errored)
}

func (s *controllerSuite) TestEnsureJoinedFromStoreWithoutIntent(c *gc.C) {
	defer s.setupMocks(c).Finish()

	_, err := s.newController(c, false).EnsureJoinedFromStore(context.Background())
	c.Assert(err, jc.Satisfies, errors.IsNotFound)
}

func (s *controllerSuite) TestEnsureJoinedFromStore(c *gc.C) {
	defer s.setupMocks(c).Finish()

	intent := s.intent()
	s.store.intent = &intent
	s.expectFacts(identity.Facts{ActiveName: "WKS01", PendingName: "WKS01", Domain: "corp.local", OSVersion: windows10})

	state, err := s.newController(c, false).EnsureJoinedFromStore(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.Joined)
}

func (s *controllerSuite) TestRequestJoin(c *gc.C) {
	defer s.setupMocks(c).Finish()

	ctrl := s.newController(c, false)
	err := ctrl.RequestJoin(s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(*s.store.intent, jc.DeepEquals, s.intent())

	err = ctrl.RequestJoin(identity.JoinIntent{TargetName: "WKS01"})
	c.Assert(err, gc.ErrorMatches, "invalid join request: empty domain not valid")
}

func (s *controllerSuite) TestObserveDoesNotMutate(c *gc.C) {
	defer s.setupMocks(c).Finish()

	intent := s.intent()
	s.store.intent = &intent
	s.expectFacts(identity.Facts{ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10})

	state, err := s.newController(c, false).Observe(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.NameMismatch)
}

type protocolSuite struct {
	testing.IsolationSuite

	machine *fakeMachine
	store   *memStore
}

var _ = gc.Suite(&protocolSuite{})

func (s *protocolSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.store = &memStore{}
}

func (s *protocolSuite) newController(c *gc.C, facts identity.Facts, forceMultiStep bool) *domainjoin.Controller {
	s.machine = &fakeMachine{facts: facts}
	ctrl, err := domainjoin.NewController(domainjoin.Config{
		Machine:        s.machine,
		Rebooter:       s.machine,
		Store:          s.store,
		ForceMultiStep: forceMultiStep,
	})
	c.Assert(err, jc.ErrorIsNil)
	return ctrl
}

func (s *protocolSuite) intent() identity.JoinIntent {
	return identity.JoinIntent{TargetName: "WKS01", Domain: "corp.local", Account: "joiner"}
}

func (s *protocolSuite) ensure(c *gc.C, ctrl *domainjoin.Controller, expect identity.StateKind, calls ...string) {
	s.machine.ResetCalls()
	state, err := ctrl.EnsureJoined(context.Background(), s.intent())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, expect)
	s.machine.CheckCallNames(c, calls...)
}

func (s *protocolSuite) TestMultiStepAcrossReboots(c *gc.C) {
	ctrl := s.newController(c, identity.Facts{
		ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10,
	}, true)

	s.ensure(c, ctrl, identity.RenamedPendingReboot, "Facts", "Rename", "Reboot")
	// Restarted before the reboot happened: no second rename.
	s.ensure(c, ctrl, identity.RenamedPendingReboot, "Facts", "Reboot")

	s.machine.reboot()
	s.ensure(c, ctrl, identity.AwaitingDomainJoin, "Facts", "JoinDomain", "Reboot")

	s.machine.reboot()
	s.ensure(c, ctrl, identity.Joined, "Facts")
	s.ensure(c, ctrl, identity.Joined, "Facts")
}

func (s *protocolSuite) TestOneStepAcrossReboots(c *gc.C) {
	ctrl := s.newController(c, identity.Facts{
		ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10,
	}, false)

	s.ensure(c, ctrl, identity.RenamedPendingReboot, "Facts", "Rename", "JoinDomain", "Reboot")
	s.ensure(c, ctrl, identity.RenamedPendingReboot, "Facts", "Reboot")

	s.machine.reboot()
	s.ensure(c, ctrl, identity.Joined, "Facts")
	s.ensure(c, ctrl, identity.Joined, "Facts")
}

func (s *protocolSuite) TestOneStepJoinFailureRecoversAfterReboot(c *gc.C) {
	ctrl := s.newController(c, identity.Facts{
		ActiveName: "WIN-8H2K", PendingName: "WIN-8H2K", OSVersion: windows10,
	}, false)
	s.machine.SetErrors(
		nil,                     // Facts
		nil,                     // Rename
		errors.New("no route"), // JoinDomain
	)

	state, err := ctrl.EnsureJoined(context.Background(), s.intent())
	c.Assert(err, gc.ErrorMatches, `.*joining domain "corp.local": no route`)
	c.Assert(state.Kind, gc.Equals, identity.Errored)

	// Next start only finishes the rename; the join follows once the
	// name is active.
	s.ensure(c, ctrl, identity.RenamedPendingReboot, "Facts", "Reboot")
	s.machine.reboot()
	s.ensure(c, ctrl, identity.AwaitingDomainJoin, "Facts", "JoinDomain", "Reboot")
	s.ensure(c, ctrl, identity.Joined, "Facts")
}

func (s *protocolSuite) TestNameComparisonIgnoresCase(c *gc.C) {
	ctrl := s.newController(c, identity.Facts{
		ActiveName: "wks01", PendingName: "wks01", Domain: "corp.local", OSVersion: windows10,
	}, false)
	s.ensure(c, ctrl, identity.Joined, "Facts")
}
