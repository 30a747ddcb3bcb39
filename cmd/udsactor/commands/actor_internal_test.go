// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/broker"
	"github.com/virtualcable/udsactor/internal/machine"
	"github.com/virtualcable/udsactor/internal/metrics"
	"github.com/virtualcable/udsactor/internal/netwatch"
	"github.com/virtualcable/udsactor/internal/sens"
)

type fakeBroker struct {
	testing.Stub
	result   broker.InitializeResult
	ownToken string
}

func (b *fakeBroker) Initialize(ctx context.Context, interfaces []broker.Interface) (broker.InitializeResult, error) {
	b.AddCall("Initialize", interfaces)
	return b.result, b.NextErr()
}

func (b *fakeBroker) Ready(ctx context.Context, ip string, port int) error {
	b.AddCall("Ready", ip, port)
	return b.NextErr()
}

func (b *fakeBroker) ChangeIP(ctx context.Context, ip string, port int) error {
	b.AddCall("ChangeIP", ip, port)
	return b.NextErr()
}

func (b *fakeBroker) Login(ctx context.Context, user, sessionType string) (broker.LoginResult, error) {
	b.AddCall("Login", user, sessionType)
	return broker.LoginResult{}, b.NextErr()
}

func (b *fakeBroker) Logout(ctx context.Context, user, sessionType string) error {
	b.AddCall("Logout", user, sessionType)
	return b.NextErr()
}

func (b *fakeBroker) OwnToken() string {
	return b.ownToken
}

func (b *fakeBroker) SetOwnToken(token string) {
	b.AddCall("SetOwnToken", token)
	b.ownToken = token
}

type actorSuite struct {
	testing.IsolationSuite

	config     agent.Config
	configPath string
	locks      int
}

var _ = gc.Suite(&actorSuite{})

func (s *actorSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	dir := c.MkDir()
	s.config = agent.DefaultConfig()
	s.config.DataDir = dir
	s.config.LogDir = filepath.Join(dir, "log")
	s.config.IntentStore = agent.IntentStoreFile
	s.config.Listen.Address = "127.0.0.1:0"
	s.config.Loop.WaitTimeout = 10 * time.Millisecond
	s.configPath = agent.ConfigPath(dir)
	s.locks = 0
}

func (s *actorSuite) locker(ctx context.Context, f func() error) error {
	s.locks++
	return f()
}

func (s *actorSuite) params(c *gc.C) actorParams {
	collector := metrics.NewMetricsCollector()
	registry, err := metrics.NewRegistry(collector)
	c.Assert(err, jc.ErrorIsNil)
	m := machine.New()
	controller, err := newRecordingController(s.config, m, collector)
	c.Assert(err, jc.ErrorIsNil)
	return actorParams{
		Config:     s.config,
		ConfigPath: s.configPath,
		Clock:      clock.WallClock,
		Machine:    m,
		Events:     sens.NewEventSystem(0, collector),
		Controller: controller,
		Collector:  collector,
		Registry:   registry,
		NICs: func() ([]netwatch.NIC, error) {
			return []netwatch.NIC{{
				Name:         "eth0",
				HardwareAddr: net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
				Addresses:    []net.IP{net.ParseIP("10.0.0.5"), net.ParseIP("fd00::5")},
			}}, nil
		},
		Locker: s.locker,
	}
}

func (s *actorSuite) TestBrokerInterfaces(c *gc.C) {
	nics := []netwatch.NIC{{
		Name:         "eth0",
		HardwareAddr: net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56},
		Addresses:    []net.IP{net.ParseIP("10.0.0.5"), net.ParseIP("fd00::5"), net.ParseIP("192.168.1.9")},
	}}
	c.Assert(brokerInterfaces(nics), jc.DeepEquals, []broker.Interface{
		{MAC: "52:54:00:12:34:56", IP: "10.0.0.5"},
		{MAC: "52:54:00:12:34:56", IP: "192.168.1.9"},
	})
}

func (s *actorSuite) TestLockedJoiner(c *gc.C) {
	joiner := lockedJoiner{
		joiner: joinerFunc(func(context.Context) (identity.State, error) {
			return identity.State{Kind: identity.Joined}, nil
		}),
		locker: s.locker,
	}
	state, err := joiner.EnsureJoinedFromStore(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(state.Kind, gc.Equals, identity.Joined)
	c.Assert(s.locks, gc.Equals, 1)
}

func (s *actorSuite) TestLockedJoinerKeepsNotFound(c *gc.C) {
	joiner := lockedJoiner{
		joiner: joinerFunc(func(context.Context) (identity.State, error) {
			return identity.State{}, errors.NotFoundf("join intent")
		}),
		locker: withLockFunc(s),
	}
	_, err := joiner.EnsureJoinedFromStore(context.Background())
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *actorSuite) TestInitializeBrokerRecordsJoin(c *gc.C) {
	client := &fakeBroker{result: broker.InitializeResult{
		OwnToken: "own-token",
		OS: &broker.OSRequest{
			Action:   broker.ActionRenameAD,
			Name:     "WKS01",
			Domain:   "corp.local",
			Account:  "joiner",
			Password: "s3cret",
		},
	}}
	params := s.params(c)
	params.Broker = client
	a := &actor{params: params}

	err := a.initializeBroker(context.Background())
	c.Assert(err, jc.ErrorIsNil)

	client.CheckCalls(c, []testing.StubCall{
		{FuncName: "Initialize", Args: []interface{}{[]broker.Interface{{MAC: "52:54:00:12:34:56", IP: "10.0.0.5"}}}},
		{FuncName: "SetOwnToken", Args: []interface{}{"own-token"}},
	})
	saved, err := agent.ReadConfig(s.configPath)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(saved.OwnToken, gc.Equals, "own-token")

	intent, err := params.Controller.Intent()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(intent.TargetName, gc.Equals, "WKS01")
	c.Assert(intent.Domain, gc.Equals, "corp.local")
	c.Assert(intent.Secret, jc.DeepEquals, []byte("s3cret"))
	c.Assert(s.locks, gc.Equals, 1)
}

func (s *actorSuite) TestInitializeBrokerRenameOnly(c *gc.C) {
	client := &fakeBroker{result: broker.InitializeResult{
		OwnToken: "own-token",
		OS:       &broker.OSRequest{Action: broker.ActionRename, Name: "WKS01"},
	}}
	params := s.params(c)
	params.Broker = client
	a := &actor{params: params}

	c.Assert(a.initializeBroker(context.Background()), jc.ErrorIsNil)
	_, err := params.Controller.Intent()
	c.Assert(err, jc.ErrorIs, errors.NotFound)
	c.Assert(s.locks, gc.Equals, 0)
}

func (s *actorSuite) TestInitializeBrokerFailure(c *gc.C) {
	client := &fakeBroker{}
	client.SetErrors(errors.New("broker unreachable"))
	params := s.params(c)
	params.Broker = client
	a := &actor{params: params}

	err := a.initializeBroker(context.Background())
	c.Assert(err, gc.ErrorMatches, "broker unreachable")
	client.CheckCallNames(c, "Initialize")
}

func (s *actorSuite) TestStartActorWithoutBroker(c *gc.C) {
	w, err := startActor(s.params(c))
	c.Assert(err, jc.ErrorIsNil)
	workertest.CheckAlive(c, w)
	workertest.CleanKill(c, w)
	c.Assert(s.locks, gc.Equals, 1)
}

func (s *actorSuite) TestStartActorBadListener(c *gc.C) {
	s.config.Listen.CertFile = filepath.Join(c.MkDir(), "missing.crt")
	s.config.Listen.KeyFile = filepath.Join(c.MkDir(), "missing.key")
	_, err := startActor(s.params(c))
	c.Assert(err, gc.ErrorMatches, "loading listener certificate: .*")
}

func (s *actorSuite) TestOpenIntentStore(c *gc.C) {
	store, err := openIntentStore(s.config)
	c.Assert(err, jc.ErrorIsNil)
	_, err = store.Load()
	c.Assert(err, jc.ErrorIs, errors.NotFound)

	s.config.IntentStore = "floppy"
	_, err = openIntentStore(s.config)
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

type joinerFunc func(context.Context) (identity.State, error)

func (f joinerFunc) EnsureJoinedFromStore(ctx context.Context) (identity.State, error) {
	return f(ctx)
}

// withLockFunc traces errors the way withLock does without taking the
// machine wide lock.
func withLockFunc(s *actorSuite) func(context.Context, func() error) error {
	return func(ctx context.Context, f func() error) error {
		return errors.Trace(s.locker(ctx, f))
	}
}
