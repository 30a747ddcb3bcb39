// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/apiserver"
	"github.com/virtualcable/udsactor/internal/broker"
	"github.com/virtualcable/udsactor/internal/domainjoin"
	"github.com/virtualcable/udsactor/internal/machine"
	"github.com/virtualcable/udsactor/internal/metrics"
	"github.com/virtualcable/udsactor/internal/netwatch"
	"github.com/virtualcable/udsactor/internal/reboot"
	"github.com/virtualcable/udsactor/internal/sens"
	"github.com/virtualcable/udsactor/internal/sessionguard"
	"github.com/virtualcable/udsactor/internal/worker/eventloop"
)

const (
	unknownSessionType = "unknown"

	// initializeTimeout bounds the broker initialization, including
	// waiting for the identity lock.
	initializeTimeout = time.Minute
)

// newController builds the domain join controller for config.
func newController(config agent.Config) (*domainjoin.Controller, error) {
	return newRecordingController(config, machine.New(), nil)
}

func newRecordingController(config agent.Config, m domainjoin.Machine, recorder domainjoin.StateRecorder) (*domainjoin.Controller, error) {
	store, err := openIntentStore(config)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return domainjoin.NewController(domainjoin.Config{
		Machine:        m,
		Rebooter:       reboot.New(),
		Store:          store,
		ForceMultiStep: config.Join.ForceMultiStep,
		Recorder:       recorder,
	})
}

// BrokerClient is the part of the broker client the actor drives
// directly.
type BrokerClient interface {
	broker.SessionNotifier
	broker.ReadyNotifier
	netwatch.Notifier
	Initialize(ctx context.Context, interfaces []broker.Interface) (broker.InitializeResult, error)
	OwnToken() string
	SetOwnToken(string)
}

// actorParams holds what an actor is assembled from.
type actorParams struct {
	Config     agent.Config
	ConfigPath string
	Clock      clock.Clock

	Machine *machine.Machine
	Events  *sens.EventSystem

	Controller *domainjoin.Controller
	Collector  *metrics.Collector
	Registry   *prometheus.Registry

	// Broker is nil when no broker is configured.
	Broker BrokerClient
	NICs   netwatch.Source

	// Locker serialises identity changes with the command line.
	Locker func(context.Context, func() error) error
}

// newActorParams wires the production collaborators for config.
func newActorParams(config agent.Config, configPath string) (actorParams, error) {
	collector := metrics.NewMetricsCollector()
	registry, err := metrics.NewRegistry(collector)
	if err != nil {
		return actorParams{}, errors.Trace(err)
	}
	m := machine.New()
	controller, err := newRecordingController(config, m, collector)
	if err != nil {
		return actorParams{}, errors.Trace(err)
	}
	params := actorParams{
		Config:     config,
		ConfigPath: configPath,
		Clock:      clock.WallClock,
		Machine:    m,
		Events:     sens.NewEventSystem(0, collector),
		Controller: controller,
		Collector:  collector,
		Registry:   registry,
		NICs:       netwatch.DefaultSource(),
		Locker:     withLock,
	}
	if config.Broker.URL != "" {
		client, err := broker.NewClient(broker.Config{
			URL:        config.Broker.URL,
			Token:      config.Broker.Token,
			Version:    Version,
			Timeout:    config.Broker.Timeout,
			SkipVerify: config.Broker.SkipVerify,
		})
		if err != nil {
			return actorParams{}, errors.Trace(err)
		}
		client.SetOwnToken(config.OwnToken)
		params.Broker = client
	}
	return params, nil
}

// actor runs the event loop and the local REST endpoint together. It
// stops when the event loop does.
type actor struct {
	catacomb catacomb.Catacomb
	params   actorParams
	loop     *eventloop.Worker
}

// startActor starts every worker of the actor.
func startActor(params actorParams) (worker.Worker, error) {
	a := &actor{params: params}

	var (
		next      sens.Listener = sens.NopListener{}
		announcer eventloop.Announcer
		checker   eventloop.AddressChecker
		started   []worker.Worker
	)
	stopStarted := func() {
		for _, w := range started {
			w.Kill()
		}
		for _, w := range started {
			_ = w.Wait()
		}
	}

	_, port, err := net.SplitHostPort(params.Config.Listen.Address)
	if err != nil {
		return nil, errors.Trace(err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum == 0 {
		portNum = apiserver.DefaultPort
	}
	if params.Broker != nil {
		c, err := netwatch.NewChecker(netwatch.Config{
			Source:   params.NICs,
			Notifier: params.Broker,
			Port:     portNum,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		checker = c
		announcer = &broker.Announcer{
			Notifier: params.Broker,
			Clock:    params.Clock,
			Address:  c.PrimaryAddress,
			Port:     portNum,
		}
		reporter, err := broker.NewSessionReporter(broker.ReporterConfig{
			Notifier:    params.Broker,
			SessionType: sessionType(),
			Timeout:     params.Config.Broker.Timeout,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		started = append(started, reporter)
		next = reporter
	}

	guard, err := sessionguard.New(sessionguard.Config{
		Groups:   params.Machine,
		Logger:   loggo.GetLogger("udsactor.sessionguard"),
		Next:     next,
		Recorder: params.Collector,
	})
	if err != nil {
		stopStarted()
		return nil, errors.Trace(err)
	}

	loop, err := eventloop.NewWorker(eventloop.Config{
		Clock:             params.Clock,
		Logger:            loggo.GetLogger("udsactor.eventloop"),
		Initialize:        a.initialize,
		Joiner:            lockedJoiner{joiner: params.Controller, locker: params.Locker},
		Events:            params.Events,
		Listener:          guard,
		Announcer:         announcer,
		AddressChecker:    checker,
		WaitTimeout:       params.Config.Loop.WaitTimeout,
		AddressCheckEvery: params.Config.Loop.AddressCheckEvery,
	})
	if err != nil {
		stopStarted()
		return nil, errors.Trace(err)
	}
	a.loop = loop
	started = append(started, loop)

	server, err := a.newServer()
	if err != nil {
		stopStarted()
		return nil, errors.Trace(err)
	}
	started = append(started, server)

	if err := catacomb.Invoke(catacomb.Plan{
		Name: "udsactor",
		Site: &a.catacomb,
		Work: a.wait,
		Init: started,
	}); err != nil {
		stopStarted()
		return nil, errors.Trace(err)
	}
	return a, nil
}

// Kill is part of the worker.Worker interface.
func (a *actor) Kill() {
	a.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *actor) Wait() error {
	return a.catacomb.Wait()
}

func (a *actor) wait() error {
	done := make(chan error, 1)
	go func() {
		done <- a.loop.Wait()
	}()
	select {
	case <-a.catacomb.Dying():
		return a.catacomb.ErrDying()
	case err := <-done:
		return errors.Trace(err)
	}
}

func (a *actor) newServer() (worker.Worker, error) {
	listen := a.params.Config.Listen
	var tlsConfig *tls.Config
	if listen.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(listen.CertFile, listen.KeyFile)
		if err != nil {
			return nil, errors.Annotate(err, "loading listener certificate")
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}
	listener, err := net.Listen("tcp", listen.Address)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %s", listen.Address)
	}
	server, err := apiserver.NewServer(apiserver.Config{
		Listener:  listener,
		TLSConfig: tlsConfig,
		Token:     a.ownToken,
		Publisher: a.params.Events,
		Gatherer:  a.params.Registry,
	})
	if err != nil {
		_ = listener.Close()
		return nil, errors.Trace(err)
	}
	return server, nil
}

func (a *actor) ownToken() string {
	if a.params.Broker != nil {
		return a.params.Broker.OwnToken()
	}
	return a.params.Config.OwnToken
}

// initialize runs on the event loop goroutine before the identity is
// checked.
func (a *actor) initialize() (func(), error) {
	cleanup, err := machine.InitializeCOM()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if a.params.Broker != nil && a.params.Broker.OwnToken() == "" {
		ctx, cancel := context.WithTimeout(context.Background(), initializeTimeout)
		defer cancel()
		if err := a.initializeBroker(ctx); err != nil {
			logger.Errorf("initializing with broker: %v", err)
		}
	}
	return cleanup, nil
}

// initializeBroker announces the actor to the broker, keeps the token it
// hands out and records the join it asks for.
func (a *actor) initializeBroker(ctx context.Context) error {
	nics, err := a.params.NICs()
	if err != nil {
		return errors.Trace(err)
	}
	result, err := a.params.Broker.Initialize(ctx, brokerInterfaces(nics))
	if err != nil {
		return errors.Trace(err)
	}
	a.params.Broker.SetOwnToken(result.OwnToken)
	a.params.Config.OwnToken = result.OwnToken
	if a.params.ConfigPath != "" {
		if err := a.params.Config.Write(a.params.ConfigPath); err != nil {
			logger.Warningf("saving broker token: %v", err)
		}
	}
	if result.OS == nil {
		return nil
	}
	intent, ok := result.OS.JoinIntent()
	if !ok {
		logger.Infof("broker requested %q, not a domain join", result.OS.Action)
		return nil
	}
	return a.params.Locker(ctx, func() error {
		return a.params.Controller.RequestJoin(intent)
	})
}

func brokerInterfaces(nics []netwatch.NIC) []broker.Interface {
	var result []broker.Interface
	for _, nic := range nics {
		for _, addr := range nic.Addresses {
			if addr.To4() == nil {
				continue
			}
			result = append(result, broker.Interface{
				MAC: nic.HardwareAddr.String(),
				IP:  addr.String(),
			})
		}
	}
	return result
}

// lockedJoiner holds the identity lock while the identity is changed.
type lockedJoiner struct {
	joiner eventloop.Joiner
	locker func(context.Context, func() error) error
}

// EnsureJoinedFromStore is part of the eventloop.Joiner interface.
func (j lockedJoiner) EnsureJoinedFromStore(ctx context.Context) (identity.State, error) {
	var state identity.State
	err := j.locker(ctx, func() error {
		var err error
		state, err = j.joiner.EnsureJoinedFromStore(ctx)
		return err
	})
	return state, err
}

func sessionType() string {
	if name := os.Getenv("SESSIONNAME"); name != "" {
		return name
	}
	return unknownSessionType
}
