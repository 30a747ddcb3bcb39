// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package eventloop provides the worker owning the actor lifetime: it
// brings the machine identity in line at startup, registers for session
// notifications, pumps them until killed and deregisters on the way out.
package eventloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/sens"
)

const (
	// ErrInitialization is returned when the worker cannot get past
	// Starting.
	ErrInitialization = errors.ConstError("initialization failed")

	// DefaultWaitTimeout paces the loop and bounds the shutdown latency.
	DefaultWaitTimeout = time.Second

	// DefaultAddressCheckEvery is how many iterations pass between
	// address checks.
	DefaultAddressCheckEvery = 10
)

// State is the lifecycle state of the worker.
type State string

const (
	Starting      State = "starting"
	Registering   State = "registering"
	Running       State = "running"
	Deregistering State = "deregistering"
	Stopped       State = "stopped"
)

// Logger is the logging interface used by the worker.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

// Joiner brings the machine identity in line with the recorded intent.
type Joiner interface {
	EnsureJoinedFromStore(ctx context.Context) (identity.State, error)
}

// EventSystem is the part of the session notification subsystem the
// worker drives.
type EventSystem interface {
	Store(sens.Subscription) error
	Remove(criteria string) error
	PumpWaitingMessages() int
}

// Announcer tells the broker the actor is ready.
type Announcer interface {
	AnnounceReady(ctx context.Context) error
}

// AddressChecker looks for address changes.
type AddressChecker interface {
	CheckIPsChanged(ctx context.Context) (bool, error)
}

// Config holds the dependencies of the worker.
type Config struct {
	Clock  clock.Clock
	Logger Logger

	// Initialize, if set, runs on the loop goroutine before anything
	// else. The returned func is called when the loop exits.
	Initialize func() (func(), error)

	Joiner   Joiner
	Events   EventSystem
	Listener sens.Listener

	// Announcer and AddressChecker are optional.
	Announcer      Announcer
	AddressChecker AddressChecker

	WaitTimeout       time.Duration
	AddressCheckEvery int

	// OnState, if set, is told about every state transition.
	OnState func(State)
}

// Validate ensures the config is usable.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.Joiner == nil {
		return errors.NotValidf("nil Joiner")
	}
	if config.Events == nil {
		return errors.NotValidf("nil Events")
	}
	if config.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if config.WaitTimeout < 0 {
		return errors.NotValidf("negative WaitTimeout")
	}
	if config.AddressCheckEvery < 0 {
		return errors.NotValidf("negative AddressCheckEvery")
	}
	return nil
}

// Worker is the service event loop.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config

	mu    sync.Mutex
	state State
}

// NewWorker starts the event loop.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.WaitTimeout == 0 {
		config.WaitTimeout = DefaultWaitTimeout
	}
	if config.AddressCheckEvery == 0 {
		config.AddressCheckEvery = DefaultAddressCheckEvery
	}
	w := &Worker{
		config: config,
		state:  Starting,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "event-loop",
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface. The loop notices within
// one wait timeout and deregisters before stopping.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Report returns the worker state for introspection.
func (w *Worker) Report() map[string]interface{} {
	return map[string]interface{}{"state": string(w.State())}
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	w.config.Logger.Debugf("event loop %s", state)
	if w.config.OnState != nil {
		w.config.OnState(state)
	}
}

func (w *Worker) loop() error {
	defer w.setState(Stopped)
	w.setState(Starting)

	if w.config.Initialize != nil {
		cleanup, err := w.config.Initialize()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInitialization, errors.Annotate(err, "initializing platform"))
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	ctx := w.catacomb.Context(context.Background())
	proceed, err := w.ensureJoined(ctx)
	if err != nil || !proceed {
		return err
	}

	w.setState(Registering)
	registered := w.register(ctx)

	w.setState(Running)
	err = w.run(ctx)

	w.setState(Deregistering)
	if registered {
		w.deregister()
	}
	return err
}

// ensureJoined is the initialization gate. It reports whether the
// worker should go on to register.
func (w *Worker) ensureJoined(ctx context.Context) (bool, error) {
	state, err := w.config.Joiner.EnsureJoinedFromStore(ctx)
	switch {
	case errors.Is(err, errors.NotFound):
		w.config.Logger.Debugf("no domain join requested")
		return true, nil
	case err != nil && w.dying():
		return false, w.catacomb.ErrDying()
	case err != nil:
		return false, fmt.Errorf("%w: %w", ErrInitialization, errors.Annotate(err, "ensuring machine identity"))
	case state.Kind == identity.Errored:
		return false, fmt.Errorf("%w: machine identity %s", ErrInitialization, state)
	case state.RebootPending():
		w.config.Logger.Infof("machine identity %s, waiting for reboot", state)
		return false, nil
	}
	w.config.Logger.Infof("machine identity %s", state)
	return true, nil
}

// register stores the subscription and announces readiness. Failures
// are logged; the loop runs regardless so that stop requests are
// honoured.
func (w *Worker) register(ctx context.Context) bool {
	registered := true
	err := w.config.Events.Store(sens.Subscription{
		ID:           sens.ActorSubscriptionID,
		Name:         sens.ActorSubscriptionName,
		EventClassID: sens.EventClassLogon,
		PublisherID:  sens.Publisher,
		Listener:     w.config.Listener,
	})
	if err != nil {
		w.config.Logger.Errorf("registering session notifications: %v", err)
		registered = false
	} else {
		w.config.Logger.Debugf("registered subscription %s", sens.FormatID(sens.ActorSubscriptionID))
	}

	if w.config.Announcer != nil {
		if err := w.config.Announcer.AnnounceReady(ctx); err != nil && !w.dying() {
			w.config.Logger.Errorf("%v", err)
		}
	}
	return registered
}

// run pumps notifications until the worker is killed.
func (w *Worker) run(ctx context.Context) error {
	counter := 0
	for {
		w.config.Events.PumpWaitingMessages()

		counter++
		if counter >= w.config.AddressCheckEvery {
			counter = 0
			w.checkAddresses(ctx)
		}

		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case <-w.config.Clock.After(w.config.WaitTimeout):
		}
	}
}

func (w *Worker) checkAddresses(ctx context.Context) {
	if w.config.AddressChecker == nil {
		return
	}
	changed, err := w.config.AddressChecker.CheckIPsChanged(ctx)
	if err != nil {
		w.config.Logger.Warningf("checking address changes: %v", err)
		return
	}
	if changed {
		w.config.Logger.Infof("address change detected")
	}
}

// deregister removes the subscription by its exact identifier. The
// process is going away, so failure is only logged.
func (w *Worker) deregister() {
	if err := w.config.Events.Remove(sens.SubscriptionCriteria(sens.ActorSubscriptionID)); err != nil {
		w.config.Logger.Errorf("deregistering session notifications: %v", err)
		return
	}
	w.config.Logger.Debugf("deregistered subscription %s", sens.FormatID(sens.ActorSubscriptionID))
}

func (w *Worker) dying() bool {
	select {
	case <-w.catacomb.Dying():
		return true
	default:
		return false
	}
}
