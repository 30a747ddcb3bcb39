// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package windows runs the actor as a Windows service. The control loop
// is kept apart from the service control manager bindings so it can be
// exercised on any platform.
package windows

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/worker/v4"

	"github.com/virtualcable/udsactor/internal/sens"
)

var logger = loggo.GetLogger("udsactor.service.windows")

const (
	// ServiceName is the name the service is registered under.
	ServiceName = "UDSActorNG"

	// DisplayName is shown by the service manager.
	DisplayName = "UDS Actor Service"
)

// WTS session change event types.
const (
	SessionLogon  = 5
	SessionLogoff = 6
)

// Command is a request from the service control manager.
type Command int

const (
	Interrogate Command = iota
	Stop
	Shutdown
	SessionChange
)

// Request is a single control request.
type Request struct {
	Command Command

	// EventType and SessionID are set for SessionChange.
	EventType uint32
	SessionID uint32
}

// State is the service status reported to the service control manager.
type State int

const (
	Stopped State = iota
	StartPending
	Running
	StopPending
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case StartPending:
		return "start-pending"
	case Running:
		return "running"
	case StopPending:
		return "stop-pending"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Publisher queues session events for the event loop.
type Publisher interface {
	Publish(sens.Event) error
}

// EventLog records service lifecycle messages.
type EventLog interface {
	Info(eid uint32, msg string) error
	Error(eid uint32, msg string) error
}

// ClosableEventLog is an EventLog holding a system handle.
type ClosableEventLog interface {
	EventLog
	Close() error
}

// Event log identifiers.
const (
	eventStarted = 1
	eventStopped = 2
	eventFailed  = 3
)

// Config holds the dependencies of a Service.
type Config struct {
	// NewLoop starts the service event loop.
	NewLoop func() (worker.Worker, error)

	Events Publisher

	// SessionUser resolves the user logged on to a session.
	SessionUser func(session uint32) (string, error)

	// EventLog is optional.
	EventLog EventLog
}

// Validate ensures the config is usable.
func (config Config) Validate() error {
	if config.NewLoop == nil {
		return errors.NotValidf("nil NewLoop")
	}
	if config.Events == nil {
		return errors.NotValidf("nil Events")
	}
	if config.SessionUser == nil {
		return errors.NotValidf("nil SessionUser")
	}
	return nil
}

// Service drives the event loop from control requests.
type Service struct {
	config Config
}

// NewService returns a Service.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Service{config: config}, nil
}

// Run starts the event loop and serves control requests until the loop
// stops, either because it was asked to or on its own. Stopped is
// reported only once the loop has finished deregistering.
func (s *Service) Run(requests <-chan Request, status chan<- State) error {
	status <- StartPending
	loop, err := s.config.NewLoop()
	if err != nil {
		s.logError(fmt.Sprintf("%s failed to start: %v", ServiceName, err))
		status <- Stopped
		return errors.Annotate(err, "starting event loop")
	}
	done := make(chan error, 1)
	go func() {
		done <- loop.Wait()
	}()

	s.logInfo(eventStarted, fmt.Sprintf("%s started", ServiceName))
	current := Running
	status <- current

	for {
		select {
		case err = <-done:
			return s.stopped(status, err)
		case req := <-requests:
			switch req.Command {
			case Interrogate:
				status <- current
			case Stop, Shutdown:
				current = StopPending
				status <- current
				loop.Kill()
				return s.stopped(status, <-done)
			case SessionChange:
				s.sessionChanged(req)
			default:
				logger.Warningf("unexpected control request %d", req.Command)
			}
		}
	}
}

func (s *Service) stopped(status chan<- State, err error) error {
	if err != nil {
		s.logError(fmt.Sprintf("%s stopped: %v", ServiceName, err))
	} else {
		s.logInfo(eventStopped, fmt.Sprintf("%s stopped", ServiceName))
	}
	status <- Stopped
	return errors.Trace(err)
}

// sessionChanged maps a session change onto session events. A logoff
// also ends the connection.
func (s *Service) sessionChanged(req Request) {
	var kinds []sens.EventKind
	switch req.EventType {
	case SessionLogon:
		kinds = []sens.EventKind{sens.Logon}
	case SessionLogoff:
		kinds = []sens.EventKind{sens.Logoff, sens.Disconnect}
	default:
		return
	}
	user, err := s.config.SessionUser(req.SessionID)
	if err != nil {
		logger.Errorf("resolving user of session %d: %v", req.SessionID, err)
		return
	}
	for _, kind := range kinds {
		if err := s.config.Events.Publish(sens.NewEvent(kind, user)); err != nil {
			logger.Errorf("%v", err)
		}
	}
}

func (s *Service) logInfo(eid uint32, msg string) {
	logger.Infof("%s", msg)
	if s.config.EventLog != nil {
		_ = s.config.EventLog.Info(eid, msg)
	}
}

func (s *Service) logError(msg string) {
	logger.Errorf("%s", msg)
	if s.config.EventLog != nil {
		_ = s.config.EventLog.Error(eventFailed, msg)
	}
}
