// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build windows

package windows

import (
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
)

const accepted = svc.AcceptStop | svc.AcceptShutdown | svc.AcceptSessionChange

// wtsSessionNotification is WTSSESSION_NOTIFICATION.
type wtsSessionNotification struct {
	size      uint32
	sessionID uint32
}

// IsService reports whether the process was started by the service
// control manager.
func IsService() (bool, error) {
	return svc.IsWindowsService()
}

// OpenEventLog opens the event log source of the service.
func OpenEventLog() (ClosableEventLog, error) {
	l, err := eventlog.Open(ServiceName)
	if err != nil {
		return nil, errors.Annotate(err, "opening event log")
	}
	return l, nil
}

// handler adapts a Service to svc.Handler.
type handler struct {
	service *Service
	err     error
}

// Execute is part of the svc.Handler interface.
func (h *handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	requests := make(chan Request, 16)
	states := make(chan State)
	result := make(chan error, 1)
	go func() {
		result <- h.service.Run(requests, states)
		close(states)
	}()

	for {
		select {
		case state, ok := <-states:
			if !ok {
				h.err = <-result
				if h.err != nil {
					return true, 1
				}
				return false, 0
			}
			changes <- toStatus(state)
		case c := <-r:
			if c.Cmd == svc.Interrogate {
				changes <- c.CurrentStatus
				continue
			}
			req, ok := fromChangeRequest(c)
			if !ok {
				logger.Warningf("unexpected control request %d", c.Cmd)
				continue
			}
			select {
			case requests <- req:
			default:
				logger.Warningf("dropping control request %d", c.Cmd)
			}
		}
	}
}

func toStatus(state State) svc.Status {
	switch state {
	case StartPending:
		return svc.Status{State: svc.StartPending}
	case Running:
		return svc.Status{State: svc.Running, Accepts: accepted}
	case StopPending:
		return svc.Status{State: svc.StopPending}
	}
	return svc.Status{State: svc.Stopped}
}

func fromChangeRequest(c svc.ChangeRequest) (Request, bool) {
	switch c.Cmd {
	case svc.Stop:
		return Request{Command: Stop}, true
	case svc.Shutdown:
		return Request{Command: Shutdown}, true
	case svc.SessionChange:
		var session uint32
		if c.EventData != 0 {
			// EventData points at a WTSSESSION_NOTIFICATION.
			session = (*wtsSessionNotification)(unsafe.Pointer(c.EventData)).sessionID
		}
		return Request{Command: SessionChange, EventType: c.EventType, SessionID: session}, true
	}
	return Request{}, false
}

// Serve runs the service under the service control manager until it
// stops.
func Serve(service *Service) error {
	h := &handler{service: service}
	if err := svc.Run(ServiceName, h); err != nil {
		return errors.Annotatef(err, "running service %s", ServiceName)
	}
	return errors.Trace(h.err)
}
