// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package broker

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/juju/worker/v4/catacomb"

	"github.com/virtualcable/udsactor/internal/sens"
)

// SessionNotifier is the part of the broker client told about user
// sessions.
type SessionNotifier interface {
	Login(ctx context.Context, user, sessionType string) (LoginResult, error)
	Logout(ctx context.Context, user, sessionType string) error
}

// DefaultReportQueueSize is how many session reports wait for the
// broker before new ones are dropped.
const DefaultReportQueueSize = 32

// ReporterConfig holds the configuration of a SessionReporter.
type ReporterConfig struct {
	Notifier    SessionNotifier
	SessionType string

	// Timeout bounds a single broker call. It defaults to
	// DefaultTimeout.
	Timeout time.Duration

	// QueueSize defaults to DefaultReportQueueSize.
	QueueSize int
}

// Validate ensures the config is usable.
func (config ReporterConfig) Validate() error {
	if config.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	if config.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	return nil
}

type sessionReport struct {
	kind sens.EventKind
	user string
}

// SessionReporter is a worker forwarding logons and logoffs to the
// broker. The listener side only queues, so notification dispatch never
// waits on the network. Broker failures are logged and swallowed.
type SessionReporter struct {
	sens.NopListener

	catacomb catacomb.Catacomb
	config   ReporterConfig
	reports  chan sessionReport
}

var _ sens.Listener = (*SessionReporter)(nil)

// NewSessionReporter starts a reporter for config.
func NewSessionReporter(config ReporterConfig) (*SessionReporter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultReportQueueSize
	}
	r := &SessionReporter{
		config:  config,
		reports: make(chan sessionReport, config.QueueSize),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "session-reporter",
		Site: &r.catacomb,
		Work: r.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

// Kill is part of the worker.Worker interface.
func (r *SessionReporter) Kill() {
	r.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *SessionReporter) Wait() error {
	return r.catacomb.Wait()
}

// OnLogon is part of the sens.Listener interface.
func (r *SessionReporter) OnLogon(user string) {
	r.enqueue(sessionReport{kind: sens.Logon, user: user})
}

// OnLogoff is part of the sens.Listener interface.
func (r *SessionReporter) OnLogoff(user string) {
	r.enqueue(sessionReport{kind: sens.Logoff, user: user})
}

func (r *SessionReporter) enqueue(report sessionReport) {
	select {
	case r.reports <- report:
	default:
		logger.Warningf("report queue full, dropping %s of %q", report.kind, report.user)
	}
}

func (r *SessionReporter) loop() error {
	for {
		select {
		case <-r.catacomb.Dying():
			return r.catacomb.ErrDying()
		case report := <-r.reports:
			select {
			case <-r.catacomb.Dying():
				return r.catacomb.ErrDying()
			default:
			}
			r.send(report)
		}
	}
}

func (r *SessionReporter) send(report sessionReport) {
	ctx, cancel := context.WithTimeout(r.catacomb.Context(context.Background()), r.config.Timeout)
	defer cancel()

	switch report.kind {
	case sens.Logon:
		result, err := r.config.Notifier.Login(ctx, report.user, r.config.SessionType)
		if err != nil {
			logger.Errorf("%v", err)
			return
		}
		logger.Infof("logon of %q reported, client %s (%s)", report.user, result.IP, result.Hostname)
	case sens.Logoff:
		if err := r.config.Notifier.Logout(ctx, report.user, r.config.SessionType); err != nil {
			logger.Errorf("%v", err)
			return
		}
		logger.Infof("logoff of %q reported", report.user)
	}
}

// ReadyNotifier is the part of the broker client told about readiness.
type ReadyNotifier interface {
	Ready(ctx context.Context, ip string, port int) error
}

// Announcer reports readiness to the broker, retrying for a bounded
// number of attempts.
type Announcer struct {
	Notifier ReadyNotifier
	Clock    clock.Clock

	// Address returns the address to announce.
	Address func() (string, error)
	Port    int

	Attempts int
	Delay    time.Duration
}

// AnnounceReady tells the broker the actor is ready.
func (a *Announcer) AnnounceReady(ctx context.Context) error {
	attempts := a.Attempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := a.Delay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			ip, err := a.Address()
			if err != nil {
				return errors.Trace(err)
			}
			return a.Notifier.Ready(ctx, ip, a.Port)
		},
		Attempts: attempts,
		Delay:    delay,
		Clock:    a.Clock,
		NotifyFunc: func(err error, attempt int) {
			logger.Warningf("announcing readiness, attempt %d: %v", attempt, err)
		},
		Stop: ctx.Done(),
	})
	if err != nil {
		return errors.Annotate(retry.LastError(err), "announcing readiness")
	}
	return nil
}
