// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package sens is the session notification subsystem. Producers on any
// goroutine publish session events; the owner of the subsystem pumps them
// and they are dispatched synchronously, on the pumping goroutine, to the
// listeners of the stored subscriptions.
package sens

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("udsactor.sens")

const (
	// ErrNotification is wrapped by registration, deregistration and
	// delivery failures.
	ErrNotification = errors.ConstError("session notification failure")

	// DefaultQueueSize bounds the events waiting to be pumped.
	DefaultQueueSize = 64
)

var (
	// EventClassLogon identifies the logon event class.
	EventClassLogon = uuid.MustParse("{D5978630-5B9F-11D1-8DD2-00AA004ABD5E}")

	// Publisher identifies the publisher of session events.
	Publisher = uuid.MustParse("{5FEE1BD6-5B9B-11D1-8DD2-00AA004ABD5E}")

	// ActorSubscriptionID is the fixed identifier of the actor's
	// subscription, stable across restarts so that registering again
	// replaces rather than duplicates.
	ActorSubscriptionID = uuid.MustParse("{41099152-498E-11E4-8FD3-10FEED05884B}")
)

// ActorSubscriptionName is the display name of the actor's subscription.
const ActorSubscriptionName = "UDS Actor subscription"

// FormatID renders an identifier in registry format, {XXXXXXXX-...}.
func FormatID(id uuid.UUID) string {
	return "{" + strings.ToUpper(id.String()) + "}"
}

// SubscriptionCriteria returns the removal criteria matching exactly the
// subscription with the given id.
func SubscriptionCriteria(id uuid.UUID) string {
	return "SubscriptionID == " + FormatID(id)
}

var criteriaRegexp = regexp.MustCompile(`^\s*SubscriptionID\s*==\s*(\{[0-9A-Fa-f-]{36}\})\s*$`)

// Listener is the capability set a subscriber implements.
type Listener interface {
	// OnConnect is told about an incoming session before it is
	// established. It returns the user name for downstream processing.
	OnConnect(user, protocol, address, host string) string

	// OnDisconnect is told about a session ending.
	OnDisconnect(user string)

	// OnLogon is told about a completed logon.
	OnLogon(user string)

	// OnLogoff is told about a logoff.
	OnLogoff(user string)
}

// NopListener implements Listener doing nothing. Embed it to implement
// only part of the capability set.
type NopListener struct{}

func (NopListener) OnConnect(user, protocol, address, host string) string { return user }
func (NopListener) OnDisconnect(string)                                   {}
func (NopListener) OnLogon(string)                                        {}
func (NopListener) OnLogoff(string)                                       {}

// Subscription binds a listener to an event class.
type Subscription struct {
	ID           uuid.UUID
	Name         string
	EventClassID uuid.UUID
	PublisherID  uuid.UUID
	Listener     Listener
}

// Validate ensures the subscription can be stored.
func (s Subscription) Validate() error {
	if s.ID == uuid.Nil {
		return errors.NotValidf("nil subscription ID")
	}
	if s.EventClassID == uuid.Nil {
		return errors.NotValidf("nil event class ID")
	}
	if s.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	return nil
}

// EventKind enumerates session events.
type EventKind string

const (
	Connect    EventKind = "connect"
	Disconnect EventKind = "disconnect"
	Logon      EventKind = "logon"
	Logoff     EventKind = "logoff"
)

// Event is a single session notification.
type Event struct {
	Kind         EventKind
	EventClassID uuid.UUID
	User         string
	Protocol     string
	Address      string
	Host         string

	// done, when set, receives the OnConnect results once the event has
	// been dispatched.
	done chan []string
}

// NewConnectEvent returns a logon class Connect event.
func NewConnectEvent(user, protocol, address, host string) Event {
	return Event{
		Kind:         Connect,
		EventClassID: EventClassLogon,
		User:         user,
		Protocol:     protocol,
		Address:      address,
		Host:         host,
	}
}

// NewEvent returns a logon class event carrying only a user.
func NewEvent(kind EventKind, user string) Event {
	return Event{Kind: kind, EventClassID: EventClassLogon, User: user}
}

func (e Event) String() string {
	if e.Kind == Connect {
		return fmt.Sprintf("%s(%s, %s, %s, %s)", e.Kind, e.User, e.Protocol, e.Address, e.Host)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.User)
}

// EventObserver is told about every dispatched event.
type EventObserver interface {
	ObserveSessionEvent(EventKind)
}

// EventSystem stores subscriptions and queues events for them.
type EventSystem struct {
	mu            sync.Mutex
	subscriptions map[uuid.UUID]Subscription
	queue         chan Event
	observer      EventObserver
}

// NewEventSystem returns an event system queueing up to size events.
// The observer is optional.
func NewEventSystem(size int, observer EventObserver) *EventSystem {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &EventSystem{
		subscriptions: make(map[uuid.UUID]Subscription),
		queue:         make(chan Event, size),
		observer:      observer,
	}
}

// Store registers the subscription, replacing any subscription with the
// same ID.
func (es *EventSystem) Store(sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotification, err)
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, exists := es.subscriptions[sub.ID]; exists {
		logger.Debugf("replacing subscription %s", FormatID(sub.ID))
	}
	es.subscriptions[sub.ID] = sub
	return nil
}

// Remove deletes the subscription selected by criteria, which must be of
// the form "SubscriptionID == {GUID}".
func (es *EventSystem) Remove(criteria string) error {
	m := criteriaRegexp.FindStringSubmatch(criteria)
	if m == nil {
		return fmt.Errorf("%w: %w", ErrNotification, errors.NotValidf("criteria %q", criteria))
	}
	id, err := uuid.Parse(m[1])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotification, errors.NotValidf("criteria %q", criteria))
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, exists := es.subscriptions[id]; !exists {
		return fmt.Errorf("%w: %w", ErrNotification, errors.NotFoundf("subscription %s", FormatID(id)))
	}
	delete(es.subscriptions, id)
	return nil
}

// Subscriptions returns the IDs of the stored subscriptions.
func (es *EventSystem) Subscriptions() []uuid.UUID {
	es.mu.Lock()
	defer es.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(es.subscriptions))
	for id := range es.subscriptions {
		ids = append(ids, id)
	}
	return ids
}

// Publish queues an event without blocking. It is safe to call from any
// goroutine.
func (es *EventSystem) Publish(ev Event) error {
	select {
	case es.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%w: queue full, dropping %s", ErrNotification, ev)
	}
}

// PublishAndWait queues a Connect event and waits until it has been
// dispatched, returning the user name produced by the first listener.
func (es *EventSystem) PublishAndWait(ctx context.Context, ev Event) (string, error) {
	ev.done = make(chan []string, 1)
	if err := es.Publish(ev); err != nil {
		return "", errors.Trace(err)
	}
	select {
	case results := <-ev.done:
		if len(results) == 0 {
			return ev.User, nil
		}
		return results[0], nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for %s: %w", ErrNotification, ev, ctx.Err())
	}
}

// PumpWaitingMessages dispatches every queued event without blocking
// and returns how many were dispatched. Listeners run on the calling
// goroutine.
func (es *EventSystem) PumpWaitingMessages() int {
	n := 0
	for {
		select {
		case ev := <-es.queue:
			es.dispatch(ev)
			n++
		default:
			return n
		}
	}
}

func (es *EventSystem) dispatch(ev Event) {
	logger.Tracef("dispatching %s", ev)
	if es.observer != nil {
		es.observer.ObserveSessionEvent(ev.Kind)
	}
	var results []string
	for _, sub := range es.matching(ev.EventClassID) {
		switch ev.Kind {
		case Connect:
			results = append(results, sub.Listener.OnConnect(ev.User, ev.Protocol, ev.Address, ev.Host))
		case Disconnect:
			sub.Listener.OnDisconnect(ev.User)
		case Logon:
			sub.Listener.OnLogon(ev.User)
		case Logoff:
			sub.Listener.OnLogoff(ev.User)
		default:
			logger.Warningf("ignoring unknown event %q", ev.Kind)
		}
	}
	if ev.done != nil {
		ev.done <- results
	}
}

// matching returns the subscriptions for an event class. Listeners are
// called without the lock held so they may use the event system.
func (es *EventSystem) matching(class uuid.UUID) []Subscription {
	es.mu.Lock()
	defer es.mu.Unlock()
	var subs []Subscription
	for _, sub := range es.subscriptions {
		if sub.EventClassID == class {
			subs = append(subs, sub)
		}
	}
	return subs
}
