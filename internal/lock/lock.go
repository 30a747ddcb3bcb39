// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package lock provides the machine wide lock serialising everything
// that changes the machine identity.
package lock

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/mutex/v2"
)

const (
	// Name is the machine wide mutex name.
	Name = "udsactor-identity"

	defaultTimeout = 30 * time.Second
	defaultDelay   = 250 * time.Millisecond
)

// ErrLocked is returned when the lock is held elsewhere for longer than
// the timeout.
const ErrLocked = errors.ConstError("identity lock held by another process")

// Releaser releases an acquired lock.
type Releaser interface {
	Release()
}

// Config describes how to acquire the lock.
type Config struct {
	Clock   clock.Clock
	Timeout time.Duration

	// Cancel, if set, abandons the acquisition when closed.
	Cancel <-chan struct{}
}

// Acquire takes the machine wide identity lock.
func Acquire(config Config) (Releaser, error) {
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    Name,
		Clock:   config.Clock,
		Delay:   defaultDelay,
		Timeout: config.Timeout,
		Cancel:  config.Cancel,
	})
	if errors.Is(err, mutex.ErrTimeout) {
		return nil, errors.Trace(ErrLocked)
	}
	if err != nil {
		return nil, errors.Annotate(err, "acquiring identity lock")
	}
	return releaser, nil
}
