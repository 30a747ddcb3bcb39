// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package domainjoin drives the rename and domain join protocol that
// gives a provisioned machine its identity. The protocol spans reboots:
// every invocation re-derives where the machine stands from live OS facts
// and issues at most the next step, never trusting the persisted intent
// alone.
package domainjoin

import (
	"context"
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/intentstore"
)

var logger = loggo.GetLogger("udsactor.domainjoin")

// Machine exposes the OS operations the controller needs.
type Machine interface {
	// Facts reads the current computer names, domain membership and OS
	// version.
	Facts(ctx context.Context) (identity.Facts, error)

	// Rename sets the computer name. The new name becomes active on the
	// next reboot.
	Rename(ctx context.Context, name string) error

	// JoinDomain joins the machine to a domain.
	JoinDomain(ctx context.Context, req identity.JoinRequest) error
}

// Rebooter requests a machine reboot. The request may terminate the
// calling process at any point after it is issued.
type Rebooter interface {
	Reboot(ctx context.Context) error
}

// StateRecorder is told about every state the controller reports.
type StateRecorder interface {
	RecordIdentityState(identity.StateKind)
}

// Config holds the dependencies of a Controller.
type Config struct {
	Machine  Machine
	Rebooter Rebooter
	Store    intentstore.Store

	// ForceMultiStep selects the legacy multi-step protocol even on
	// systems able to join in one step.
	ForceMultiStep bool

	// Recorder is optional.
	Recorder StateRecorder
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Machine == nil {
		return errors.NotValidf("nil Machine")
	}
	if c.Rebooter == nil {
		return errors.NotValidf("nil Rebooter")
	}
	if c.Store == nil {
		return errors.NotValidf("nil Store")
	}
	return nil
}

// Controller is the only owner of the join intent.
type Controller struct {
	config Config
}

// NewController returns a controller using the given config.
func NewController(config Config) (*Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Controller{config: config}, nil
}

// RequestJoin records a new join intent, replacing any previous one. It
// does not touch the machine; the next EnsureJoined acts on it.
func (c *Controller) RequestJoin(intent identity.JoinIntent) error {
	if err := intent.Validate(); err != nil {
		return errors.Annotate(err, "invalid join request")
	}
	if err := c.config.Store.Save(intent); err != nil {
		return errors.Annotate(err, "recording join request")
	}
	logger.Infof("join of %q to domain %q requested", intent.TargetName, intent.Domain)
	return nil
}

// Forget drops any recorded join intent.
func (c *Controller) Forget() error {
	return errors.Trace(c.config.Store.Clear())
}

// Intent returns the recorded join intent.
func (c *Controller) Intent() (identity.JoinIntent, error) {
	intent, err := c.config.Store.Load()
	return intent, errors.Trace(err)
}

// Observe derives the identity state for the recorded intent without
// changing anything.
func (c *Controller) Observe(ctx context.Context) (identity.State, error) {
	intent, err := c.config.Store.Load()
	if err != nil {
		return identity.State{}, errors.Trace(err)
	}
	facts, err := c.config.Machine.Facts(ctx)
	if err != nil {
		return identity.ErroredState(err), errors.Annotate(err, "reading machine facts")
	}
	return identity.Derive(facts, intent), nil
}

// EnsureJoinedFromStore runs EnsureJoined for the recorded intent. If no
// join was ever requested the error satisfies errors.IsNotFound.
func (c *Controller) EnsureJoinedFromStore(ctx context.Context) (identity.State, error) {
	intent, err := c.config.Store.Load()
	if err != nil {
		return identity.State{}, errors.Trace(err)
	}
	return c.EnsureJoined(ctx, intent)
}

// EnsureJoined advances the machine towards intent by at most one
// protocol step and reports the resulting state. It is safe to call on
// every process start. When the returned state is Errored the error is
// returned too; there is no retry until the next invocation.
//
// A reboot may be requested as a side effect, so callers must not rely
// on control returning.
func (c *Controller) EnsureJoined(ctx context.Context, intent identity.JoinIntent) (identity.State, error) {
	state, err := c.ensureJoined(ctx, intent)
	if err != nil {
		state = identity.ErroredState(err)
		logger.Errorf("cannot bring %q into domain %q: %v", intent.TargetName, intent.Domain, err)
	}
	if c.config.Recorder != nil {
		c.config.Recorder.RecordIdentityState(state.Kind)
	}
	return state, err
}

func (c *Controller) ensureJoined(ctx context.Context, intent identity.JoinIntent) (identity.State, error) {
	facts, err := c.config.Machine.Facts(ctx)
	if err != nil {
		return identity.State{}, identityError(err, "reading machine facts")
	}
	// A join requested or started as multi step stays multi step.
	forced := c.config.ForceMultiStep || intent.Strategy == identity.MultiStep
	strategy := identity.SelectStrategy(facts.OSVersion, forced)
	logger.Debugf("ensuring %q joined to %q (os %s, name %q, pending %q, domain %q, strategy %s)",
		intent.TargetName, intent.Domain, facts.OSVersion, facts.ActiveName, facts.PendingName, facts.Domain, strategy)

	if strategy == identity.OneStep {
		return c.oneStep(ctx, intent, facts)
	}
	logger.Infof("using multiple step join")
	return c.multiStep(ctx, intent, facts)
}

func (c *Controller) oneStep(ctx context.Context, intent identity.JoinIntent, facts identity.Facts) (identity.State, error) {
	// With the name already in place only the join remains, which is
	// exactly what the multi step protocol does next.
	if identity.SameName(facts.ActiveName, intent.TargetName) {
		return c.multiStep(ctx, intent, facts)
	}
	if facts.RenamePending(intent.TargetName) {
		return c.awaitReboot(ctx, identity.RenamedPendingReboot)
	}

	c.recordStrategy(intent, identity.OneStep)
	if err := c.config.Machine.Rename(ctx, intent.TargetName); err != nil {
		return identity.State{}, identityError(err, "renaming computer to %q", intent.TargetName)
	}
	logger.Debugf("computer renamed to %q without reboot", intent.TargetName)
	if err := c.config.Machine.JoinDomain(ctx, intent.Request(true)); err != nil {
		return identity.State{}, identityError(err, "joining domain %q", intent.Domain)
	}
	logger.Debugf("requested join to domain %q without errors", intent.Domain)
	return c.awaitReboot(ctx, identity.RenamedPendingReboot)
}

func (c *Controller) multiStep(ctx context.Context, intent identity.JoinIntent, facts identity.Facts) (identity.State, error) {
	if !identity.SameName(facts.ActiveName, intent.TargetName) {
		if facts.RenamePending(intent.TargetName) {
			return c.awaitReboot(ctx, identity.RenamedPendingReboot)
		}
		c.recordStrategy(intent, identity.MultiStep)
		if err := c.config.Machine.Rename(ctx, intent.TargetName); err != nil {
			return identity.State{}, identityError(err, "renaming computer to %q", intent.TargetName)
		}
		logger.Infof("rebooting computer to activate new name %q", intent.TargetName)
		return c.awaitReboot(ctx, identity.RenamedPendingReboot)
	}

	// Membership of any domain counts as joined; the recorded domain is
	// not compared against the requested one.
	if facts.Domain != "" {
		logger.Infof("machine %q is part of domain %q", intent.TargetName, facts.Domain)
		if err := c.config.Store.Clear(); err != nil {
			logger.Warningf("cannot clear completed join intent: %v", err)
		}
		return identity.State{Kind: identity.Joined}, nil
	}

	c.recordStrategy(intent, identity.MultiStep)
	if err := c.config.Machine.JoinDomain(ctx, intent.Request(false)); err != nil {
		return identity.State{}, identityError(err, "joining domain %q", intent.Domain)
	}
	return c.awaitReboot(ctx, identity.AwaitingDomainJoin)
}

// awaitReboot requests the reboot that completes the current step.
func (c *Controller) awaitReboot(ctx context.Context, kind identity.StateKind) (identity.State, error) {
	if err := c.config.Rebooter.Reboot(ctx); err != nil {
		return identity.State{}, identityError(err, "requesting reboot")
	}
	return identity.State{Kind: kind}, nil
}

// recordStrategy keeps the chosen strategy in the stored intent for
// audit. Failing to do so does not stop the protocol.
func (c *Controller) recordStrategy(intent identity.JoinIntent, strategy identity.Strategy) {
	if intent.Strategy == strategy {
		return
	}
	intent.Strategy = strategy
	if err := c.config.Store.Save(intent); err != nil {
		logger.Warningf("cannot record join strategy %s: %v", strategy, err)
	}
}

func identityError(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w", identity.ErrIdentity, errors.Annotatef(err, format, args...))
}
