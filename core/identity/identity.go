// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package identity holds the types describing the machine identity the
// actor drives towards: the persisted join intent, the live OS facts the
// controller observes, and the identity state derived from both.
package identity

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/version/v2"
)

const (
	// ErrIdentity is wrapped by every failure of a rename or join
	// operation issued against the OS.
	ErrIdentity = errors.ConstError("identity operation failed")
)

// OneStepMinimumVersion is the first OS version able to rename the
// computer and join a domain in a single operation completed by one
// reboot.
var OneStepMinimumVersion = version.Number{Major: 6, Minor: 0}

// Strategy selects how a rename and domain join are sequenced.
type Strategy string

const (
	// OneStep renames and joins in a single operation completed by one
	// reboot.
	OneStep Strategy = "one-step"

	// MultiStep renames, reboots, then joins and reboots again.
	MultiStep Strategy = "multi-step"
)

// SelectStrategy returns the join strategy for the given OS version.
// It is a pure function of its arguments.
func SelectStrategy(osVersion version.Number, forceMultiStep bool) Strategy {
	if !forceMultiStep && osVersion.Compare(OneStepMinimumVersion) >= 0 {
		return OneStep
	}
	return MultiStep
}

// JoinIntent is the persisted request to bring this machine into a
// domain under a given name.
type JoinIntent struct {
	TargetName         string
	Domain             string
	OrganizationalUnit string
	Account            string
	Secret             []byte
	Strategy           Strategy
}

// Validate ensures the intent carries enough information to drive a join.
func (i JoinIntent) Validate() error {
	if i.TargetName == "" {
		return errors.NotValidf("empty target name")
	}
	if i.Domain == "" {
		return errors.NotValidf("empty domain")
	}
	if i.Account == "" {
		return errors.NotValidf("empty account")
	}
	switch i.Strategy {
	case "", OneStep, MultiStep:
	default:
		return errors.NotValidf("strategy %q", i.Strategy)
	}
	return nil
}

// Request returns the OS level join request for the intent.
func (i JoinIntent) Request(oneStep bool) JoinRequest {
	return JoinRequest{
		Domain:             i.Domain,
		OrganizationalUnit: i.OrganizationalUnit,
		Account:            QualifiedAccount(i.Domain, i.Account),
		Secret:             i.Secret,
		OneStep:            oneStep,
	}
}

// JoinRequest holds the arguments of a single domain join call.
type JoinRequest struct {
	Domain             string
	OrganizationalUnit string
	Account            string
	Secret             []byte

	// OneStep asks the OS to complete a pending rename together with
	// the join on the next reboot.
	OneStep bool
}

// QualifiedAccount prefixes the account with the domain unless it is
// already qualified, either as DOMAIN\account or account@domain.
func QualifiedAccount(domain, account string) string {
	if strings.ContainsAny(account, `\@`) {
		return account
	}
	return domain + `\` + account
}

// SameName reports whether two computer names are the same. Computer
// names are case insensitive.
func SameName(a, b string) bool {
	return strings.EqualFold(a, b)
}

// Facts are the live OS observations the controller derives the state
// from. They are read fresh on every invocation and never cached.
type Facts struct {
	// ActiveName is the computer name currently in effect.
	ActiveName string

	// PendingName is the computer name that becomes active on the next
	// reboot. It equals ActiveName when no rename is pending.
	PendingName string

	// Domain is the domain the machine is a member of, empty when the
	// machine belongs to a workgroup.
	Domain string

	OSVersion version.Number
}

// RenamePending reports whether a rename to target has been applied but
// is waiting on a reboot.
func (f Facts) RenamePending(target string) bool {
	return !SameName(f.ActiveName, target) && SameName(f.PendingName, target)
}

// StateKind enumerates the machine identity states.
type StateKind string

const (
	NameMismatch         StateKind = "name-mismatch"
	RenamedPendingReboot StateKind = "renamed-pending-reboot"
	AwaitingDomainJoin   StateKind = "awaiting-domain-join"
	Joined               StateKind = "joined"
	Errored              StateKind = "errored"
)

// AllStateKinds lists every state kind, in protocol order.
var AllStateKinds = []StateKind{
	NameMismatch,
	RenamedPendingReboot,
	AwaitingDomainJoin,
	Joined,
	Errored,
}

// State is the derived machine identity state.
type State struct {
	Kind StateKind

	// Reason is set only for Errored.
	Reason error
}

// ErroredState returns an Errored state for err.
func ErroredState(err error) State {
	return State{Kind: Errored, Reason: err}
}

// RebootPending reports whether the state is only resolved by a reboot.
func (s State) RebootPending() bool {
	switch s.Kind {
	case RenamedPendingReboot, AwaitingDomainJoin:
		return true
	}
	return false
}

func (s State) String() string {
	if s.Kind == Errored && s.Reason != nil {
		return fmt.Sprintf("%s(%v)", s.Kind, s.Reason)
	}
	return string(s.Kind)
}

// Derive returns the state observed before any action is taken.
func Derive(facts Facts, intent JoinIntent) State {
	switch {
	case facts.RenamePending(intent.TargetName):
		return State{Kind: RenamedPendingReboot}
	case !SameName(facts.ActiveName, intent.TargetName):
		return State{Kind: NameMismatch}
	case facts.Domain == "":
		return State{Kind: AwaitingDomainJoin}
	}
	return State{Kind: Joined}
}
