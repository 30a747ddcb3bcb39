// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package sessionguard keeps the local Remote Desktop Users group in step
// with who is connected: a user connecting over RDP who is not already a
// member is added for the lifetime of the session and removed again when
// the session ends.
//
// Only the most recently added user is remembered. Concurrent multi-user
// RDP sessions are not modelled: a second connection overwrites the
// pending removal of the first.
package sessionguard

import (
	"fmt"
	"strings"

	"github.com/juju/errors"

	"github.com/virtualcable/udsactor/internal/sens"
)

const (
	// RemoteDesktopUsersSID is the well-known SID of the Remote Desktop
	// Users group, independent of the OS language.
	RemoteDesktopUsersSID = "S-1-5-32-555"

	// ProtocolRDP is the only protocol the guard acts on.
	ProtocolRDP = "rdp"

	// ErrGroupManagement is wrapped by every failure managing the group.
	ErrGroupManagement = errors.ConstError("group management failed")
)

// ResumeHandle is the enumeration cursor of a group member listing.
// Zero means the listing is exhausted.
type ResumeHandle uint32

// GroupAPI is the local group management API.
type GroupAPI interface {
	// LookupGroupName resolves a SID to the localised group name.
	LookupGroupName(sid string) (string, error)

	// Members returns one page of group members starting at resume,
	// along with the cursor for the next page.
	Members(group string, resume ResumeHandle) ([]string, ResumeHandle, error)

	// AddMember adds a user to a group.
	AddMember(group, user string) error

	// RemoveMember removes a user from a group.
	RemoveMember(group, user string) error
}

// Logger is the logging interface used by the guard.
type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Errorf(string, ...interface{})
}

// OperationRecorder is told about the outcome of every group operation.
type OperationRecorder interface {
	RecordGroupOperation(operation string, err error)
}

// Config holds the dependencies of a Guard.
type Config struct {
	Groups GroupAPI
	Logger Logger

	// Next, if set, receives every event after the guard has handled
	// it.
	Next sens.Listener

	// Recorder is optional.
	Recorder OperationRecorder
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Groups == nil {
		return errors.NotValidf("nil Groups")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Guard implements sens.Listener. It is not safe for concurrent use; the
// event system dispatches on a single goroutine.
type Guard struct {
	config Config

	// pendingUser is the single user the guard added and must remove.
	pendingUser *string
}

var _ sens.Listener = (*Guard)(nil)

// New returns a guard using the given config.
func New(config Config) (*Guard, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.Next == nil {
		config.Next = sens.NopListener{}
	}
	return &Guard{config: config}, nil
}

// PendingUser returns the user to be removed when the session ends.
func (g *Guard) PendingUser() (string, bool) {
	if g.pendingUser == nil {
		return "", false
	}
	return *g.pendingUser, true
}

// OnConnect is part of the sens.Listener interface. It returns the user
// unchanged, as produced by the next listener.
func (g *Guard) OnConnect(user, protocol, address, host string) string {
	g.config.Logger.Debugf("pre connect of %q over %q from %s (%s)", user, protocol, address, host)
	if protocol == ProtocolRDP {
		g.grant(user)
	}
	return g.config.Next.OnConnect(user, protocol, address, host)
}

// OnDisconnect is part of the sens.Listener interface. It removes the
// pending user, which need not be the user reported by the event.
func (g *Guard) OnDisconnect(user string) {
	g.config.Logger.Debugf("disconnect of %q, pending removal %v", user, g.pendingDescription())
	g.revoke()
	g.config.Next.OnDisconnect(user)
}

// OnLogon is part of the sens.Listener interface.
func (g *Guard) OnLogon(user string) {
	g.config.Next.OnLogon(user)
}

// OnLogoff is part of the sens.Listener interface.
func (g *Guard) OnLogoff(user string) {
	g.config.Next.OnLogoff(user)
}

func (g *Guard) grant(user string) {
	group, err := g.groupName()
	if err != nil {
		g.config.Logger.Errorf("cannot resolve Remote Desktop Users group: %v", err)
		return
	}
	member, err := g.isMember(group, user)
	if err != nil {
		g.config.Logger.Errorf("cannot list members of %q: %v", group, err)
		return
	}
	if member {
		g.pendingUser = nil
		g.config.Logger.Debugf("user %q already in group %q", user, group)
		return
	}

	g.config.Logger.Debugf("user %q not in group %q, adding it", user, group)
	g.pendingUser = &user
	err = g.config.Groups.AddMember(group, user)
	g.record("add", err)
	if err != nil {
		g.config.Logger.Errorf("adding %q to %q: %v", user, group, groupError(err))
	}
}

func (g *Guard) revoke() {
	group, err := g.groupName()
	if err != nil {
		g.config.Logger.Errorf("cannot resolve Remote Desktop Users group: %v", err)
		g.pendingUser = nil
		return
	}
	if g.pendingUser == nil {
		return
	}
	user := *g.pendingUser
	g.pendingUser = nil

	err = g.config.Groups.RemoveMember(group, user)
	g.record("remove", err)
	if err != nil {
		g.config.Logger.Errorf("removing %q from %q: %v", user, group, groupError(err))
		return
	}
	g.config.Logger.Infof("removed %q from %q", user, group)
}

func (g *Guard) groupName() (string, error) {
	group, err := g.config.Groups.LookupGroupName(RemoteDesktopUsersSID)
	g.record("lookup", err)
	if err != nil {
		return "", groupError(err)
	}
	return group, nil
}

// isMember walks every page of the group listing until the user is found
// or the resume handle comes back as zero.
func (g *Guard) isMember(group, user string) (bool, error) {
	var resume ResumeHandle
	for {
		members, next, err := g.config.Groups.Members(group, resume)
		g.record("enumerate", err)
		if err != nil {
			return false, groupError(err)
		}
		for _, m := range members {
			if sameAccount(m, user) {
				return true, nil
			}
		}
		if next == 0 {
			return false, nil
		}
		resume = next
	}
}

func (g *Guard) record(operation string, err error) {
	if g.config.Recorder != nil {
		g.config.Recorder.RecordGroupOperation(operation, err)
	}
}

func (g *Guard) pendingDescription() string {
	if user, ok := g.PendingUser(); ok {
		return fmt.Sprintf("%q", user)
	}
	return "none"
}

// sameAccount reports whether a DOMAIN\name group member is user. A
// qualified user must match the qualifier too; an unqualified one
// matches on the name alone.
func sameAccount(member, user string) bool {
	if strings.Contains(user, `\`) {
		return strings.EqualFold(member, user)
	}
	if i := strings.LastIndex(member, `\`); i >= 0 {
		member = member[i+1:]
	}
	return strings.EqualFold(member, user)
}

func groupError(err error) error {
	if errors.Is(err, ErrGroupManagement) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrGroupManagement, err)
}
