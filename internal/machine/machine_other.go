// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build !windows

package machine

import (
	"context"
	"os"

	"github.com/juju/errors"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/sessionguard"
)

// Machine reports the host name and refuses every change. It lets the
// agent run in a console for development.
type Machine struct {
	hostname func() (string, error)
}

// New returns the Machine of the current platform.
func New() *Machine {
	return &Machine{hostname: os.Hostname}
}

// Facts is part of the domainjoin.Machine interface.
func (m *Machine) Facts(ctx context.Context) (identity.Facts, error) {
	name, err := m.hostname()
	if err != nil {
		return identity.Facts{}, errors.Annotate(err, "reading host name")
	}
	return identity.Facts{ActiveName: name, PendingName: name}, nil
}

// Rename is part of the domainjoin.Machine interface.
func (m *Machine) Rename(ctx context.Context, name string) error {
	return errors.Annotatef(ErrNotSupported, "renaming computer to %q", name)
}

// JoinDomain is part of the domainjoin.Machine interface.
func (m *Machine) JoinDomain(ctx context.Context, req identity.JoinRequest) error {
	return errors.Annotatef(ErrNotSupported, "joining domain %q", req.Domain)
}

// LookupGroupName is part of the sessionguard.GroupAPI interface.
func (m *Machine) LookupGroupName(sid string) (string, error) {
	return "", errors.Annotatef(ErrNotSupported, "looking up %s", sid)
}

// Members is part of the sessionguard.GroupAPI interface.
func (m *Machine) Members(group string, resume sessionguard.ResumeHandle) ([]string, sessionguard.ResumeHandle, error) {
	return nil, 0, errors.Annotatef(ErrNotSupported, "listing members of %q", group)
}

// AddMember is part of the sessionguard.GroupAPI interface.
func (m *Machine) AddMember(group, user string) error {
	return errors.Annotatef(ErrNotSupported, "adding %q to %q", user, group)
}

// RemoveMember is part of the sessionguard.GroupAPI interface.
func (m *Machine) RemoveMember(group, user string) error {
	return errors.Annotatef(ErrNotSupported, "removing %q from %q", user, group)
}

// SessionUser returns the user logged on to a session.
func (m *Machine) SessionUser(session uint32) (string, error) {
	return "", errors.Annotatef(ErrNotSupported, "querying session %d", session)
}

// InitializeCOM is a no-op outside Windows.
func InitializeCOM() (func(), error) {
	return func() {}, nil
}
