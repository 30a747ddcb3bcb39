// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package domainjoin_test

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"

	"github.com/virtualcable/udsactor/core/identity"
)

// memStore is an in-memory intentstore.Store.
type memStore struct {
	intent *identity.JoinIntent
	saves  int
}

func (s *memStore) Load() (identity.JoinIntent, error) {
	if s.intent == nil {
		return identity.JoinIntent{}, errors.NotFoundf("join intent")
	}
	return *s.intent, nil
}

func (s *memStore) Save(intent identity.JoinIntent) error {
	s.saves++
	s.intent = &intent
	return nil
}

func (s *memStore) Clear() error {
	s.intent = nil
	return nil
}

// fakeMachine applies renames and joins to its facts the way Windows
// does: a rename only becomes active once the machine reboots.
type fakeMachine struct {
	testing.Stub
	facts          identity.Facts
	rebootRequests int
}

func (m *fakeMachine) Facts(ctx context.Context) (identity.Facts, error) {
	m.AddCall("Facts")
	return m.facts, m.NextErr()
}

func (m *fakeMachine) Rename(ctx context.Context, name string) error {
	m.AddCall("Rename", name)
	if err := m.NextErr(); err != nil {
		return err
	}
	m.facts.PendingName = name
	return nil
}

func (m *fakeMachine) JoinDomain(ctx context.Context, req identity.JoinRequest) error {
	m.AddCall("JoinDomain", req)
	if err := m.NextErr(); err != nil {
		return err
	}
	m.facts.Domain = req.Domain
	return nil
}

func (m *fakeMachine) Reboot(ctx context.Context) error {
	m.AddCall("Reboot")
	m.rebootRequests++
	return m.NextErr()
}

// reboot completes a requested reboot.
func (m *fakeMachine) reboot() {
	m.facts.ActiveName = m.facts.PendingName
}
