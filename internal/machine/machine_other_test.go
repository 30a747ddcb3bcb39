// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build !windows

package machine

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/virtualcable/udsactor/core/identity"
)

type otherSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&otherSuite{})

func (s *otherSuite) TestFacts(c *gc.C) {
	m := &Machine{hostname: func() (string, error) { return "devbox", nil }}
	facts, err := m.Facts(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(facts, jc.DeepEquals, identity.Facts{ActiveName: "devbox", PendingName: "devbox"})
	c.Assert(identity.Derive(facts, identity.JoinIntent{TargetName: "DEVBOX"}).Kind, gc.Equals, identity.AwaitingDomainJoin)
}

func (s *otherSuite) TestFactsError(c *gc.C) {
	m := &Machine{hostname: func() (string, error) { return "", errors.New("boom") }}
	_, err := m.Facts(context.Background())
	c.Assert(err, gc.ErrorMatches, "reading host name: boom")
}

func (s *otherSuite) TestChangesNotSupported(c *gc.C) {
	m := New()
	err := m.Rename(context.Background(), "VDI-007")
	c.Check(err, jc.ErrorIs, ErrNotSupported)
	err = m.JoinDomain(context.Background(), identity.JoinRequest{Domain: "corp"})
	c.Check(err, jc.ErrorIs, ErrNotSupported)
	_, err = m.LookupGroupName("S-1-5-32-555")
	c.Check(err, jc.ErrorIs, ErrNotSupported)
	_, _, err = m.Members("Remote Desktop Users", 0)
	c.Check(err, jc.ErrorIs, ErrNotSupported)
	c.Check(m.AddMember("Remote Desktop Users", "alice"), jc.ErrorIs, ErrNotSupported)
	c.Check(m.RemoveMember("Remote Desktop Users", "alice"), jc.ErrorIs, ErrNotSupported)
	_, err = m.SessionUser(2)
	c.Check(err, jc.ErrorIs, ErrNotSupported)
}

func (s *otherSuite) TestInitializeCOM(c *gc.C) {
	cleanup, err := InitializeCOM()
	c.Assert(err, jc.ErrorIsNil)
	cleanup()
}
