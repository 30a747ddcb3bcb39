// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package machine is the platform layer: it reads and changes the
// computer name and domain membership, manages local groups and
// resolves session users.
package machine

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/version/v2"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/domainjoin"
	"github.com/virtualcable/udsactor/internal/sessionguard"
)

var logger = loggo.GetLogger("udsactor.machine")

// ErrNotSupported is returned by operations the current platform cannot
// perform.
const ErrNotSupported = errors.ConstError("not supported on this platform")

// NetJoinDomain option flags.
const (
	joinDomain         = 0x00000001
	accountCreate      = 0x00000002
	domainJoinIfJoined = 0x00000020
	joinWithNewName    = 0x00000400
)

// statusAccountExists is NERR_UserExists, reported when the computer
// account already exists in a different OU.
const statusAccountExists = 2224

var (
	_ domainjoin.Machine    = (*Machine)(nil)
	_ sessionguard.GroupAPI = (*Machine)(nil)
)

// StatusError is a failed network management call.
type StatusError struct {
	Op     string
	Status uint32
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
}

// joinFlags returns the flags of the first join attempt.
func joinFlags(oneStep bool) uint32 {
	flags := uint32(joinDomain | accountCreate | domainJoinIfJoined)
	if oneStep {
		flags |= joinWithNewName
	}
	return flags
}

// joinCall performs one NetJoinDomain call and returns its status.
type joinCall func(domain, ou, account string, secret []byte, flags uint32) uint32

// join runs the join protocol on top of call. When the account already
// exists it joins once more reusing the account, wherever it lives.
func join(call joinCall, req identity.JoinRequest) error {
	flags := joinFlags(req.OneStep)
	status := call(req.Domain, req.OrganizationalUnit, req.Account, req.Secret, flags)
	if status == statusAccountExists {
		logger.Warningf("computer account already exists in %s, joining the existing account", req.Domain)
		status = call(req.Domain, "", req.Account, req.Secret, flags&^accountCreate)
	}
	if status != 0 {
		return errors.Annotatef(&StatusError{Op: "NetJoinDomain", Status: status}, "joining domain %q", req.Domain)
	}
	return nil
}

// osVersion converts the OS version triplet.
func osVersion(major, minor, build uint32) version.Number {
	return version.Number{Major: int(major), Minor: int(minor), Patch: int(build)}
}
