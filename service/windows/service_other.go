// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build !windows

package windows

import (
	"github.com/juju/errors"
)

// IsService reports whether the process was started by the service
// control manager, which is never the case here.
func IsService() (bool, error) {
	return false, nil
}

// OpenEventLog is not supported outside Windows.
func OpenEventLog() (ClosableEventLog, error) {
	return nil, errors.NotSupportedf("event log")
}

// Serve is not supported outside Windows.
func Serve(service *Service) error {
	return errors.NotSupportedf("running as a Windows service")
}
