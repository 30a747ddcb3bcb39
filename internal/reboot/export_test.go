// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package reboot

// NewForOS returns a rebooter behaving as it does on goos.
func NewForOS(run Runner, goos string, delay int) *Rebooter {
	return &Rebooter{run: run, goos: goos, delay: delay}
}
