// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

var (
	NewIdentityController = &newIdentityController
	AcquireLock           = &acquireLock
	NewActor              = &newActor
	NotifySignals         = &notifySignals
	RunUntilSignalled     = runUntilSignalled
	OpenIntentStore       = openIntentStore
)
