// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build !windows

package agent

const defaultIntentStore = IntentStoreFile
