// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package commands

import (
	"path/filepath"

	"github.com/juju/errors"

	"github.com/virtualcable/udsactor/agent"
	"github.com/virtualcable/udsactor/internal/intentstore"
)

// intentDir is the directory under the data dir holding the file
// intent store.
const intentDir = "join"

// openIntentStore returns the intent store selected by config.
func openIntentStore(config agent.Config) (intentstore.Store, error) {
	switch config.IntentStore {
	case agent.IntentStoreFile:
		store, err := intentstore.NewFileStore(filepath.Join(config.DataDir, intentDir))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return store, nil
	case agent.IntentStoreRegistry:
		return openRegistryStore()
	}
	return nil, errors.NotValidf("intent-store %q", config.IntentStore)
}
