// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build !windows

package commands

import (
	"github.com/juju/errors"

	"github.com/virtualcable/udsactor/internal/intentstore"
)

func openRegistryStore() (intentstore.Store, error) {
	return nil, errors.NotSupportedf("registry intent store")
}
