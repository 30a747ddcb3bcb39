// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package intentstore persists the domain join intent so that it survives
// process restarts and reboots.
package intentstore

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"gopkg.in/yaml.v2"

	"github.com/virtualcable/udsactor/core/identity"
)

var logger = loggo.GetLogger("udsactor.intentstore")

// Store is a durable single record holding the in-progress join intent.
type Store interface {
	// Load returns the stored intent, or an error satisfying
	// errors.Is(err, errors.NotFound) if no join was requested.
	Load() (identity.JoinIntent, error)

	// Save replaces the stored intent.
	Save(identity.JoinIntent) error

	// Clear removes the stored intent. Clearing an empty store is not
	// an error.
	Clear() error
}

// record is the serialised form of a join intent. The secret is never
// stored in the clear.
type record struct {
	TargetName         string `yaml:"target-name"`
	Domain             string `yaml:"domain"`
	OrganizationalUnit string `yaml:"organizational-unit,omitempty"`
	Account            string `yaml:"account"`
	SealedSecret       string `yaml:"sealed-secret,omitempty"`
	Strategy           string `yaml:"strategy,omitempty"`
}

func (r record) intent(secret []byte) identity.JoinIntent {
	return identity.JoinIntent{
		TargetName:         r.TargetName,
		Domain:             r.Domain,
		OrganizationalUnit: r.OrganizationalUnit,
		Account:            r.Account,
		Secret:             secret,
		Strategy:           identity.Strategy(r.Strategy),
	}
}

func newRecord(intent identity.JoinIntent, sealed string) record {
	return record{
		TargetName:         intent.TargetName,
		Domain:             intent.Domain,
		OrganizationalUnit: intent.OrganizationalUnit,
		Account:            intent.Account,
		SealedSecret:       sealed,
		Strategy:           string(intent.Strategy),
	}
}

// encodeRecord serialises rec as a single document, so a store can
// replace it in one write.
func encodeRecord(rec record) ([]byte, error) {
	data, err := yaml.Marshal(rec)
	return data, errors.Trace(err)
}

// decodeRecord parses a serialised record. A record missing a field
// the controller needs is rejected rather than acted on.
func decodeRecord(data []byte) (record, error) {
	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return record{}, errors.Trace(err)
	}
	if err := rec.intent(nil).Validate(); err != nil {
		return record{}, errors.Annotate(err, "invalid join intent record")
	}
	return rec, nil
}
