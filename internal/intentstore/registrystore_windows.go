// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

//go:build windows

package intentstore

import (
	"encoding/base64"
	"unsafe"

	"github.com/juju/errors"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/virtualcable/udsactor/core/identity"
)

// DefaultRegistryKey is the HKLM key holding the join intent.
const DefaultRegistryKey = `SOFTWARE\UDSActor\Join`

// valueIntent holds the whole serialised record. A single value is
// replaced in one write, so an interrupted Save leaves either the old
// record or the new one.
const valueIntent = "Intent"

// RegistryStore keeps the intent under an HKLM key. The secret is
// protected with DPAPI bound to the local machine.
type RegistryStore struct {
	path string
}

// NewRegistryStore returns a store using the given HKLM key path.
func NewRegistryStore(path string) *RegistryStore {
	return &RegistryStore{path: path}
}

// Load is part of the Store interface.
func (s *RegistryStore) Load() (identity.JoinIntent, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, s.path, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return identity.JoinIntent{}, errors.NotFoundf("join intent")
	} else if err != nil {
		return identity.JoinIntent{}, errors.Annotatef(err, "opening HKLM\\%s", s.path)
	}
	defer k.Close()

	data, _, err := k.GetStringValue(valueIntent)
	if errors.Is(err, registry.ErrNotExist) {
		return identity.JoinIntent{}, errors.NotFoundf("join intent")
	} else if err != nil {
		return identity.JoinIntent{}, errors.Annotatef(err, "reading %s", valueIntent)
	}
	rec, err := decodeRecord([]byte(data))
	if err != nil {
		return identity.JoinIntent{}, errors.Annotatef(err, "parsing HKLM\\%s\\%s", s.path, valueIntent)
	}

	var secret []byte
	if rec.SealedSecret != "" {
		raw, err := base64.StdEncoding.DecodeString(rec.SealedSecret)
		if err != nil {
			return identity.JoinIntent{}, errors.Annotate(err, "decoding join secret")
		}
		if secret, err = unprotect(raw); err != nil {
			return identity.JoinIntent{}, errors.Annotate(err, "unprotecting join secret")
		}
	}
	return rec.intent(secret), nil
}

// Save is part of the Store interface.
func (s *RegistryStore) Save(intent identity.JoinIntent) error {
	var sealed string
	if len(intent.Secret) > 0 {
		raw, err := protect(intent.Secret)
		if err != nil {
			return errors.Annotate(err, "protecting join secret")
		}
		sealed = base64.StdEncoding.EncodeToString(raw)
	}
	data, err := encodeRecord(newRecord(intent, sealed))
	if err != nil {
		return errors.Trace(err)
	}

	k, _, err := registry.CreateKey(registry.LOCAL_MACHINE, s.path, registry.ALL_ACCESS)
	if err != nil {
		return errors.Annotatef(err, "creating HKLM\\%s", s.path)
	}
	defer k.Close()
	if err := k.SetStringValue(valueIntent, string(data)); err != nil {
		return errors.Annotatef(err, "writing %s", valueIntent)
	}
	logger.Debugf("saved join intent for %q in domain %q", intent.TargetName, intent.Domain)
	return nil
}

// Clear is part of the Store interface.
func (s *RegistryStore) Clear() error {
	err := registry.DeleteKey(registry.LOCAL_MACHINE, s.path)
	if err != nil && !errors.Is(err, registry.ErrNotExist) {
		return errors.Annotatef(err, "deleting HKLM\\%s", s.path)
	}
	return nil
}

func protect(plaintext []byte) ([]byte, error) {
	in := windows.DataBlob{Size: uint32(len(plaintext)), Data: &plaintext[0]}
	var out windows.DataBlob
	flags := uint32(windows.CRYPTPROTECT_LOCAL_MACHINE | windows.CRYPTPROTECT_UI_FORBIDDEN)
	if err := windows.CryptProtectData(&in, nil, nil, 0, nil, flags, &out); err != nil {
		return nil, errors.Trace(err)
	}
	return copyBlob(out), nil
}

func unprotect(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	in := windows.DataBlob{Size: uint32(len(sealed)), Data: &sealed[0]}
	var out windows.DataBlob
	if err := windows.CryptUnprotectData(&in, nil, nil, 0, nil, windows.CRYPTPROTECT_UI_FORBIDDEN, &out); err != nil {
		return nil, errors.Trace(err)
	}
	return copyBlob(out), nil
}

// copyBlob copies a DPAPI output blob into Go memory and frees it.
func copyBlob(blob windows.DataBlob) []byte {
	defer windows.LocalFree(windows.Handle(unsafe.Pointer(blob.Data)))
	if blob.Size == 0 {
		return nil
	}
	return append([]byte(nil), unsafe.Slice(blob.Data, blob.Size)...)
}
