// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package intentstore

import (
	"bytes"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/juju/errors"
	"github.com/juju/utils/v4"

	"github.com/virtualcable/udsactor/core/identity"
)

const (
	// IntentFileName is the name of the intent record in the data dir.
	IntentFileName = "join-intent.yaml"

	// KeyFileName holds the age identity sealing the join secret.
	KeyFileName = "join-intent.key"
)

// FileStore keeps the intent as a YAML document in a directory. The
// join secret is sealed with an age x25519 identity stored next to it,
// readable only by the owner.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.NotValidf("empty directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Annotatef(err, "creating intent directory %q", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path() string {
	return filepath.Join(s.dir, IntentFileName)
}

func (s *FileStore) keyPath() string {
	return filepath.Join(s.dir, KeyFileName)
}

// Load is part of the Store interface.
func (s *FileStore) Load() (identity.JoinIntent, error) {
	data, err := os.ReadFile(s.path())
	if os.IsNotExist(err) {
		return identity.JoinIntent{}, errors.NotFoundf("join intent")
	} else if err != nil {
		return identity.JoinIntent{}, errors.Trace(err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return identity.JoinIntent{}, errors.Annotatef(err, "parsing %q", s.path())
	}
	var secret []byte
	if rec.SealedSecret != "" {
		key, err := s.identity(false)
		if err != nil {
			return identity.JoinIntent{}, errors.Trace(err)
		}
		if secret, err = unseal(rec.SealedSecret, key); err != nil {
			return identity.JoinIntent{}, errors.Annotate(err, "unsealing join secret")
		}
	}
	return rec.intent(secret), nil
}

// Save is part of the Store interface.
func (s *FileStore) Save(intent identity.JoinIntent) error {
	var sealed string
	if len(intent.Secret) > 0 {
		key, err := s.identity(true)
		if err != nil {
			return errors.Trace(err)
		}
		if sealed, err = seal(intent.Secret, key.Recipient()); err != nil {
			return errors.Annotate(err, "sealing join secret")
		}
	}
	data, err := encodeRecord(newRecord(intent, sealed))
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(s.path(), data, 0600); err != nil {
		return errors.Annotatef(err, "writing %q", s.path())
	}
	logger.Debugf("saved join intent for %q in domain %q", intent.TargetName, intent.Domain)
	return nil
}

// Clear is part of the Store interface. The sealing identity is kept so
// a later Save reuses it.
func (s *FileStore) Clear() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return errors.Trace(err)
	}
	return nil
}

// identity reads the sealing identity, generating it when create is set
// and no identity exists yet.
func (s *FileStore) identity(create bool) (*age.X25519Identity, error) {
	data, err := os.ReadFile(s.keyPath())
	if err == nil {
		key, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		return key, errors.Annotatef(err, "parsing %q", s.keyPath())
	}
	if !os.IsNotExist(err) || !create {
		return nil, errors.Annotatef(err, "reading sealing key")
	}
	key, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, errors.Annotate(err, "generating sealing key")
	}
	if err := utils.AtomicWriteFile(s.keyPath(), []byte(key.String()+"\n"), 0600); err != nil {
		return nil, errors.Annotatef(err, "writing %q", s.keyPath())
	}
	return key, nil
}

func seal(plaintext []byte, recipient age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return "", errors.Trace(err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return "", errors.Trace(err)
	}
	if err := w.Close(); err != nil {
		return "", errors.Trace(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func unseal(sealed string, key age.Identity) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, errors.Trace(err)
	}
	r, err := age.Decrypt(bytes.NewReader(raw), key)
	if err != nil {
		return nil, errors.Trace(err)
	}
	plaintext, err := io.ReadAll(r)
	return plaintext, errors.Trace(err)
}
