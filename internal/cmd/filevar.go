// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package cmd

import (
	"io"
	"os"

	"github.com/juju/errors"
)

// FileVar represents a path to a file. "-" reads from stdin.
type FileVar struct {
	// Path is the path to the file.
	Path string
}

// Set stores the chosen path name in f.Path.
func (f *FileVar) Set(v string) error {
	f.Path = v
	return nil
}

// Open opens the file relative to the context.
func (f *FileVar) Open(ctx *Context) (io.ReadCloser, error) {
	if f.Path == "" {
		return nil, errors.New("path not set")
	}
	if f.Path == "-" {
		return io.NopCloser(ctx.Stdin), nil
	}
	return os.Open(ctx.AbsPath(f.Path))
}

// Read returns the contents of the file.
func (f *FileVar) Read(ctx *Context) ([]byte, error) {
	r, err := f.Open(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// String returns the path to the file.
func (f *FileVar) String() string {
	return f.Path
}
