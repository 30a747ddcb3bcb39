// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package agent

import (
	"path/filepath"
	"runtime"
)

// ConfigFilename is the name of the agent config file in the data
// directory.
const ConfigFilename = "agent.yaml"

// Paths holds the OS specific default locations of the agent.
type Paths struct {
	// DataDir holds the agent config and the portable intent store.
	DataDir string

	// LogDir holds the rotating agent log.
	LogDir string
}

// WindowsPaths returns the default locations for a Windows agent.
func WindowsPaths() Paths {
	return Paths{
		DataDir: "C:/UDSActor/lib",
		LogDir:  "C:/UDSActor/log",
	}
}

// UnixPaths returns the default locations for any other agent.
func UnixPaths() Paths {
	return Paths{
		DataDir: "/var/lib/udsactor",
		LogDir:  "/var/log/udsactor",
	}
}

// DefaultPaths returns the locations for the running OS.
func DefaultPaths() Paths {
	return PathsFor(runtime.GOOS)
}

// PathsFor returns the locations for the given OS.
func PathsFor(goos string) Paths {
	if goos == "windows" {
		return WindowsPaths()
	}
	return UnixPaths()
}

// ConfigPath returns the path of the agent config in dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, ConfigFilename)
}
