// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package agent holds the agent configuration read at startup.
package agent

import (
	"net"
	"net/url"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/utils/v4"
	"gopkg.in/yaml.v2"
)

var logger = loggo.GetLogger("udsactor.agent")

// Intent store kinds.
const (
	IntentStoreFile     = "file"
	IntentStoreRegistry = "registry"
)

const (
	defaultWaitTimeout       = time.Second
	defaultAddressCheckEvery = 10
	defaultListenAddress     = ":43910"
	defaultBrokerTimeout     = 10 * time.Second
)

// Config is the agent configuration.
type Config struct {
	DataDir       string `yaml:"data-dir"`
	LogDir        string `yaml:"log-dir"`
	LoggingConfig string `yaml:"logging-config,omitempty"`

	// IntentStore selects where the join intent is kept.
	IntentStore string `yaml:"intent-store,omitempty"`

	Broker BrokerConfig `yaml:"broker"`
	Join   JoinConfig   `yaml:"join"`
	Loop   LoopConfig   `yaml:"loop"`
	Listen ListenConfig `yaml:"listen"`

	// OwnToken is the token assigned by the broker on initialization.
	OwnToken string `yaml:"own-token,omitempty"`
}

// BrokerConfig locates the broker.
type BrokerConfig struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	SkipVerify bool          `yaml:"skip-verify,omitempty"`
}

// JoinConfig tunes the domain join.
type JoinConfig struct {
	ForceMultiStep bool `yaml:"force-multi-step,omitempty"`
}

// LoopConfig paces the event loop.
type LoopConfig struct {
	WaitTimeout       time.Duration `yaml:"wait-timeout,omitempty"`
	AddressCheckEvery int           `yaml:"address-check-every,omitempty"`
}

// ListenConfig describes the actor REST endpoint.
type ListenConfig struct {
	Address  string `yaml:"address,omitempty"`
	CertFile string `yaml:"cert-file,omitempty"`
	KeyFile  string `yaml:"key-file,omitempty"`
}

// DefaultConfig returns a config with every optional field set for the
// running OS.
func DefaultConfig() Config {
	var config Config
	config.setDefaults()
	return config
}

func (c *Config) setDefaults() {
	paths := DefaultPaths()
	if c.DataDir == "" {
		c.DataDir = paths.DataDir
	}
	if c.LogDir == "" {
		c.LogDir = paths.LogDir
	}
	if c.IntentStore == "" {
		c.IntentStore = defaultIntentStore
	}
	if c.Broker.Timeout == 0 {
		c.Broker.Timeout = defaultBrokerTimeout
	}
	if c.Loop.WaitTimeout == 0 {
		c.Loop.WaitTimeout = defaultWaitTimeout
	}
	if c.Loop.AddressCheckEvery == 0 {
		c.Loop.AddressCheckEvery = defaultAddressCheckEvery
	}
	if c.Listen.Address == "" {
		c.Listen.Address = defaultListenAddress
	}
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.NotValidf("empty data-dir")
	}
	switch c.IntentStore {
	case IntentStoreFile, IntentStoreRegistry:
	default:
		return errors.NotValidf("intent-store %q", c.IntentStore)
	}
	if c.Broker.URL != "" {
		u, err := url.Parse(c.Broker.URL)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return errors.NotValidf("broker url %q", c.Broker.URL)
		}
		if c.Broker.Token == "" {
			return errors.NotValidf("empty broker token")
		}
	}
	if c.Broker.Timeout < 0 {
		return errors.NotValidf("negative broker timeout")
	}
	if c.Loop.WaitTimeout < 0 {
		return errors.NotValidf("negative loop wait-timeout")
	}
	if c.Loop.AddressCheckEvery < 0 {
		return errors.NotValidf("negative loop address-check-every")
	}
	if _, _, err := net.SplitHostPort(c.Listen.Address); err != nil {
		return errors.NotValidf("listen address %q", c.Listen.Address)
	}
	if (c.Listen.CertFile == "") != (c.Listen.KeyFile == "") {
		return errors.NotValidf("listen cert-file without key-file")
	}
	return nil
}

// ReadConfig reads and validates the config at path, filling in
// defaults for missing fields.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, errors.NotFoundf("agent config %q", path)
	}
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading agent config %q", path)
	}
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Annotatef(err, "parsing agent config %q", path)
	}
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, errors.Annotatef(err, "agent config %q", path)
	}
	return config, nil
}

// Write atomically writes the config to path.
func (c Config) Write(path string) error {
	if err := c.Validate(); err != nil {
		return errors.Trace(err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Trace(err)
	}
	if err := utils.AtomicWriteFile(path, data, 0600); err != nil {
		return errors.Annotate(err, "cannot write agent configuration")
	}
	logger.Debugf("wrote agent config %q", path)
	return nil
}
