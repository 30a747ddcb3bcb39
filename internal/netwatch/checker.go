// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

// Package netwatch detects changes in the machine addresses and reports
// them to the broker.
package netwatch

import (
	"context"
	"net"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("udsactor.netwatch")

// Notifier is told about a new actor address.
type Notifier interface {
	ChangeIP(ctx context.Context, ip string, port int) error
}

// Config holds the dependencies of a Checker.
type Config struct {
	Source   Source
	Notifier Notifier
	Port     int
}

// Validate ensures the config is usable.
func (c Config) Validate() error {
	if c.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if c.Notifier == nil {
		return errors.NotValidf("nil Notifier")
	}
	return nil
}

// Checker remembers the last seen set of addresses.
type Checker struct {
	config Config
	last   set.Strings
}

// NewChecker returns a checker with no addresses seen yet.
func NewChecker(config Config) (*Checker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Checker{config: config}, nil
}

// Addresses returns the current set of addresses.
func (c *Checker) Addresses() (set.Strings, error) {
	nics, err := c.config.Source()
	if err != nil {
		return nil, errors.Trace(err)
	}
	addrs := set.NewStrings()
	for _, nic := range nics {
		for _, ip := range nic.Addresses {
			addrs.Add(ip.String())
		}
	}
	return addrs, nil
}

// PrimaryAddress returns the address to announce, recording the current
// set as seen.
func (c *Checker) PrimaryAddress() (string, error) {
	addrs, err := c.Addresses()
	if err != nil {
		return "", errors.Trace(err)
	}
	c.last = addrs
	primary := Primary(addrs)
	if primary == "" {
		return "", errors.NotFoundf("usable address")
	}
	return primary, nil
}

// CheckIPsChanged compares the current addresses with the last seen set
// and tells the broker when they differ. The first call only records the
// addresses.
func (c *Checker) CheckIPsChanged(ctx context.Context) (bool, error) {
	addrs, err := c.Addresses()
	if err != nil {
		return false, errors.Trace(err)
	}
	if c.last == nil {
		c.last = addrs
		return false, nil
	}
	if addrs.Difference(c.last).IsEmpty() && c.last.Difference(addrs).IsEmpty() {
		return false, nil
	}
	primary := Primary(addrs)
	logger.Infof("addresses changed from %v to %v", c.last.SortedValues(), addrs.SortedValues())
	if primary == "" {
		c.last = addrs
		return true, nil
	}
	if err := c.config.Notifier.ChangeIP(ctx, primary, c.config.Port); err != nil {
		// Not recorded, so the change is reported again on the next check.
		return true, errors.Trace(err)
	}
	c.last = addrs
	return true, nil
}

// Primary picks the first IPv4 address in sorted order, falling back to
// the first IPv6 address.
func Primary(addrs set.Strings) string {
	var v6 string
	for _, a := range addrs.SortedValues() {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return a
		}
		if v6 == "" {
			v6 = a
		}
	}
	return v6
}
