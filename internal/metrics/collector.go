// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3.

package metrics

import (
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/virtualcable/udsactor/core/identity"
	"github.com/virtualcable/udsactor/internal/sens"
)

const metricsNamespace = "udsactor"

// Collector is a prometheus.Collector that collects metrics about the
// actor. It also implements the recorder interfaces of the domain join
// controller, the session guard and the event system so that those
// packages need not know about prometheus.
type Collector struct {
	identityState   *prometheus.GaugeVec
	groupOperations *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		identityState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "identity_state",
				Help:      "One for the most recently observed machine identity state, zero otherwise.",
			}, []string{"state"},
		),
		groupOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "group_operations_total",
				Help:      "The number of Remote Desktop Users group operations.",
			}, []string{"operation", "result"},
		),
		sessionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "session_events_total",
				Help:      "The number of dispatched session events.",
			}, []string{"kind"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.identityState.Describe(ch)
	c.groupOperations.Describe(ch)
	c.sessionEvents.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.identityState.Collect(ch)
	c.groupOperations.Collect(ch)
	c.sessionEvents.Collect(ch)
}

// RecordIdentityState marks kind as the current identity state.
func (c *Collector) RecordIdentityState(kind identity.StateKind) {
	for _, k := range identity.AllStateKinds {
		value := 0.0
		if k == kind {
			value = 1
		}
		c.identityState.WithLabelValues(string(k)).Set(value)
	}
}

// RecordGroupOperation counts a group operation and its outcome.
func (c *Collector) RecordGroupOperation(operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.groupOperations.WithLabelValues(operation, result).Inc()
}

// ObserveSessionEvent counts a dispatched session event.
func (c *Collector) ObserveSessionEvent(kind sens.EventKind) {
	c.sessionEvents.WithLabelValues(string(kind)).Inc()
}

// NewRegistry returns a registry holding the collector along with the Go
// runtime and process collectors.
func NewRegistry(c *Collector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	for _, collector := range []prometheus.Collector{
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return registry, nil
}
