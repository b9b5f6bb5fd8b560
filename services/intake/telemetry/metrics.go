// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exposes the service's Prometheus metrics: submission
// outcomes, gate decisions, capacity rejections and HTTP surface timings.
package telemetry

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrRegistrationFailed wraps metric registration failures.
var ErrRegistrationFailed = errors.New("metric registration failed")

// Metrics is the bundle of collectors the service records into.
//
// # Thread Safety
//
// Safe for concurrent use; prometheus collectors are internally
// synchronized.
type Metrics struct {
	registry prometheus.Registerer

	// InputsStored counts successfully persisted inputs.
	InputsStored prometheus.Counter

	// PayloadsCleaned counts clean attempts by outcome ("ok",
	// "validation_error", "capacity", "gated", "error").
	PayloadsCleaned *prometheus.CounterVec

	// ConditionEvaluations counts instrument gate decisions by outcome
	// ("allowed", "blocked", "error").
	ConditionEvaluations *prometheus.CounterVec

	// CapacityRejections counts inputs refused for capacity, by which
	// ceiling tripped ("per-user", "total").
	CapacityRejections *prometheus.CounterVec

	// SpecificationDuration times specification document assembly.
	SpecificationDuration prometheus.Histogram

	// RequestDuration times HTTP handling by method, route and status.
	RequestDuration *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// New builds and registers the metric bundle. A nil registry uses the
// process-global default. Re-registering an identical collector is
// tolerated so tests can build multiple bundles.
func New(registry prometheus.Registerer) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{registry: registry}

	m.InputsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "intake",
		Name:      "inputs_stored_total",
		Help:      "Collected inputs persisted successfully.",
	})
	m.PayloadsCleaned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intake",
		Name:      "payloads_cleaned_total",
		Help:      "Payload clean attempts by outcome.",
	}, []string{"outcome"})
	m.ConditionEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intake",
		Name:      "condition_evaluations_total",
		Help:      "Instrument gate decisions by outcome.",
	}, []string{"outcome"})
	m.CapacityRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "intake",
		Name:      "capacity_rejections_total",
		Help:      "Inputs refused because a capacity ceiling was reached.",
	}, []string{"limit"})
	m.SpecificationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "intake",
		Name:      "specification_assembly_seconds",
		Help:      "Time to assemble a specification document.",
		Buckets:   prometheus.DefBuckets,
	})
	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "intake",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request handling time by method, route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	m.collectors = []prometheus.Collector{
		m.InputsStored,
		m.PayloadsCleaned,
		m.ConditionEvaluations,
		m.CapacityRejections,
		m.SpecificationDuration,
		m.RequestDuration,
	}
	for _, c := range m.collectors {
		if err := registry.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}
	return m, nil
}

// Unregister removes the bundle's collectors from its registry.
func (m *Metrics) Unregister() {
	if reg, ok := m.registry.(*prometheus.Registry); ok {
		for _, c := range m.collectors {
			reg.Unregister(c)
		}
	}
}

// Middleware returns a gin middleware recording request durations. The
// route template (not the raw path) is the label, keeping cardinality
// bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}
