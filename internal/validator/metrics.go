// Copyright (C) 2025 The mobile-bench authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package validator

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// MetricsFile is the text-format metrics dump written at run end.
const MetricsFile = "run_metrics.prom"

// runMetrics collects run-level counters on a private registry, so
// concurrent runs in one process (tests, mainly) don't collide and the
// whole set can be dumped when the run finishes.
type runMetrics struct {
	registry *prometheus.Registry

	instancesValidated *prometheus.CounterVec
	instanceDuration   prometheus.Histogram
	testsFixed         prometheus.Counter
}

func newRunMetrics() *runMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &runMetrics{
		registry: registry,

		instancesValidated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mobilebench_instances_validated_total",
			Help: "Validated instances by final outcome.",
		}, []string{"outcome"}),

		instanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mobilebench_instance_duration_seconds",
			Help:    "Wall-clock duration of one instance validation.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s to ~4h
		}),

		testsFixed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mobilebench_tests_fixed_total",
			Help: "Tests transitioning fail to pass across all instances.",
		}),
	}
}

// Dump writes the gathered metric families to path in the Prometheus
// text exposition format.
func (m *runMetrics) Dump(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering run metrics: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating metrics dump: %w", err)
	}
	defer f.Close()

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(f, family); err != nil {
			return fmt.Errorf("writing metrics dump: %w", err)
		}
	}
	return nil
}
