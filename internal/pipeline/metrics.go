// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portage",
		Subsystem: "pipeline",
		Name:      "phases_total",
		Help:      "Number of materialization phases processed.",
	})

	resourcesMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portage",
		Subsystem: "pipeline",
		Name:      "resources_materialized_total",
		Help:      "Number of resources successfully materialized.",
	})

	resourcesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portage",
		Subsystem: "pipeline",
		Name:      "resources_failed_total",
		Help:      "Number of resources that failed to materialize.",
	})
)
