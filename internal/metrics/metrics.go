/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics provides Prometheus metrics for the execution engine.

METRIC CATEGORIES:
==================
- Fragments: executed (total, by outcome: success/failure)
- Batches: failed
- Undo: quanta rewound
- Views: insert deltas applied, delete deltas applied, min/max fallbacks run
- Plan cache: hits, misses

PROMETHEUS ENDPOINT:
====================
Metrics are exposed at /metrics in Prometheus text format via
github.com/prometheus/client_golang/prometheus/promhttp, replacing
flydb/internal/metrics's hand-rolled text-format encoder with the
library every Prometheus-scraped Go service in the example pack uses.

EXAMPLE METRICS:
================

	flyengine_fragments_executed_total{outcome="success"} 12345
	flyengine_batches_failed_total 3
	flyengine_undo_quanta_rewound_total 7
	flyengine_view_deltas_total{op="insert"} 412
	flyengine_plan_cache_hits_total 9001
*/
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FragmentsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "fragments_executed_total",
		Help:      "Plan fragments executed, by outcome.",
	}, []string{"outcome"})

	BatchesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "batches_failed_total",
		Help:      "Batches that returned status Error.",
	})

	UndoQuantaRewound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "undo_quanta_rewound_total",
		Help:      "Undo quanta rewound due to batch failure.",
	})

	ViewDeltasApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "view_deltas_total",
		Help:      "Materialized-view deltas merged, by operation.",
	}, []string{"op"})

	ViewMinMaxFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "view_minmax_fallbacks_total",
		Help:      "Min/max fallback queries run during delete-delta merge.",
	})

	PlanCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "plan_cache_hits_total",
		Help:      "Plan cache lookups served from cache.",
	})

	PlanCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flyengine",
		Name:      "plan_cache_misses_total",
		Help:      "Plan cache lookups that required fetch_plan.",
	})
)

// Registry is the collector registry cmd/flyengine exposes over
// /metrics. A package-level registry (rather than the global default)
// keeps repeated engine construction in tests from panicking on
// duplicate registration.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		FragmentsExecuted,
		BatchesFailed,
		UndoQuantaRewound,
		ViewDeltasApplied,
		ViewMinMaxFallbacks,
		PlanCacheHits,
		PlanCacheMisses,
	)
}
