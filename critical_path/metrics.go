/*
	Copyright 2025 Google Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

			http://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package criticalpath

import (
	"context"
	"sync"
	"time"

	"github.com/ilhamster/execgraph/graph"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("execgraph.criticalpath")
	meter  = otel.Meter("execgraph.criticalpath")
)

var (
	computeLatency metric.Float64Histogram
	computeTotal   metric.Int64Counter
	pathItems      metric.Int64Histogram
	cacheLookups   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		computeLatency, err = meter.Float64Histogram(
			"critical_path_compute_duration_seconds",
			metric.WithDescription("Duration of critical path computations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		computeTotal, err = meter.Int64Counter(
			"critical_path_compute_total",
			metric.WithDescription("Total number of critical path computations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pathItems, err = meter.Int64Histogram(
			"critical_path_items",
			metric.WithDescription("Number of intervals and links per critical path"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"critical_path_cache_lookups_total",
			metric.WithDescription("Critical path cache lookups, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordComputeMetrics(ctx context.Context, duration time.Duration, items int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	computeLatency.Record(ctx, duration.Seconds(), attrs)
	computeTotal.Add(ctx, 1, attrs)
	if success {
		pathItems.Record(ctx, int64(items))
	}
}

func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func startComputeSpan(ctx context.Context, w graph.Worker) (context.Context, trace.Span) {
	return tracer.Start(ctx, "criticalpath.Compute",
		trace.WithAttributes(
			attribute.String("worker.host", w.Host),
			attribute.Int("worker.tid", w.TID),
		),
	)
}

func setComputeSpanResult(span trace.Span, vertices, edges int, incomplete bool) {
	span.SetAttributes(
		attribute.Int("critical_path.vertex_count", vertices),
		attribute.Int("critical_path.edge_count", edges),
		attribute.Bool("critical_path.incomplete", incomplete),
	)
}
