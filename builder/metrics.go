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

package builder

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("execgraph.builder")
	meter  = otel.Meter("execgraph.builder")
)

var (
	buildLatency metric.Float64Histogram
	eventsTotal  metric.Int64Counter
	skippedTotal metric.Int64Counter
	flowsTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"graph_build_duration_seconds",
			metric.WithDescription("Duration of per-host graph construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		eventsTotal, err = meter.Int64Counter(
			"graph_build_events_total",
			metric.WithDescription("Kernel events applied to the graph"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		skippedTotal, err = meter.Int64Counter(
			"graph_build_skipped_events_total",
			metric.WithDescription("Kernel events skipped as unknown"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		flowsTotal, err = meter.Int64Counter(
			"graph_build_flows_total",
			metric.WithDescription("Network flows, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordHostMetrics(ctx context.Context, host string, duration time.Duration, events, skipped int, incomplete bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("host", host))
	buildLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("host", host),
		attribute.Bool("incomplete", incomplete),
	))
	eventsTotal.Add(ctx, int64(events), attrs)
	skippedTotal.Add(ctx, int64(skipped), attrs)
}

func recordFlowMetrics(ctx context.Context, linked, rejected, unmatched int) {
	if err := initMetrics(); err != nil {
		return
	}
	for outcome, n := range map[string]int{
		"linked":    linked,
		"rejected":  rejected,
		"unmatched": unmatched,
	} {
		if n > 0 {
			flowsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
}

func startBuildSpan(ctx context.Context, host string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "builder.Build",
		trace.WithAttributes(attribute.String("host", host)),
	)
}

func setBuildSpanResult(span trace.Span, events, skipped int, incomplete bool) {
	span.SetAttributes(
		attribute.Int("build.events", events),
		attribute.Int("build.skipped", skipped),
		attribute.Bool("build.incomplete", incomplete),
	)
}
