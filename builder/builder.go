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

// Package builder constructs execution graphs from the kernel event streams
// of one or more traced hosts.
//
// Each host's events are replayed in timestamp order against a model of its
// kernel state, growing one chain per thread (plus one per CPU for kernel
// work done in interrupt context).  Wake-ups between threads become vertical
// edges; network packets sent on one host and received on another are paired
// by flow key and linked once both sides are known.
package builder

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/kernel"
	"golang.org/x/sync/errgroup"
)

// DefaultTimerIRQ is the IRQ line of the local timer on most x86 hosts.
const DefaultTimerIRQ = 0

type options struct {
	logger      *slog.Logger
	concurrency int
	timerIRQ    int
}

// Option instances are options to graph construction.
type Option func(opts *options)

// WithLogger specifies the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithConcurrency bounds the number of hosts BuildAll builds at once.
func WithConcurrency(n int) Option {
	return func(opts *options) {
		opts.concurrency = n
	}
}

// WithTimerIRQ specifies the IRQ line whose handler is the timer.  Wake-ups
// issued by that handler are qualified 'timer'.
func WithTimerIRQ(irq int) Option {
	return func(opts *options) {
		opts.timerIRQ = irq
	}
}

func buildOptions(opts ...Option) *options {
	ret := &options{
		logger:      slog.Default(),
		concurrency: runtime.GOMAXPROCS(0),
		timerIRQ:    DefaultTimerIRQ,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.concurrency < 1 {
		ret.concurrency = 1
	}
	return ret
}

// Result summarizes a construction step.
type Result struct {
	// Events is the number of events applied.
	Events int
	// Skipped counts the skipped events of unknown kind, by name.
	Skipped map[string]int
	// FlowsLinked is the number of network flows linked across workers.
	FlowsLinked int
	// FlowsRejected is the number of flows whose link was invalid.
	FlowsRejected int
	// FlowsUnmatched is the number of flows, at Finish, with only one side.
	FlowsUnmatched int
	// FlowsDuplicated is the number of repeated flow endpoints ignored.
	FlowsDuplicated int
	// Incomplete is true if construction was cancelled before every event
	// was applied.
	Incomplete bool
	// Warnings holds recovered errors, such as OutOfOrderEventErrors and
	// UnlinkableFlowErrors.
	Warnings []error
}

func newResult() *Result {
	return &Result{Skipped: map[string]int{}}
}

// SkippedCount returns the total number of skipped events.
func (r *Result) SkippedCount() int {
	ret := 0
	for _, n := range r.Skipped {
		ret += n
	}
	return ret
}

func (r *Result) merge(other *Result) {
	r.Events += other.Events
	for name, n := range other.Skipped {
		r.Skipped[name] += n
	}
	r.FlowsLinked += other.FlowsLinked
	r.FlowsRejected += other.FlowsRejected
	r.FlowsUnmatched += other.FlowsUnmatched
	r.FlowsDuplicated += other.FlowsDuplicated
	r.Incomplete = r.Incomplete || other.Incomplete
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// Builder constructs one execution graph from the event streams of several
// hosts.  Its methods may be called concurrently; construction steps are
// serialized.  The graph must not be read until Finish returns.
type Builder struct {
	opts *options

	mu       sync.Mutex
	g        *graph.Graph
	hosts    map[string]*hostState
	flows    *flowTable
	total    *Result
	finished bool
}

// New returns a new Builder with an empty graph.
func New(opts ...Option) *Builder {
	o := buildOptions(opts...)
	return &Builder{
		opts:  o,
		g:     graph.New(),
		hosts: map[string]*hostState{},
		flows: newFlowTable(o.logger),
		total: newResult(),
	}
}

// replay applies events to hs until they are exhausted, an event is out of
// order, or ctx is cancelled.
func (b *Builder) replay(ctx context.Context, hs *hostState, events kernel.Source) (*Result, error) {
	ctx, span := startBuildSpan(ctx, hs.host)
	defer span.End()
	began := time.Now()
	res := newResult()
	for ev := range events {
		if ctx.Err() != nil {
			res.Incomplete = true
			break
		}
		known, err := hs.apply(&ev)
		if err != nil {
			var ooErr *OutOfOrderEventError
			if errors.As(err, &ooErr) {
				b.opts.logger.Warn("out-of-order event; host construction stopped", "host", hs.host, "ts", ooErr.Timestamp, "previous", ooErr.Previous)
				res.Warnings = append(res.Warnings, err)
				break
			}
			span.RecordError(err)
			return nil, err
		}
		if !known {
			res.Skipped[ev.EventName()]++
			continue
		}
		res.Events++
	}
	if skipped := res.SkippedCount(); skipped > 0 {
		b.opts.logger.Warn("skipped events of unknown kind", "host", hs.host, "skipped", skipped, "kinds", len(res.Skipped))
	}
	recordHostMetrics(ctx, hs.host, time.Since(began), res.Events, res.SkippedCount(), res.Incomplete)
	setBuildSpanResult(span, res.Events, res.SkippedCount(), res.Incomplete)
	return res, nil
}

// linkFlows hands settled endpoints from every host to the flow table and
// links the flows now complete.
func (b *Builder) linkFlows(ctx context.Context, res *Result) {
	for _, host := range slices.Sorted(maps.Keys(b.hosts)) {
		sends, recvs := b.hosts[host].drain()
		b.flows.add(sends, recvs, res)
	}
	before := res.FlowsLinked
	rejectedBefore := res.FlowsRejected
	b.flows.link(b.g, res)
	recordFlowMetrics(ctx, res.FlowsLinked-before, res.FlowsRejected-rejectedBefore, 0)
}

// Build applies the chronological event stream of host to the graph.  It may
// be called repeatedly for the same host to extend the covered time range.
// If ctx is cancelled, Build stops between events and returns a result
// marked Incomplete, with no error.
func (b *Builder) Build(ctx context.Context, host string, events kernel.Source) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return nil, ErrFinished
	}
	hs, ok := b.hosts[host]
	if !ok {
		hs = newHostState(host, b.g, b.opts.timerIRQ, b.opts.logger)
		b.hosts[host] = hs
	}
	res, err := b.replay(ctx, hs, events)
	if err != nil {
		return nil, err
	}
	b.linkFlows(ctx, res)
	b.total.merge(res)
	b.opts.logger.Info("built host graph", "host", host, "events", res.Events, "flows_linked", res.FlowsLinked, "incomplete", res.Incomplete)
	return res, nil
}

// BuildAll applies the event streams of several hosts.  Hosts not seen
// before are built concurrently, each into a private graph, and then merged
// in host name order; hosts already seen are extended in place.
func (b *Builder) BuildAll(ctx context.Context, streams map[string]kernel.Source) (*Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return nil, ErrFinished
	}
	hosts := slices.Sorted(maps.Keys(streams))
	var fresh []string
	for _, host := range hosts {
		if _, ok := b.hosts[host]; !ok {
			fresh = append(fresh, host)
		}
	}
	private := make([]*hostState, len(fresh))
	results := make([]*Result, len(fresh))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.concurrency)
	for idx, host := range fresh {
		eg.Go(func() error {
			hs := newHostState(host, graph.New(), b.opts.timerIRQ, b.opts.logger)
			res, err := b.replay(egCtx, hs, streams[host])
			if err != nil {
				return err
			}
			private[idx], results[idx] = hs, res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	res := newResult()
	for idx, hs := range private {
		remap, err := b.g.Merge(hs.g)
		if err != nil {
			return nil, err
		}
		hs.rebase(b.g, remap)
		b.hosts[hs.host] = hs
		res.merge(results[idx])
	}
	for _, host := range hosts {
		if slices.Contains(fresh, host) {
			continue
		}
		hostRes, err := b.replay(ctx, b.hosts[host], streams[host])
		if err != nil {
			return nil, err
		}
		res.merge(hostRes)
	}
	b.linkFlows(ctx, res)
	b.total.merge(res)
	b.opts.logger.Info("built experiment graph", "hosts", len(hosts), "new_hosts", len(fresh), "events", res.Events, "flows_linked", res.FlowsLinked)
	return res, nil
}

// Finish settles every receive still awaiting a woken thread, links the
// flows this completes, and freezes the graph.  It returns the cumulative
// result of construction.  Finish is idempotent.
func (b *Builder) Finish(ctx context.Context) *Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.finished {
		for _, hs := range b.hosts {
			hs.settleAll()
		}
		res := newResult()
		b.linkFlows(ctx, res)
		res.FlowsUnmatched = b.flows.unmatched()
		if res.FlowsUnmatched > 0 {
			b.opts.logger.Warn("network flows left unmatched", "flows", res.FlowsUnmatched)
		}
		recordFlowMetrics(ctx, 0, 0, res.FlowsUnmatched)
		b.total.merge(res)
		b.g.Freeze()
		b.finished = true
	}
	return b.total
}

// Graph returns the graph under construction.  It is safe to read only after
// Finish.
func (b *Builder) Graph() *graph.Graph {
	return b.g
}

// Hosts returns the names of the hosts built so far, sorted.
func (b *Builder) Hosts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.hosts))
}
