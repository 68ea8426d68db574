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

// Package analysis runs an execution graph analysis: it builds the graph of
// a set of traced hosts in the background, signals completion with an
// explicit Completion event, and serves critical path requests against the
// completed graph.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ilhamster/execgraph/builder"
	criticalpath "github.com/ilhamster/execgraph/critical_path"
	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/graphstore"
	"github.com/ilhamster/execgraph/kernel"
)

// ErrNotScheduled is returned by requests made before Schedule.
var ErrNotScheduled = errors.New("analysis not scheduled")

// Completion is the outcome of an analysis's graph construction.
type Completion struct {
	// RunID identifies the analysis run.
	RunID string
	// Graph is the frozen execution graph.  It is nil if Err is non-nil.
	Graph *graph.Graph
	// Result summarizes construction.  For graphs loaded from a store, only
	// event and flow counts are populated.
	Result *builder.Result
	// Incomplete is true if construction was cancelled; Graph then covers
	// only the time range processed.
	Incomplete bool
	// Loaded is true if Graph was loaded from a store rather than built.
	Loaded bool
	// Elapsed is the wall time construction took.
	Elapsed time.Duration
	// Err is the error that stopped construction, if any.
	Err error
}

type options struct {
	logger      *slog.Logger
	builderOpts []builder.Option
	store       *graphstore.Store
	key         graphstore.Key
}

// Option configures a Module.
type Option func(opts *options)

// WithLogger logs to the specified logger.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithBuilderOptions configures graph construction.
func WithBuilderOptions(builderOpts ...builder.Option) Option {
	return func(opts *options) {
		opts.builderOpts = append(opts.builderOpts, builderOpts...)
	}
}

// WithStore loads the graph stored under key in store if present, and
// otherwise stores the graph once it is completely built.
func WithStore(store *graphstore.Store, key graphstore.Key) Option {
	return func(opts *options) {
		opts.store, opts.key = store, key
	}
}

func buildOptions(opts ...Option) *options {
	ret := &options{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Module is one analysis of a set of host traces.  Its methods are safe for
// concurrent use.
type Module struct {
	runID   string
	sources map[string]kernel.Source
	opts    *options
	logger  *slog.Logger
	cache   *criticalpath.Cache

	mu         sync.Mutex
	scheduled  bool
	cancel     context.CancelFunc
	done       chan struct{}
	completion *Completion
}

// New returns a new Module analyzing the specified per-host event streams.
// Nothing happens until Schedule is called.
func New(sources map[string]kernel.Source, opts ...Option) *Module {
	o := buildOptions(opts...)
	runID := uuid.NewString()
	return &Module{
		runID:   runID,
		sources: sources,
		opts:    o,
		logger:  o.logger.With("run", runID),
		cache:   criticalpath.NewCache(),
		done:    make(chan struct{}),
	}
}

// RunID returns the identifier of the analysis run.
func (m *Module) RunID() string {
	return m.runID
}

// Schedule starts graph construction in the background.  Construction is
// cancelled when ctx is done or Cancel is called.  Schedule is idempotent.
func (m *Module) Schedule(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scheduled {
		return
	}
	m.scheduled = true
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Cancel cancels graph construction.  A cancelled analysis still completes,
// with an incomplete graph.  Cancel has no effect before Schedule or after
// completion.
func (m *Module) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Done returns a channel closed once the analysis completes.
func (m *Module) Done() <-chan struct{} {
	return m.done
}

func (m *Module) run(ctx context.Context) {
	began := time.Now()
	m.logger.Info("analysis started", "hosts", slices.Sorted(maps.Keys(m.sources)))
	c := m.load()
	if c == nil {
		c = m.build(ctx)
	}
	c.RunID = m.runID
	c.Elapsed = time.Since(began)
	if c.Err != nil {
		m.logger.Error("analysis failed", "error", c.Err)
	} else {
		m.logger.Info("analysis complete", "elapsed", c.Elapsed, "loaded", c.Loaded, "incomplete", c.Incomplete,
			"workers", len(c.Graph.Workers()), "vertices", c.Graph.VertexCount())
	}
	m.mu.Lock()
	m.completion = c
	m.cancel()
	m.mu.Unlock()
	close(m.done)
}

// load returns the stored graph's Completion, or nil if there is none.
func (m *Module) load() *Completion {
	if m.opts.store == nil {
		return nil
	}
	rec, err := m.opts.store.Get(m.opts.key)
	if err != nil {
		if !errors.Is(err, graphstore.ErrNotFound) {
			m.logger.Warn("failed to read stored graph; rebuilding", "key", m.opts.key, "error", err)
		}
		return nil
	}
	g, err := rec.Graph()
	if err != nil {
		m.logger.Warn("stored graph is malformed; rebuilding", "key", m.opts.key, "error", err)
		return nil
	}
	g.Freeze()
	return &Completion{
		Graph: g,
		Result: &builder.Result{
			Events:         rec.Events,
			Skipped:        map[string]int{},
			FlowsLinked:    rec.FlowsLinked,
			FlowsUnmatched: rec.FlowsUnmatched,
		},
		Loaded: true,
	}
}

func (m *Module) build(ctx context.Context) *Completion {
	b := builder.New(append([]builder.Option{builder.WithLogger(m.logger)}, m.opts.builderOpts...)...)
	if _, err := b.BuildAll(ctx, m.sources); err != nil {
		return &Completion{Err: fmt.Errorf("failed to build graph: %w", err)}
	}
	res := b.Finish(ctx)
	for _, w := range res.Warnings {
		m.logger.Warn("graph construction warning", "warning", w)
	}
	c := &Completion{
		Graph:      b.Graph(),
		Result:     res,
		Incomplete: res.Incomplete,
	}
	if m.opts.store != nil && !c.Incomplete {
		err := m.opts.store.Put(m.opts.key, &graphstore.Record{
			Hosts:          b.Hosts(),
			Events:         res.Events,
			FlowsLinked:    res.FlowsLinked,
			FlowsUnmatched: res.FlowsUnmatched,
			Snapshot:       c.Graph.Snapshot(),
		})
		if err != nil {
			m.logger.Warn("failed to store graph", "key", m.opts.key, "error", err)
		}
	}
	return c
}

// WaitForCompletion blocks until the analysis completes or ctx is done.  It
// returns the Completion, and its Err if construction failed.
func (m *Module) WaitForCompletion(ctx context.Context) (*Completion, error) {
	m.mu.Lock()
	scheduled := m.scheduled
	m.mu.Unlock()
	if !scheduled {
		return nil, ErrNotScheduled
	}
	select {
	case <-m.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Completion is written once, before done is closed.
	m.mu.Lock()
	c := m.completion
	m.mu.Unlock()
	return c, c.Err
}

// CriticalPath waits for the analysis to complete, then returns the critical
// path of w.  Paths are cached per worker and options.
func (m *Module) CriticalPath(ctx context.Context, w graph.Worker, opts ...criticalpath.Option) (*criticalpath.Result, error) {
	c, err := m.WaitForCompletion(ctx)
	if err != nil {
		return nil, err
	}
	res, err := m.cache.Get(ctx, c.Graph, w, opts...)
	if err != nil {
		m.logger.Warn("critical path failed", "worker", w, "error", err)
		return nil, err
	}
	return res, nil
}

// CriticalPathOf is like CriticalPath, but finds the worker by selector;
// see criticalpath.Finder.
func (m *Module) CriticalPathOf(ctx context.Context, selector string, opts ...criticalpath.Option) (*criticalpath.Result, error) {
	f, err := criticalpath.NewFinder(selector, opts...)
	if err != nil {
		return nil, err
	}
	c, err := m.WaitForCompletion(ctx)
	if err != nil {
		return nil, err
	}
	res, err := criticalpath.Find(ctx, f, c.Graph, m.cache)
	if err != nil {
		m.logger.Warn("critical path failed", "selector", selector, "error", err)
		return nil, err
	}
	return res, nil
}
