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

// Package criticalpath computes the critical path of a worker in an
// execution graph: the causal chain of intervals, possibly spanning several
// workers and hosts, that explains the worker's progress from its first to
// its last vertex.
package criticalpath

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ilhamster/execgraph/graph"
)

type options struct {
	logger *slog.Logger
	// If hasRange, the walk covers only [start, end] of the target's chain.
	hasRange   bool
	start, end int64
}

// Option instances are options to critical path computation.
type Option func(opts *options)

// WithLogger specifies the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithRange restricts the critical path to the part of the target worker's
// chain between start and end.
func WithRange(start, end int64) Option {
	return func(opts *options) {
		opts.hasRange = true
		opts.start, opts.end = start, end
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

// Result is a computed critical path.
type Result struct {
	// Graph holds the critical path.  It is frozen.
	Graph *graph.Graph
	// Worker is the worker whose critical path this is.
	Worker graph.Worker
	// Incomplete is true if computation was cancelled; Graph then holds only
	// the latest part of the path.
	Incomplete bool
}

type itemKind int

const (
	horizontalItem itemKind = iota
	verticalItem
	// gapItem marks a break in a worker's chain: a new segment starts at
	// from, even if nothing else is placed there.
	gapItem
)

type position struct {
	worker graph.Worker
	ts     int64
}

func (p position) is(w graph.Worker, ts int64) bool {
	return p.worker.Key() == w.Key() && p.ts == ts
}

// item is one element of the critical path.  Items are produced from the
// latest to the earliest as the walk proceeds backwards.
type item struct {
	kind      itemKind
	from, to  position
	typ       graph.EdgeType
	qualifier string
}

// frame is a walk of one worker's chain back to a bound.  The walk of the
// target worker has no requester; other walks are requested by the worker
// they explain, which waited on them from the bound onwards.
type frame struct {
	worker    graph.Worker
	bound     int64
	requester *graph.Worker
}

var errCancelled = errors.New("critical path computation cancelled")

type walker struct {
	ctx   context.Context
	g     *graph.Graph
	items []item
	// Vertices visited by the frames in progress.  Reaching one of them again
	// means the graph has a directed cycle.
	active map[graph.VertexID]struct{}
}

func (w *walker) emitHorizontal(f frame, e graph.Edge, toTS int64) {
	w.items = append(w.items, item{
		kind:      horizontalItem,
		from:      position{f.worker, max(w.g.Timestamp(e.From), f.bound)},
		to:        position{f.worker, toTS},
		typ:       e.Type,
		qualifier: e.Qualifier,
	})
}

func (w *walker) emitVertical(from, to position, typ graph.EdgeType, qualifier string) {
	w.items = append(w.items, item{
		kind:      verticalItem,
		from:      from,
		to:        to,
		typ:       typ,
		qualifier: qualifier,
	})
}

// resolve explains a wait of f's worker, from waitStart to cur, by the
// incoming vertical edge inV at cur.
func (w *walker) resolve(f frame, cur graph.VertexID, inV graph.Edge, waitStart int64, waitType graph.EdgeType) error {
	src := inV.From
	srcW, _ := w.g.Owner(src)
	curPos := position{f.worker, w.g.Timestamp(cur)}
	if w.g.Timestamp(src) <= waitStart {
		// The wake-up was issued before the wait began: there is nothing of
		// the waker's to walk.
		w.emitVertical(position{srcW, waitStart}, curPos, inV.Type, inV.Qualifier)
		if f.requester == nil || f.requester.Key() != srcW.Key() || f.bound != waitStart {
			w.emitVertical(position{f.worker, waitStart}, position{srcW, waitStart}, waitType, "")
		}
		return nil
	}
	w.emitVertical(position{srcW, w.g.Timestamp(src)}, curPos, inV.Type, inV.Qualifier)
	mark := len(w.items)
	if err := w.walk(frame{worker: srcW, bound: waitStart, requester: &f.worker}, src); err != nil {
		return err
	}
	if len(w.items) > mark {
		if earliest := w.items[len(w.items)-1].from; !earliest.is(f.worker, waitStart) {
			w.emitVertical(position{f.worker, waitStart}, earliest, waitType, "")
		}
	}
	return nil
}

// walk walks f's worker back from cur until reaching f's bound.
func (w *walker) walk(f frame, cur graph.VertexID) error {
	var visited []graph.VertexID
	defer func() {
		for _, v := range visited {
			delete(w.active, v)
		}
	}()
	g := w.g
	for cur != graph.NoVertex && g.Timestamp(cur) > f.bound {
		if w.ctx.Err() != nil {
			return errCancelled
		}
		if _, ok := w.active[cur]; ok {
			return &graph.CyclicGraphError{Worker: f.worker, Timestamp: g.Timestamp(cur)}
		}
		w.active[cur] = struct{}{}
		visited = append(visited, cur)
		curTS := g.Timestamp(cur)
		inH, hasH := g.Edge(cur, graph.IncomingHorizontal)
		inV, hasV := g.Edge(cur, graph.IncomingVertical)
		switch {
		case hasH && inH.Type.IsWait() && hasV:
			if err := w.resolve(f, cur, inV, max(f.bound, g.Timestamp(inH.From)), inH.Type); err != nil {
				return err
			}
			cur = inH.From
		case hasH:
			// Running, preempted and unknown intervals are the worker's own,
			// even when a vertical edge also arrives; so are unexplained waits.
			w.emitHorizontal(f, inH, curTS)
			cur = inH.From
		default:
			prev := g.Previous(cur)
			if hasV {
				waitStart, waitType := f.bound, graph.Unknown
				if prev != graph.NoVertex {
					waitStart = max(waitStart, g.Timestamp(prev))
					// A segment starting after a hand-off waited on it.
					if out, ok := g.Edge(prev, graph.OutgoingVertical); ok {
						waitType = out.Type
					}
				}
				if err := w.resolve(f, cur, inV, waitStart, waitType); err != nil {
					return err
				}
				cur = prev
				continue
			}
			if f.requester != nil && (prev == graph.NoVertex || g.Timestamp(prev) <= f.bound) {
				// Nothing is known of the worker between the bound and cur.
				w.items = append(w.items, item{
					kind: horizontalItem,
					from: position{f.worker, f.bound},
					to:   position{f.worker, curTS},
					typ:  graph.Unknown,
				})
				return nil
			}
			w.items = append(w.items, item{kind: gapItem, from: position{f.worker, curTS}})
			cur = prev
		}
	}
	return nil
}

// glue assembles the walked items, from earliest to latest, into a new
// graph.  The target worker's chain starts at head.
func glue(items []item, head position) (*graph.Graph, error) {
	g := graph.New()
	if _, err := g.AddAt(head.worker, head.ts); err != nil {
		return nil, err
	}
	gapped := map[graph.WorkerKey]bool{}
	vertexAt := func(p position) (graph.VertexID, error) {
		key := p.worker.Key()
		if tail := g.Tail(p.worker); tail != graph.NoVertex && !gapped[key] && g.Timestamp(tail) == p.ts {
			return tail, nil
		}
		gapped[key] = false
		return g.AddAt(p.worker, p.ts)
	}
	for idx := len(items) - 1; idx >= 0; idx-- {
		it := items[idx]
		switch it.kind {
		case gapItem:
			gapped[it.from.worker.Key()] = true
			if _, err := vertexAt(it.from); err != nil {
				return nil, err
			}
		case horizontalItem:
			if _, err := vertexAt(it.from); err != nil {
				return nil, err
			}
			if _, err := g.AppendAt(it.to.worker, it.to.ts, it.typ, it.qualifier); err != nil {
				return nil, err
			}
		case verticalItem:
			src, err := vertexAt(it.from)
			if err != nil {
				return nil, err
			}
			if _, taken := g.Edge(src, graph.OutgoingVertical); taken {
				if src, err = g.AppendAt(it.from.worker, it.from.ts, graph.Unknown, ""); err != nil {
					return nil, err
				}
			}
			dst, err := g.AddAt(it.to.worker, it.to.ts)
			if err != nil {
				return nil, err
			}
			gapped[it.to.worker.Key()] = false
			if _, err := g.Link(src, dst, it.typ, it.qualifier); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// Compute computes the critical path of w in g, which must not be mutated
// during the computation.  If ctx is cancelled, Compute returns the part of
// the path found so far, marked Incomplete, and no error.
func Compute(ctx context.Context, g *graph.Graph, w graph.Worker, options ...Option) (*Result, error) {
	opts := buildOptions(options...)
	ctx, span := startComputeSpan(ctx, w)
	defer span.End()
	began := time.Now()

	target, ok := g.Lookup(w.Key())
	if !ok {
		err := &graph.UnknownWorkerError{Worker: w}
		recordComputeMetrics(ctx, time.Since(began), 0, false)
		return nil, err
	}
	nodes := g.NodesOf(target)
	bound := g.Timestamp(nodes[0])
	cur := nodes[len(nodes)-1]
	if opts.hasRange {
		bound = max(bound, opts.start)
		cur = nodes[0]
		for _, v := range nodes {
			if g.Timestamp(v) > opts.end {
				break
			}
			cur = v
		}
	}
	wk := &walker{
		ctx:    ctx,
		g:      g,
		active: map[graph.VertexID]struct{}{},
	}
	incomplete := false
	if err := wk.walk(frame{worker: target, bound: bound}, cur); err != nil {
		if !errors.Is(err, errCancelled) {
			recordComputeMetrics(ctx, time.Since(began), 0, false)
			return nil, err
		}
		incomplete = true
		opts.logger.Warn("critical path computation cancelled", "worker", target.String(), "items", len(wk.items))
	}
	cp, err := glue(wk.items, position{target, bound})
	if err != nil {
		recordComputeMetrics(ctx, time.Since(began), 0, false)
		return nil, fmt.Errorf("assembling critical path of %s: %w", target, err)
	}
	cp.Freeze()
	recordComputeMetrics(ctx, time.Since(began), len(wk.items), true)
	setComputeSpanResult(span, cp.VertexCount(), cp.EdgeCount(), incomplete)
	opts.logger.Debug("computed critical path", "worker", target.String(), "vertices", cp.VertexCount(), "edges", cp.EdgeCount())
	return &Result{
		Graph:      cp,
		Worker:     target,
		Incomplete: incomplete,
	}, nil
}
