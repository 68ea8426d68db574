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

// Package aggregate derives presentation-ready aggregates from execution
// graphs: per-worker state intervals, their time-ordered merge across
// workers, cross-worker arrows, and per-worker statistics.
package aggregate

import (
	"iter"
	"slices"
	"sort"

	"github.com/ilhamster/execgraph/graph"
)

// Interval is one horizontal edge of a worker's chain.
type Interval struct {
	Worker     graph.Worker
	Start, End int64
	Type       graph.EdgeType
	Qualifier  string
}

// Duration returns the interval's length.
func (i Interval) Duration() int64 {
	return i.End - i.Start
}

// States returns w's intervals in chronological order.
func States(g *graph.Graph, w graph.Worker) []Interval {
	var ret []Interval
	for _, v := range g.NodesOf(w) {
		in, ok := g.Edge(v, graph.IncomingHorizontal)
		if !ok {
			continue
		}
		ret = append(ret, Interval{
			Worker:    w,
			Start:     g.Timestamp(in.From),
			End:       g.Timestamp(v),
			Type:      in.Type,
			Qualifier: in.Qualifier,
		})
	}
	return ret
}

// Timeline yields the intervals of the specified workers, or of every worker
// if none is specified, ordered by start time.  Intervals starting together
// are yielded in worker order.
func Timeline(g *graph.Graph, workers ...graph.Worker) iter.Seq[Interval] {
	if len(workers) == 0 {
		workers = g.Workers()
	}
	streams := make([]iter.Seq[Interval], len(workers))
	for idx, w := range workers {
		streams[idx] = slices.Values(States(g, w))
	}
	return Merge(func(i Interval) int64 {
		return i.Start
	}, streams...)
}

// Arrow is a vertical edge between two workers.
type Arrow struct {
	From, To   graph.Worker
	Start, End int64
	Type       graph.EdgeType
	Qualifier  string
}

// Arrows returns the vertical edges overlapping [start, end], ordered by
// start time, then end time.
func Arrows(g *graph.Graph, start, end int64) []Arrow {
	var ret []Arrow
	g.Traverse(graph.Visitor{
		VisitEdge: func(g *graph.Graph, e graph.Edge) {
			if !e.Vertical {
				return
			}
			from, to := g.Timestamp(e.From), g.Timestamp(e.To)
			if from > end || to < start {
				return
			}
			fromW, _ := g.Owner(e.From)
			toW, _ := g.Owner(e.To)
			ret = append(ret, Arrow{
				From:      fromW,
				To:        toW,
				Start:     from,
				End:       to,
				Type:      e.Type,
				Qualifier: e.Qualifier,
			})
		},
	})
	sort.SliceStable(ret, func(a, b int) bool {
		if ret[a].Start != ret[b].Start {
			return ret[a].Start < ret[b].Start
		}
		return ret[a].End < ret[b].End
	})
	return ret
}

// WorkerStatistics summarizes one worker's time.
type WorkerStatistics struct {
	Worker graph.Worker
	// ByType holds the summed interval durations per edge type.
	ByType map[graph.EdgeType]int64
	// Total is the sum of all the worker's intervals.
	Total int64
	// Share is Total as a fraction of the graph-wide total.
	Share float64
}

// Statistics summarizes a graph's time per worker.
type Statistics struct {
	Total   int64
	ByType  map[graph.EdgeType]int64
	Workers []*WorkerStatistics
}

// ComputeStatistics sums the interval durations of every worker of g.
// Workers are ordered by decreasing total, then by identity.
func ComputeStatistics(g *graph.Graph) *Statistics {
	ret := &Statistics{
		ByType: map[graph.EdgeType]int64{},
	}
	for _, w := range g.Workers() {
		ws := &WorkerStatistics{
			Worker: w,
			ByType: map[graph.EdgeType]int64{},
		}
		for _, i := range States(g, w) {
			ws.ByType[i.Type] += i.Duration()
			ws.Total += i.Duration()
			ret.ByType[i.Type] += i.Duration()
		}
		ret.Total += ws.Total
		ret.Workers = append(ret.Workers, ws)
	}
	for _, ws := range ret.Workers {
		if ret.Total > 0 {
			ws.Share = float64(ws.Total) / float64(ret.Total)
		}
	}
	sort.SliceStable(ret.Workers, func(a, b int) bool {
		wa, wb := ret.Workers[a], ret.Workers[b]
		if wa.Total != wb.Total {
			return wa.Total > wb.Total
		}
		if wa.Worker.Host != wb.Worker.Host {
			return wa.Worker.Host < wb.Worker.Host
		}
		return wa.Worker.TID < wb.Worker.TID
	})
	return ret
}

// WorkerEntry is a worker's row: the worker and the time range its chain
// covers.
type WorkerEntry struct {
	Worker     graph.Worker
	Start, End int64
}

// HostEntry groups the rows of one host's workers.
type HostEntry struct {
	Host    string
	Workers []*WorkerEntry
}

// Entries returns one HostEntry per host of g, sorted by host name, with the
// host's workers in order of first appearance.
func Entries(g *graph.Graph) []*HostEntry {
	byHost := map[string]*HostEntry{}
	byWorker := map[graph.WorkerKey]*WorkerEntry{}
	g.Traverse(graph.Visitor{
		VisitHead: func(g *graph.Graph, w graph.Worker, v graph.VertexID) {
			if _, ok := byWorker[w.Key()]; ok {
				return
			}
			he, ok := byHost[w.Host]
			if !ok {
				he = &HostEntry{Host: w.Host}
				byHost[w.Host] = he
			}
			we := &WorkerEntry{
				Worker: w,
				Start:  g.Timestamp(v),
				End:    g.Timestamp(g.Tail(w)),
			}
			byWorker[w.Key()] = we
			he.Workers = append(he.Workers, we)
		},
	})
	ret := make([]*HostEntry, 0, len(byHost))
	for _, he := range byHost {
		ret = append(ret, he)
	}
	sort.Slice(ret, func(a, b int) bool {
		return ret[a].Host < ret[b].Host
	})
	return ret
}
