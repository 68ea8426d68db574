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

package graph

import (
	"fmt"
	"log/slog"
)

type checkHelper struct {
	logger  *slog.Logger // If non-nil, all errors are logged to it.
	lastErr error
}

func (ch *checkHelper) error(err error) {
	if ch.logger != nil {
		ch.logger.Warn("graph invariant violated", "err", err)
	}
	ch.lastErr = err
}

// findCycles eliminates vertices in topological order, starting from the
// vertices with no incoming edges.  Any vertex left over lies on, or
// downstream of, a directed cycle; the earliest such vertex is reported.
func findCycles(g *Graph, ch *checkHelper) {
	preds := make([]int, len(g.vertices))
	var queue []VertexID
	for _, c := range g.chains {
		for _, v := range c.nodes {
			vtx := &g.vertices[v]
			for _, dir := range []Direction{IncomingHorizontal, IncomingVertical} {
				if vtx.edges[dir] != NoEdge {
					preds[v]++
				}
			}
			if preds[v] == 0 {
				queue = append(queue, v)
			}
		}
	}
	visited := 0
	var v VertexID
	for len(queue) > 0 {
		v, queue = queue[0], queue[1:]
		visited++
		for _, dir := range []Direction{OutgoingHorizontal, OutgoingVertical} {
			id := g.vertices[v].edges[dir]
			if id == NoEdge {
				continue
			}
			to := g.edges[id].To
			preds[to]--
			if preds[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if visited == g.VertexCount() {
		return
	}
	culprit := NoVertex
	for _, c := range g.chains {
		for _, v := range c.nodes {
			if preds[v] > 0 && (culprit == NoVertex || g.vertices[v].ts < g.vertices[culprit].ts) {
				culprit = v
			}
		}
	}
	w, _ := g.Owner(culprit)
	ch.error(&CyclicGraphError{Worker: w, Timestamp: g.vertices[culprit].ts})
}

// Check checks the provided graph for violated invariants which would likely
// compromise its correctness, returning an arbitrary violated invariant.
// Invariants tested by this function include:
//   - Each worker's chain must be in nondecreasing timestamp order, and each
//     of its vertices must record its owner and position;
//   - Each edge must occupy the matching slots of its endpoints, and must not
//     go back in time;
//   - Horizontal edges must join adjacent vertices of a single worker, and
//     vertical edges must join different workers;
//   - Edge types must belong to the closed set;
//   - There must be no directed cycle.
//
// If logAll is true, all errors are also logged to the default logger.
func Check(g *Graph, logAll bool) error {
	if logAll {
		return CheckWithLogger(g, slog.Default())
	}
	return check(g, &checkHelper{})
}

// CheckWithLogger is like Check, but logs all errors to logger.
func CheckWithLogger(g *Graph, logger *slog.Logger) error {
	return check(g, &checkHelper{logger: logger})
}

func check(g *Graph, ch *checkHelper) error {
	for idx, c := range g.chains {
		for pos, v := range c.nodes {
			vtx := &g.vertices[v]
			if vtx.worker != idx || vtx.pos != pos {
				ch.error(fmt.Errorf("vertex %d of %s records position %d:%d, expected %d:%d", v, c.worker, vtx.worker, vtx.pos, idx, pos))
			}
			if pos > 0 && vtx.ts < g.vertices[c.nodes[pos-1]].ts {
				ch.error(fmt.Errorf("chain of %s goes back in time at position %d (%d < %d)", c.worker, pos, vtx.ts, g.vertices[c.nodes[pos-1]].ts))
			}
		}
	}
	for _, e := range g.edges {
		from, to := &g.vertices[e.From], &g.vertices[e.To]
		outDir, inDir := OutgoingHorizontal, IncomingHorizontal
		if e.Vertical {
			outDir, inDir = OutgoingVertical, IncomingVertical
		}
		if from.edges[outDir] != e.ID || to.edges[inDir] != e.ID {
			ch.error(fmt.Errorf("edge %d (%d -> %d) is not recorded by its endpoints", e.ID, e.From, e.To))
		}
		if !e.Type.Valid() {
			ch.error(fmt.Errorf("edge %d has invalid type %v", e.ID, e.Type))
		}
		if to.ts < from.ts {
			ch.error(fmt.Errorf("edge %d goes back in time (%d -> %d)", e.ID, from.ts, to.ts))
		}
		switch {
		case from.worker < 0 || to.worker < 0:
			ch.error(fmt.Errorf("edge %d has an unplaced endpoint", e.ID))
		case e.Vertical && from.worker == to.worker:
			ch.error(fmt.Errorf("vertical edge %d joins a worker to itself", e.ID))
		case !e.Vertical && (from.worker != to.worker || to.pos != from.pos+1):
			ch.error(fmt.Errorf("horizontal edge %d does not join adjacent vertices of one worker", e.ID))
		}
	}
	findCycles(g, ch)
	return ch.lastErr
}
