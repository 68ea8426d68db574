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

import "sort"

// Visitor receives callbacks from Traverse.  Nil callbacks are skipped.
type Visitor struct {
	// VisitHead is invoked for each vertex with no incoming horizontal edge,
	// before VisitVertex.
	VisitHead func(g *Graph, w Worker, v VertexID)
	// VisitVertex is invoked once for each placed vertex.
	VisitVertex func(g *Graph, v VertexID)
	// VisitEdge is invoked once for each edge, after its source vertex is
	// visited.
	VisitEdge func(g *Graph, e Edge)
}

// Traverse visits every placed vertex in timestamp order, breaking ties by
// worker placement order and then chain order, and every edge from its
// source vertex.
func (g *Graph) Traverse(visitor Visitor) {
	order := make([]VertexID, 0, g.VertexCount())
	for _, c := range g.chains {
		order = append(order, c.nodes...)
	}
	sort.SliceStable(order, func(a, b int) bool {
		va, vb := &g.vertices[order[a]], &g.vertices[order[b]]
		if va.ts != vb.ts {
			return va.ts < vb.ts
		}
		if va.worker != vb.worker {
			return va.worker < vb.worker
		}
		return va.pos < vb.pos
	})
	for _, v := range order {
		vtx := &g.vertices[v]
		if visitor.VisitHead != nil && vtx.edges[IncomingHorizontal] == NoEdge {
			visitor.VisitHead(g, g.chains[vtx.worker].worker, v)
		}
		if visitor.VisitVertex != nil {
			visitor.VisitVertex(g, v)
		}
		if visitor.VisitEdge == nil {
			continue
		}
		for _, dir := range []Direction{OutgoingHorizontal, OutgoingVertical} {
			if id := vtx.edges[dir]; id != NoEdge {
				visitor.VisitEdge(g, g.edges[id])
			}
		}
	}
}
