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

// Package graph provides the execution graph: per-worker chains of
// timestamped vertices, joined within a worker by horizontal edges typed with
// the worker's state, and across workers by vertical edges recording causal
// hand-offs such as wake-ups and network exchanges.
//
// # Representation
//
// Vertices and edges live in arenas owned by the Graph and are addressed by
// VertexID and EdgeID.  Each vertex has four edge slots (see Direction), each
// holding at most one edge.
//
// # Thread Safety
//
// A Graph is not internally synchronized.  A single writer may mutate it
// during construction; once Freeze has been called it is read-only and may be
// shared freely among readers, provided the freeze happens-before the reads.
//
// # Lifecycle
//
// Graphs are built once (New, NewVertex, Add, Append, Link, SetEdgeType,
// Merge), then frozen.  Every mutation of a frozen graph fails with
// ErrGraphFrozen.
package graph

import (
	"fmt"
	"sort"
)

// VertexID identifies a vertex within its graph.
type VertexID int

// NoVertex is the VertexID of an absent vertex.
const NoVertex VertexID = -1

type vertex struct {
	ts     int64
	worker int // index into Graph.chains, or -1 while unplaced.
	pos    int // index into the worker's chain.
	edges  [numDirections]EdgeID
}

type chain struct {
	worker Worker
	nodes  []VertexID
}

// Graph is an execution graph.
type Graph struct {
	vertices  []vertex
	edges     []Edge
	corrected []bool
	chains    []*chain
	byKey     map[WorkerKey]int
	frozen    bool
}

// New returns a new, empty Graph.
func New() *Graph {
	return &Graph{
		byKey: map[WorkerKey]int{},
	}
}

// NewVertex returns a new vertex at the specified timestamp.  The vertex has
// no owner until it is placed with Add or Append.
func (g *Graph) NewVertex(ts int64) VertexID {
	g.vertices = append(g.vertices, vertex{
		ts:     ts,
		worker: -1,
		pos:    -1,
		edges:  [numDirections]EdgeID{NoEdge, NoEdge, NoEdge, NoEdge},
	})
	return VertexID(len(g.vertices) - 1)
}

func (g *Graph) vertex(v VertexID) (*vertex, error) {
	if v < 0 || int(v) >= len(g.vertices) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVertex, v)
	}
	return &g.vertices[v], nil
}

func (g *Graph) chainOf(w Worker) *chain {
	idx, ok := g.byKey[w.Key()]
	if !ok {
		return nil
	}
	return g.chains[idx]
}

func (g *Graph) place(w Worker, v VertexID) error {
	vtx, err := g.vertex(v)
	if err != nil {
		return err
	}
	if vtx.worker >= 0 {
		return fmt.Errorf("%w: %d", ErrVertexPlaced, v)
	}
	idx, ok := g.byKey[w.Key()]
	if ok {
		c := g.chains[idx]
		if len(c.nodes) > 0 {
			tail := c.nodes[len(c.nodes)-1]
			if vtx.ts < g.vertices[tail].ts {
				return &InvalidLinkError{From: tail, To: v, Reason: "vertex precedes the worker's tail"}
			}
		}
	} else {
		idx = len(g.chains)
		g.chains = append(g.chains, &chain{worker: w})
		g.byKey[w.Key()] = idx
	}
	c := g.chains[idx]
	vtx.worker, vtx.pos = idx, len(c.nodes)
	c.nodes = append(c.nodes, v)
	return nil
}

// Add places v at the end of w's chain without linking it to the previous
// tail, registering w if it is new.  If w already has a tail, v starts a new,
// disconnected segment of w's chain.  v may not precede w's current tail.
func (g *Graph) Add(w Worker, v VertexID) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	return g.place(w, v)
}

// AddAt creates a vertex at ts and Adds it to w's chain.
func (g *Graph) AddAt(w Worker, ts int64) (VertexID, error) {
	v := g.NewVertex(ts)
	if err := g.Add(w, v); err != nil {
		g.vertices = g.vertices[:len(g.vertices)-1]
		return NoVertex, err
	}
	return v, nil
}

// Append places v at the end of w's chain and links the previous tail to it
// with a horizontal edge of the specified type, returning that edge.  It
// fails with a NoOpenTailError if w has no chain yet.
func (g *Graph) Append(w Worker, v VertexID, typ EdgeType, qualifier string) (EdgeID, error) {
	if g.frozen {
		return NoEdge, ErrGraphFrozen
	}
	if !typ.Valid() {
		return NoEdge, &InvalidLinkError{From: NoVertex, To: v, Reason: fmt.Sprintf("invalid edge type %v", typ)}
	}
	c := g.chainOf(w)
	if c == nil || len(c.nodes) == 0 {
		return NoEdge, &NoOpenTailError{Worker: w}
	}
	tail := c.nodes[len(c.nodes)-1]
	if err := g.place(w, v); err != nil {
		return NoEdge, err
	}
	return g.link(tail, v, typ, qualifier, false)
}

// AppendAt creates a vertex at ts and Appends it to w's chain.
func (g *Graph) AppendAt(w Worker, ts int64, typ EdgeType, qualifier string) (VertexID, error) {
	v := g.NewVertex(ts)
	if _, err := g.Append(w, v, typ, qualifier); err != nil {
		g.vertices = g.vertices[:len(g.vertices)-1]
		return NoVertex, err
	}
	return v, nil
}

// Link links from to to: horizontally if both belong to the same worker,
// vertically otherwise.
func (g *Graph) Link(from, to VertexID, typ EdgeType, qualifier string) (EdgeID, error) {
	fromV, err := g.vertex(from)
	if err != nil {
		return NoEdge, err
	}
	toV, err := g.vertex(to)
	if err != nil {
		return NoEdge, err
	}
	return g.link(from, to, typ, qualifier, fromV.worker != toV.worker)
}

// LinkHorizontal links two adjacent vertices of one worker's chain.
func (g *Graph) LinkHorizontal(from, to VertexID, typ EdgeType, qualifier string) (EdgeID, error) {
	return g.link(from, to, typ, qualifier, false)
}

// LinkVertical links vertices of two different workers.
func (g *Graph) LinkVertical(from, to VertexID, typ EdgeType) (EdgeID, error) {
	return g.link(from, to, typ, "", true)
}

func (g *Graph) link(from, to VertexID, typ EdgeType, qualifier string, vertical bool) (EdgeID, error) {
	if g.frozen {
		return NoEdge, ErrGraphFrozen
	}
	fromV, err := g.vertex(from)
	if err != nil {
		return NoEdge, err
	}
	toV, err := g.vertex(to)
	if err != nil {
		return NoEdge, err
	}
	invalid := func(reason string) (EdgeID, error) {
		return NoEdge, &InvalidLinkError{From: from, To: to, Reason: reason}
	}
	switch {
	case !typ.Valid():
		return invalid(fmt.Sprintf("invalid edge type %v", typ))
	case fromV.worker < 0 || toV.worker < 0:
		return invalid("vertex is not placed on a worker")
	case from == to:
		return invalid("vertex cannot link to itself")
	case toV.ts < fromV.ts:
		return invalid("destination precedes source")
	}
	outDir, inDir := OutgoingHorizontal, IncomingHorizontal
	if vertical {
		if fromV.worker == toV.worker {
			return invalid("vertical link within a single worker")
		}
		outDir, inDir = OutgoingVertical, IncomingVertical
	} else {
		if fromV.worker != toV.worker {
			return invalid("horizontal link between different workers")
		}
		if toV.pos != fromV.pos+1 {
			return invalid("vertices are not adjacent in the worker's chain")
		}
	}
	if fromV.edges[outDir] != NoEdge {
		return invalid(fmt.Sprintf("source already has an %s edge", outDir))
	}
	if toV.edges[inDir] != NoEdge {
		return invalid(fmt.Sprintf("destination already has an %s edge", inDir))
	}
	id := EdgeID(len(g.edges))
	g.edges = append(g.edges, Edge{
		ID:        id,
		From:      from,
		To:        to,
		Type:      typ,
		Qualifier: qualifier,
		Vertical:  vertical,
	})
	g.corrected = append(g.corrected, false)
	fromV.edges[outDir] = id
	toV.edges[inDir] = id
	return id, nil
}

// SetEdgeType corrects the type and qualifier of an existing edge.  Each edge
// may be corrected at most once.
func (g *Graph) SetEdgeType(id EdgeID, typ EdgeType, qualifier string) error {
	if g.frozen {
		return ErrGraphFrozen
	}
	if id < 0 || int(id) >= len(g.edges) {
		return fmt.Errorf("unknown edge %d", id)
	}
	e := &g.edges[id]
	if !typ.Valid() {
		return &InvalidLinkError{From: e.From, To: e.To, Reason: fmt.Sprintf("invalid edge type %v", typ)}
	}
	if g.corrected[id] {
		return &InvalidLinkError{From: e.From, To: e.To, Reason: "edge type was already corrected"}
	}
	e.Type, e.Qualifier = typ, qualifier
	g.corrected[id] = true
	return nil
}

// Freeze makes the graph read-only.
func (g *Graph) Freeze() {
	g.frozen = true
}

// Frozen returns true if Freeze has been called.
func (g *Graph) Frozen() bool {
	return g.frozen
}

// Merge moves the contents of other, which must share no worker with the
// receiver, into the receiver.  It returns a function mapping other's
// VertexIDs to their IDs in the receiver.  other should not be used
// afterwards.
func (g *Graph) Merge(other *Graph) (func(VertexID) VertexID, error) {
	if g.frozen {
		return nil, ErrGraphFrozen
	}
	for _, c := range other.chains {
		if _, ok := g.byKey[c.worker.Key()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrWorkerExists, c.worker)
		}
	}
	vOff, eOff, wOff := VertexID(len(g.vertices)), EdgeID(len(g.edges)), len(g.chains)
	for _, vtx := range other.vertices {
		if vtx.worker >= 0 {
			vtx.worker += wOff
		}
		for dir, e := range vtx.edges {
			if e != NoEdge {
				vtx.edges[dir] = e + eOff
			}
		}
		g.vertices = append(g.vertices, vtx)
	}
	for _, e := range other.edges {
		e.ID += eOff
		e.From += vOff
		e.To += vOff
		g.edges = append(g.edges, e)
	}
	g.corrected = append(g.corrected, other.corrected...)
	for _, c := range other.chains {
		nodes := make([]VertexID, len(c.nodes))
		for idx, v := range c.nodes {
			nodes[idx] = v + vOff
		}
		g.byKey[c.worker.Key()] = len(g.chains)
		g.chains = append(g.chains, &chain{worker: c.worker, nodes: nodes})
	}
	return func(v VertexID) VertexID {
		if v == NoVertex {
			return NoVertex
		}
		return v + vOff
	}, nil
}

// Workers returns the graph's workers in the order they were first placed.
func (g *Graph) Workers() []Worker {
	ret := make([]Worker, len(g.chains))
	for idx, c := range g.chains {
		ret[idx] = c.worker
	}
	return ret
}

// Lookup returns the graph's worker with the specified key.
func (g *Graph) Lookup(key WorkerKey) (Worker, bool) {
	idx, ok := g.byKey[key]
	if !ok {
		return Worker{}, false
	}
	return g.chains[idx].worker, true
}

// HasWorker returns true if w has a chain in the graph.
func (g *Graph) HasWorker(w Worker) bool {
	_, ok := g.byKey[w.Key()]
	return ok
}

// NodesOf returns w's vertices in chronological order.
func (g *Graph) NodesOf(w Worker) []VertexID {
	c := g.chainOf(w)
	if c == nil {
		return nil
	}
	return append([]VertexID(nil), c.nodes...)
}

// Head returns the first vertex of w's chain, or NoVertex.
func (g *Graph) Head(w Worker) VertexID {
	c := g.chainOf(w)
	if c == nil || len(c.nodes) == 0 {
		return NoVertex
	}
	return c.nodes[0]
}

// Tail returns the last vertex of w's chain, or NoVertex.
func (g *Graph) Tail(w Worker) VertexID {
	c := g.chainOf(w)
	if c == nil || len(c.nodes) == 0 {
		return NoVertex
	}
	return c.nodes[len(c.nodes)-1]
}

// Previous returns the vertex preceding v in its worker's chain, whether or
// not they are linked, or NoVertex.
func (g *Graph) Previous(v VertexID) VertexID {
	vtx, err := g.vertex(v)
	if err != nil || vtx.pos <= 0 {
		return NoVertex
	}
	return g.chains[vtx.worker].nodes[vtx.pos-1]
}

// Next returns the vertex following v in its worker's chain, or NoVertex.
func (g *Graph) Next(v VertexID) VertexID {
	vtx, err := g.vertex(v)
	if err != nil || vtx.worker < 0 {
		return NoVertex
	}
	nodes := g.chains[vtx.worker].nodes
	if vtx.pos+1 >= len(nodes) {
		return NoVertex
	}
	return nodes[vtx.pos+1]
}

// Owner returns the worker whose chain holds v.
func (g *Graph) Owner(v VertexID) (Worker, bool) {
	vtx, err := g.vertex(v)
	if err != nil || vtx.worker < 0 {
		return Worker{}, false
	}
	return g.chains[vtx.worker].worker, true
}

// Timestamp returns v's timestamp, or 0 for an unknown vertex.
func (g *Graph) Timestamp(v VertexID) int64 {
	vtx, err := g.vertex(v)
	if err != nil {
		return 0
	}
	return vtx.ts
}

// Edge returns the edge in v's slot for the specified direction.
func (g *Graph) Edge(v VertexID, dir Direction) (Edge, bool) {
	vtx, err := g.vertex(v)
	if err != nil || dir < 0 || dir >= numDirections {
		return Edge{}, false
	}
	return g.EdgeByID(vtx.edges[dir])
}

// EdgeByID returns the edge with the specified ID.
func (g *Graph) EdgeByID(id EdgeID) (Edge, bool) {
	if id < 0 || int(id) >= len(g.edges) {
		return Edge{}, false
	}
	return g.edges[id], true
}

// VertexAt returns the first vertex of w's chain at or after ts, or NoVertex.
func (g *Graph) VertexAt(w Worker, ts int64) VertexID {
	c := g.chainOf(w)
	if c == nil {
		return NoVertex
	}
	idx := sort.Search(len(c.nodes), func(idx int) bool {
		return g.vertices[c.nodes[idx]].ts >= ts
	})
	if idx == len(c.nodes) {
		return NoVertex
	}
	return c.nodes[idx]
}

// Start returns the earliest timestamp of any placed vertex, or 0 for an
// empty graph.
func (g *Graph) Start() int64 {
	var start int64
	first := true
	for _, c := range g.chains {
		if len(c.nodes) == 0 {
			continue
		}
		if ts := g.vertices[c.nodes[0]].ts; first || ts < start {
			start, first = ts, false
		}
	}
	return start
}

// End returns the latest timestamp of any placed vertex, or 0 for an empty
// graph.
func (g *Graph) End() int64 {
	var end int64
	first := true
	for _, c := range g.chains {
		if len(c.nodes) == 0 {
			continue
		}
		if ts := g.vertices[c.nodes[len(c.nodes)-1]].ts; first || ts > end {
			end, first = ts, false
		}
	}
	return end
}

// VertexCount returns the number of vertices placed on some worker.
func (g *Graph) VertexCount() int {
	ret := 0
	for _, c := range g.chains {
		ret += len(c.nodes)
	}
	return ret
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}
