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

import "fmt"

// SnapshotChain is one worker's chain within a Snapshot.
type SnapshotChain struct {
	Worker Worker     `msgpack:"worker"`
	Nodes  []VertexID `msgpack:"nodes"`
}

// SnapshotEdge is one edge within a Snapshot.
type SnapshotEdge struct {
	From      VertexID `msgpack:"from"`
	To        VertexID `msgpack:"to"`
	Type      EdgeType `msgpack:"type"`
	Qualifier string   `msgpack:"qualifier,omitempty"`
	Vertical  bool     `msgpack:"vertical,omitempty"`
	Corrected bool     `msgpack:"corrected,omitempty"`
}

// Snapshot is a flat, serializable form of a Graph.  Timestamps are indexed
// by VertexID and Edges by EdgeID.
type Snapshot struct {
	Timestamps []int64         `msgpack:"timestamps"`
	Chains     []SnapshotChain `msgpack:"chains"`
	Edges      []SnapshotEdge  `msgpack:"edges"`
	Frozen     bool            `msgpack:"frozen"`
}

// Snapshot returns a Snapshot of the receiver.
func (g *Graph) Snapshot() *Snapshot {
	ret := &Snapshot{
		Timestamps: make([]int64, len(g.vertices)),
		Chains:     make([]SnapshotChain, len(g.chains)),
		Edges:      make([]SnapshotEdge, len(g.edges)),
		Frozen:     g.frozen,
	}
	for idx, vtx := range g.vertices {
		ret.Timestamps[idx] = vtx.ts
	}
	for idx, c := range g.chains {
		ret.Chains[idx] = SnapshotChain{
			Worker: c.worker,
			Nodes:  append([]VertexID(nil), c.nodes...),
		}
	}
	for idx, e := range g.edges {
		ret.Edges[idx] = SnapshotEdge{
			From:      e.From,
			To:        e.To,
			Type:      e.Type,
			Qualifier: e.Qualifier,
			Vertical:  e.Vertical,
			Corrected: g.corrected[idx],
		}
	}
	return ret
}

// FromSnapshot rebuilds a Graph from a Snapshot, revalidating every placement
// and link.
func FromSnapshot(s *Snapshot) (*Graph, error) {
	g := New()
	for _, ts := range s.Timestamps {
		g.NewVertex(ts)
	}
	for _, c := range s.Chains {
		for _, v := range c.Nodes {
			if err := g.Add(c.Worker, v); err != nil {
				return nil, fmt.Errorf("placing vertex %d on %s: %w", v, c.Worker, err)
			}
		}
	}
	for idx, e := range s.Edges {
		if _, err := g.link(e.From, e.To, e.Type, e.Qualifier, e.Vertical); err != nil {
			return nil, fmt.Errorf("restoring edge %d: %w", idx, err)
		}
		g.corrected[idx] = e.Corrected
	}
	if s.Frozen {
		g.Freeze()
	}
	return g, nil
}
