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
	"cmp"
	"log/slog"
	"slices"

	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/kernel"
)

func compareFlows(a, b kernel.FlowKey) int {
	return cmp.Or(
		cmp.Compare(a.Source, b.Source),
		cmp.Compare(a.Destination, b.Destination),
		cmp.Compare(a.Seq, b.Seq),
		cmp.Compare(a.Ack, b.Ack),
		cmp.Compare(a.Flags, b.Flags),
	)
}

// flowTable pairs the send and receive endpoints of network flows, possibly
// observed on different hosts, and links them once both are known.
type flowTable struct {
	sends, recvs map[kernel.FlowKey]graph.VertexID
	logger       *slog.Logger
}

func newFlowTable(logger *slog.Logger) *flowTable {
	return &flowTable{
		sends:  map[kernel.FlowKey]graph.VertexID{},
		recvs:  map[kernel.FlowKey]graph.VertexID{},
		logger: logger,
	}
}

// add records settled endpoints.  Only the first endpoint of each side of a
// flow is retained.
func (ft *flowTable) add(sends, recvs []flowEndpoint, res *Result) {
	record := func(side map[kernel.FlowKey]graph.VertexID, eps []flowEndpoint, what string) {
		for _, ep := range eps {
			if ep.flow.IsZero() {
				continue
			}
			if _, ok := side[ep.flow]; ok {
				res.FlowsDuplicated++
				ft.logger.Debug("duplicate flow endpoint ignored", "side", what, "flow", ep.flow.String())
				continue
			}
			side[ep.flow] = ep.vertex
		}
	}
	record(ft.sends, sends, "send")
	record(ft.recvs, recvs, "receive")
}

// link links every flow whose endpoints are both known, in flow order.  The
// receiving interval, if blocked or unknown, is reclassified as a network
// wait.  Flows that cannot be linked are dropped and reported in res.
func (ft *flowTable) link(g *graph.Graph, res *Result) {
	var ready []kernel.FlowKey
	for flow := range ft.sends {
		if _, ok := ft.recvs[flow]; ok {
			ready = append(ready, flow)
		}
	}
	slices.SortFunc(ready, compareFlows)
	for _, flow := range ready {
		send, recv := ft.sends[flow], ft.recvs[flow]
		delete(ft.sends, flow)
		delete(ft.recvs, flow)
		if _, err := g.LinkVertical(send, recv, graph.Network); err != nil {
			res.FlowsRejected++
			ufErr := &UnlinkableFlowError{Flow: flow, Cause: err}
			res.Warnings = append(res.Warnings, ufErr)
			ft.logger.Warn("network flow left unlinked", "flow", flow.String(), "err", err)
			continue
		}
		res.FlowsLinked++
		if in, ok := g.Edge(recv, graph.IncomingHorizontal); ok && (in.Type == graph.Blocked || in.Type == graph.Unknown) {
			if err := g.SetEdgeType(in.ID, graph.Network, in.Qualifier); err != nil {
				ft.logger.Debug("receiving interval not reclassified", "flow", flow.String(), "err", err)
			}
		}
	}
}

// unmatched returns the number of flows with only one known endpoint.
func (ft *flowTable) unmatched() int {
	return len(ft.sends) + len(ft.recvs)
}
