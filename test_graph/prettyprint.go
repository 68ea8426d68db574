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

// Package testgraph provides tools for fluently constructing 'interesting'
// execution graphs for testing, and for pretty-printing graphs in test
// expectations.
package testgraph

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ilhamster/execgraph/graph"
)

// GraphPrettyPrinter facilitates pretty-printing graphs for testing.
type GraphPrettyPrinter struct {
	includeHosts bool
}

// NewPrettyPrinter returns a new GraphPrettyPrinter, which names workers by
// their name, or by their TID if they have none.
func NewPrettyPrinter() *GraphPrettyPrinter {
	return &GraphPrettyPrinter{}
}

// WithHostsIncluded specifies that worker names should be prefixed by their
// host.
func (gpp *GraphPrettyPrinter) WithHostsIncluded() *GraphPrettyPrinter {
	gpp.includeHosts = true
	return gpp
}

func (gpp *GraphPrettyPrinter) workerName(w graph.Worker) string {
	name := w.Name
	if name == "" {
		name = strconv.Itoa(w.TID)
	}
	if gpp.includeHosts {
		return w.Host + "/" + name
	}
	return name
}

func edgeString(e graph.Edge) string {
	if e.Qualifier == "" {
		return e.Type.String()
	}
	return fmt.Sprintf("%s [%s]", e.Type, e.Qualifier)
}

// PrettyPrint renders g: each worker's chain, with a '@ts' line for every
// segment start and a 'from-to TYPE' line for every horizontal edge, followed
// by the sorted vertical links.  Workers are sorted by host and TID.
func (gpp *GraphPrettyPrinter) PrettyPrint(g *graph.Graph) string {
	workers := g.Workers()
	sort.SliceStable(workers, func(a, b int) bool {
		if workers[a].Host != workers[b].Host {
			return workers[a].Host < workers[b].Host
		}
		return workers[a].TID < workers[b].TID
	})
	ret := []string{""}
	var links []string
	for _, w := range workers {
		ret = append(ret, gpp.workerName(w))
		for _, v := range g.NodesOf(w) {
			if in, ok := g.Edge(v, graph.IncomingHorizontal); ok {
				ret = append(ret, fmt.Sprintf("  %d-%d %s", g.Timestamp(in.From), g.Timestamp(v), edgeString(in)))
			} else {
				ret = append(ret, fmt.Sprintf("  @%d", g.Timestamp(v)))
			}
			if out, ok := g.Edge(v, graph.OutgoingVertical); ok {
				to, _ := g.Owner(out.To)
				links = append(links, fmt.Sprintf(
					"  %s@%d -> %s@%d %s",
					gpp.workerName(w), g.Timestamp(v),
					gpp.workerName(to), g.Timestamp(out.To),
					edgeString(out),
				))
			}
		}
	}
	if len(links) > 0 {
		sort.Strings(links)
		ret = append(ret, "links")
		ret = append(ret, links...)
	}
	return strings.Join(ret, "\n")
}

// PrettyPrint renders g with a default GraphPrettyPrinter.
func PrettyPrint(g *graph.Graph) string {
	return NewPrettyPrinter().PrettyPrint(g)
}
