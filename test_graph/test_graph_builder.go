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

package testgraph

import (
	"fmt"
	"testing"

	"github.com/ilhamster/execgraph/graph"
)

// TestHost is the host of the test actors.
const TestHost = "test"

// Test actors.
var (
	A0 = graph.NewThreadWorker(TestHost, 100, "A0")
	A1 = graph.NewThreadWorker(TestHost, 101, "A1")
	A2 = graph.NewThreadWorker(TestHost, 102, "A2")
	A3 = graph.NewThreadWorker(TestHost, 103, "A3")
)

// GraphBuilder facilitates fluently building test graphs in tests.
type GraphBuilder struct {
	err func(error)
	g   *graph.Graph
}

// NewTestingGraphBuilder returns a new, empty GraphBuilder.  Any errors
// encountered in graph construction yield a t.Fatalf() in the provided
// testing.T.
func NewTestingGraphBuilder(t *testing.T) *GraphBuilder {
	return NewGraphBuilderWithErrorHandler(func(err error) {
		t.Helper()
		t.Fatal(err.Error())
	})
}

// NewGraphBuilderWithErrorHandler returns a new, empty GraphBuilder.  Any
// errors encountered in graph construction are passed to the provided error
// handler.
func NewGraphBuilderWithErrorHandler(err func(error)) *GraphBuilder {
	return &GraphBuilder{
		err: err,
		g:   graph.New(),
	}
}

// Add starts a new segment of w's chain at ts.
func (gb *GraphBuilder) Add(w graph.Worker, ts int64) *GraphBuilder {
	if _, err := gb.g.AddAt(w, ts); err != nil {
		gb.err(err)
	}
	return gb
}

// Append extends w's chain to ts with an edge of the specified type.
func (gb *GraphBuilder) Append(w graph.Worker, ts int64, typ graph.EdgeType) *GraphBuilder {
	return gb.AppendQualified(w, ts, typ, "")
}

// AppendQualified extends w's chain to ts with an edge of the specified type
// and qualifier.
func (gb *GraphBuilder) AppendQualified(w graph.Worker, ts int64, typ graph.EdgeType, qualifier string) *GraphBuilder {
	if _, err := gb.g.AppendAt(w, ts, typ, qualifier); err != nil {
		gb.err(err)
	}
	return gb
}

func (gb *GraphBuilder) lastAt(w graph.Worker, ts int64) (graph.VertexID, error) {
	nodes := gb.g.NodesOf(w)
	for idx := len(nodes) - 1; idx >= 0; idx-- {
		if gb.g.Timestamp(nodes[idx]) == ts {
			return nodes[idx], nil
		}
	}
	return graph.NoVertex, fmt.Errorf("worker %s has no vertex at %d", w, ts)
}

// Link links the last vertex of fromW at fromTS to the last vertex of toW at
// toTS.
func (gb *GraphBuilder) Link(fromW graph.Worker, fromTS int64, toW graph.Worker, toTS int64, typ graph.EdgeType) *GraphBuilder {
	from, err := gb.lastAt(fromW, fromTS)
	if err != nil {
		gb.err(err)
		return gb
	}
	to, err := gb.lastAt(toW, toTS)
	if err != nil {
		gb.err(err)
		return gb
	}
	if _, err := gb.g.Link(from, to, typ, ""); err != nil {
		gb.err(err)
	}
	return gb
}

// Build returns the assembled graph.
func (gb *GraphBuilder) Build() *graph.Graph {
	return gb.g
}
