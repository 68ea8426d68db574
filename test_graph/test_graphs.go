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
	"github.com/ilhamster/execgraph/graph"
)

// Qualifier is the qualifier carried by some fixture edges.
const Qualifier = "testLinkQualifier"

const (
	r = graph.Running
	b = graph.Blocked
	u = graph.Unknown
	n = graph.Network
)

func build(f func(gb *GraphBuilder)) (*graph.Graph, error) {
	var firstErr error
	gb := NewGraphBuilderWithErrorHandler(func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	})
	f(gb)
	if firstErr != nil {
		return nil, firstErr
	}
	return gb.Build(), nil
}

// Basic is a single worker running from 0 to 1.
func Basic() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).Append(A0, 1, r)
	})
}

// WakeupMissing is a single worker blocked from 2 to 4, with nothing waking
// it.
//
//	A0: * -R- * -B- * -R- *
func WakeupMissing() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 2, r).
			AppendQualified(A0, 4, b, Qualifier).
			Append(A0, 6, r)
	})
}

// WakeupUnknown is a worker woken from its block by a network packet handled
// by a worker about which nothing else is known.
//
//	A0: * -R- * -B- * -R- *
//	              /N
//	A1:          *
func WakeupUnknown() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 2, r).
			Append(A0, 4, b).
			Append(A0, 6, r).
			Add(A1, 3).
			Link(A1, 3, A0, 4, n)
	})
}

// WakeupNew is a worker woken by a worker it created.
//
//	A0: * -R- * -R- * -B- * -R- *
//	           \          |
//	A1:         *  --R--  *
func WakeupNew() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 2, r).
			AppendQualified(A0, 4, r, Qualifier).
			Append(A0, 6, b).
			AppendQualified(A0, 8, r, Qualifier).
			Add(A1, 3).
			AppendQualified(A1, 6, r, Qualifier).
			Link(A0, 2, A1, 3, u).
			Link(A1, 6, A0, 6, u)
	})
}

// Opened is a worker unblocked by a second worker without delay.
//
//	A0: * --R-- * --B-- * --R-- *
//	                    |
//	A1: * -------R----- * --R-- *
func Opened() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 3, r).
			Append(A0, 6, b).
			Append(A0, 9, r).
			Add(A1, 0).
			Append(A1, 6, r).
			Append(A1, 9, r).
			Link(A1, 6, A0, 6, u)
	})
}

// OpenedDelay is a worker unblocked by a second worker whose wake-up happened
// before the first worker blocked.
//
//	A0: * --R-- * --B-- * --R-- *
//	                  /
//	A1: * -R- * --R-- *
func OpenedDelay() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 3, r).
			Append(A0, 6, b).
			Append(A0, 9, r).
			Add(A1, 0).
			Append(A1, 2, r).
			Append(A1, 5, r).
			Link(A1, 2, A0, 6, u)
	})
}

// WakeupMutual is two workers waking each other in turn.
func WakeupMutual() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 1, r).
			Append(A0, 2, r).
			Append(A0, 3, r).
			Append(A0, 4, b).
			Append(A0, 5, r).
			Add(A1, 0).
			Append(A1, 1, r).
			Append(A1, 2, b).
			Append(A1, 3, r).
			Append(A1, 4, r).
			Append(A1, 5, r).
			Link(A0, 2, A1, 2, u).
			Link(A1, 4, A0, 4, u)
	})
}

// WakeupEmbedded is a worker creating two workers and then waiting for each
// of them in turn.
func WakeupEmbedded() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 2, r).
			Append(A0, 4, r).
			Append(A0, 6, r).
			Append(A0, 8, b).
			Append(A0, 10, b).
			Append(A0, 12, r).
			Add(A1, 4).
			Append(A1, 8, r).
			Add(A2, 2).
			Append(A2, 10, r).
			Link(A0, 2, A2, 2, u).
			Link(A0, 4, A1, 4, u).
			Link(A1, 8, A0, 8, u).
			Link(A2, 10, A0, 10, u)
	})
}

// Nested is a chain of four workers, each creating the next and waiting for
// it to finish.
func Nested() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 1, r).
			Append(A0, 6, b).
			Append(A0, 7, r).
			Add(A1, 1).
			Append(A1, 2, r).
			Append(A1, 5, b).
			Append(A1, 6, r).
			Add(A2, 2).
			Append(A2, 3, r).
			Append(A2, 4, b).
			Append(A2, 5, r).
			Add(A3, 3).
			Append(A3, 4, r).
			Link(A0, 1, A1, 1, u).
			Link(A1, 2, A2, 2, u).
			Link(A2, 3, A3, 3, u).
			Link(A3, 4, A2, 4, u).
			Link(A2, 5, A1, 5, u).
			Link(A1, 6, A0, 6, u)
	})
}

// Segmented is a single worker whose chain has one-vertex segments, in the
// middle and at the open tail.
//
//	A0: * -R- *   *   * -R- *   *
func Segmented() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 5, r).
			Add(A0, 7).
			Add(A0, 10).
			Append(A0, 12, r).
			Add(A0, 15)
	})
}

// Cyclic is a malformed graph in which two blocked workers wake each other
// at the same instant.
func Cyclic() (*graph.Graph, error) {
	return build(func(gb *GraphBuilder) {
		gb.Add(A0, 0).
			Append(A0, 5, b).
			Add(A1, 0).
			Append(A1, 5, b).
			Link(A0, 5, A1, 5, u).
			Link(A1, 5, A0, 5, u)
	})
}
