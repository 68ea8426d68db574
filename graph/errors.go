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
	"errors"
	"fmt"
)

// Sentinel errors for graph operations.
var (
	// ErrGraphFrozen is returned by every mutating operation once Freeze has
	// been called.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrWorkerExists is returned by Merge when the merged graph shares a
	// worker with the receiver.
	ErrWorkerExists = errors.New("worker already present in graph")

	// ErrUnknownVertex is returned when a VertexID does not name a vertex of
	// the graph.
	ErrUnknownVertex = errors.New("unknown vertex")

	// ErrVertexPlaced is returned by Add and Append when the vertex already
	// belongs to a worker's chain.
	ErrVertexPlaced = errors.New("vertex already placed on a worker")
)

// InvalidLinkError reports a structural misuse of the linking API: a link
// that would go back in time, reuse an occupied edge slot, connect the wrong
// workers, or carry an edge type outside the closed set.
type InvalidLinkError struct {
	From, To VertexID
	Reason   string
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid link %d -> %d: %s", e.From, e.To, e.Reason)
}

// NoOpenTailError is returned by Append when the worker has no chain yet.
type NoOpenTailError struct {
	Worker Worker
}

func (e *NoOpenTailError) Error() string {
	return fmt.Sprintf("worker %s has no open tail", e.Worker)
}

// UnknownWorkerError is returned when a requested worker is absent from the
// graph.
type UnknownWorkerError struct {
	Worker Worker
}

func (e *UnknownWorkerError) Error() string {
	return fmt.Sprintf("worker %s is not in the graph", e.Worker)
}

// CyclicGraphError reports a directed cycle through the vertex of Worker at
// Timestamp.
type CyclicGraphError struct {
	Worker    Worker
	Timestamp int64
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("directed cycle through %s @%d", e.Worker, e.Timestamp)
}
