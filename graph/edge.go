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
	"strings"
)

// EdgeType classifies what a worker was doing (horizontal edges) or why one
// worker depended on another (vertical edges).  The set is closed.
type EdgeType int

const (
	// Unknown indicates that no information is available.
	Unknown EdgeType = iota
	// Running indicates the worker was executing.
	Running
	// Preempted indicates the worker was ready but descheduled.
	Preempted
	// Blocked indicates the worker waited on a non-network resource.
	Blocked
	// Interrupted indicates the worker was suspended by an interrupt context.
	Interrupted
	// Network indicates the worker waited on a network exchange.
	Network
	numEdgeTypes
)

var edgeTypeNames = [numEdgeTypes]string{
	Unknown:     "UNKNOWN",
	Running:     "RUNNING",
	Preempted:   "PREEMPTED",
	Blocked:     "BLOCKED",
	Interrupted: "INTERRUPTED",
	Network:     "NETWORK",
}

// EdgeTypes returns every valid EdgeType.
func EdgeTypes() []EdgeType {
	ret := make([]EdgeType, 0, numEdgeTypes)
	for et := Unknown; et < numEdgeTypes; et++ {
		ret = append(ret, et)
	}
	return ret
}

// Valid returns true if the receiver belongs to the closed set of edge types.
func (et EdgeType) Valid() bool {
	return et >= Unknown && et < numEdgeTypes
}

// IsWait returns true for the edge types describing a worker waiting on
// something that another worker may explain.
func (et EdgeType) IsWait() bool {
	return et == Blocked || et == Network || et == Interrupted
}

func (et EdgeType) String() string {
	if !et.Valid() {
		return fmt.Sprintf("EdgeType(%d)", int(et))
	}
	return edgeTypeNames[et]
}

// ParseEdgeType returns the EdgeType named by s, case-insensitively.
func ParseEdgeType(s string) (EdgeType, error) {
	for et, name := range edgeTypeNames {
		if strings.EqualFold(name, s) {
			return EdgeType(et), nil
		}
	}
	return Unknown, fmt.Errorf("unknown edge type '%s'", s)
}

// Direction selects one of a vertex's four edge slots.
type Direction int

const (
	// IncomingHorizontal is the edge from the previous vertex of the same
	// worker.
	IncomingHorizontal Direction = iota
	// OutgoingHorizontal is the edge to the next vertex of the same worker.
	OutgoingHorizontal
	// IncomingVertical is the edge from a vertex of another worker.
	IncomingVertical
	// OutgoingVertical is the edge to a vertex of another worker.
	OutgoingVertical
	numDirections
)

func (d Direction) String() string {
	switch d {
	case IncomingHorizontal:
		return "incoming horizontal"
	case OutgoingHorizontal:
		return "outgoing horizontal"
	case IncomingVertical:
		return "incoming vertical"
	case OutgoingVertical:
		return "outgoing vertical"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// EdgeID identifies an edge within its graph.
type EdgeID int

// NoEdge is the EdgeID of an absent edge.
const NoEdge EdgeID = -1

// Edge is a directed, typed link between two vertices.  Horizontal edges join
// chronologically adjacent vertices of one worker; vertical edges join
// vertices of different workers.
type Edge struct {
	ID        EdgeID
	From, To  VertexID
	Type      EdgeType
	Qualifier string
	Vertical  bool
}
