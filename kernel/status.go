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

package kernel

import (
	"fmt"

	"github.com/ilhamster/execgraph/graph"
)

// Status is the scheduling status of a thread.
type Status int

// Thread statuses.
const (
	StatusUnknown Status = iota
	StatusWaitBlocked
	StatusInterrupted
	StatusWaitCPU
	StatusRun
	StatusWaitUnknown
	StatusExit
	StatusZombie
	StatusWaitFork
)

var statusNames = []string{"UNKNOWN", "WAIT_BLOCKED", "INTERRUPTED", "WAIT_CPU", "RUN", "WAIT_UNKNOWN", "EXIT", "ZOMBIE", "WAIT_FORK"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// EdgeType returns the type of the interval a thread spends in the status.
func (s Status) EdgeType() graph.EdgeType {
	switch s {
	case StatusRun, StatusExit:
		return graph.Running
	case StatusWaitBlocked:
		return graph.Blocked
	case StatusWaitCPU, StatusWaitFork, StatusWaitUnknown:
		return graph.Preempted
	case StatusInterrupted:
		return graph.Interrupted
	default:
		return graph.Unknown
	}
}

// StatusAfterSwitch returns the status of a thread switched out in the
// specified state.
func StatusAfterSwitch(state ThreadState) Status {
	switch state {
	case Runnable:
		return StatusWaitCPU
	case Dead:
		return StatusExit
	default:
		return StatusWaitBlocked
	}
}
