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

// Package kernel describes decoded kernel trace events and the per-host
// bookkeeping (which thread runs on each CPU, which interrupt contexts are
// active, what state each thread is in) needed to interpret them.
package kernel

import (
	"fmt"
	"iter"
	"strings"
)

// Kind is the kind of a kernel trace event, named after its tracepoint.
type Kind int

// Supported event kinds.
const (
	UnknownKind Kind = iota
	SchedSwitch
	SchedWakeup
	SchedWakeupNew
	SchedProcessFork
	SchedProcessExit
	IRQHandlerEntry
	IRQHandlerExit
	SoftIRQEntry
	SoftIRQExit
	HRTimerExpireEntry
	HRTimerExpireExit
	IPIEntry
	IPIExit
	NetifReceiveSkbEntry
	NetifReceiveSkbExit
	InetSockLocalOut
	InetSockLocalIn
	numKinds
)

var kindNames = [numKinds]string{
	UnknownKind:          "unknown",
	SchedSwitch:          "sched_switch",
	SchedWakeup:          "sched_wakeup",
	SchedWakeupNew:       "sched_wakeup_new",
	SchedProcessFork:     "sched_process_fork",
	SchedProcessExit:     "sched_process_exit",
	IRQHandlerEntry:      "irq_handler_entry",
	IRQHandlerExit:       "irq_handler_exit",
	SoftIRQEntry:         "softirq_entry",
	SoftIRQExit:          "softirq_exit",
	HRTimerExpireEntry:   "hrtimer_expire_entry",
	HRTimerExpireExit:    "hrtimer_expire_exit",
	IPIEntry:             "ipi_entry",
	IPIExit:              "ipi_exit",
	NetifReceiveSkbEntry: "netif_receive_skb_entry",
	NetifReceiveSkbExit:  "netif_receive_skb_exit",
	InetSockLocalOut:     "inet_sock_local_out",
	InetSockLocalIn:      "inet_sock_local_in",
}

var kindsByName = func() map[string]Kind {
	ret := make(map[string]Kind, numKinds)
	for k := UnknownKind + 1; k < numKinds; k++ {
		ret[kindNames[k]] = k
	}
	return ret
}()

// ParseKind returns the Kind of the named tracepoint, or UnknownKind.
// Tracepoint names may carry a subsystem prefix ("sched:sched_switch").
func ParseKind(name string) Kind {
	if idx := strings.LastIndexByte(name, ':'); idx >= 0 {
		name = name[idx+1:]
	}
	return kindsByName[name]
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ThreadState is the state a thread is left in when it is switched out.
type ThreadState int

const (
	// Runnable threads were preempted and are waiting for a CPU.
	Runnable ThreadState = iota
	// Sleeping threads wait on some resource.
	Sleeping
	// Dead threads have exited.
	Dead
)

// ParseThreadState interprets a sched_switch prev_state value, either
// symbolic ("R", "S", "D", "X", "Z", "R+") or numeric ("0", "1", ...).
func ParseThreadState(s string) ThreadState {
	s = strings.TrimSuffix(strings.TrimSpace(s), "+")
	switch s {
	case "", "R", "0":
		return Runnable
	case "X", "Z", "x", "dead", "64", "16", "32":
		return Dead
	default:
		return Sleeping
	}
}

func (ts ThreadState) String() string {
	switch ts {
	case Runnable:
		return "R"
	case Sleeping:
		return "S"
	case Dead:
		return "X"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(ts))
	}
}

// SoftIRQ is a softirq vector number.  Its String form is the kernel's
// vector name.
type SoftIRQ int

// Softirq vectors.
const (
	HiSoftIRQ SoftIRQ = iota
	TimerSoftIRQ
	NetTxSoftIRQ
	NetRxSoftIRQ
	BlockSoftIRQ
	IRQPollSoftIRQ
	TaskletSoftIRQ
	SchedSoftIRQ
	HRTimerSoftIRQ
	RCUSoftIRQ
)

var softIRQNames = []string{"HI", "TIMER", "NET_TX", "NET_RX", "BLOCK", "IRQ_POLL", "TASKLET", "SCHED", "HRTIMER", "RCU"}

func (s SoftIRQ) String() string {
	if s < 0 || int(s) >= len(softIRQNames) {
		return fmt.Sprintf("SoftIRQ(%d)", int(s))
	}
	return softIRQNames[s]
}

// FlowKey correlates the send and receive sides of one network packet
// across hosts.
type FlowKey struct {
	Source      string
	Destination string
	Seq, Ack    uint32
	Flags       uint16
}

// IsZero returns true if the key is unset.
func (fk FlowKey) IsZero() bool {
	return fk == FlowKey{}
}

func (fk FlowKey) String() string {
	return fmt.Sprintf("%s->%s seq=%d ack=%d flags=%#x", fk.Source, fk.Destination, fk.Seq, fk.Ack, fk.Flags)
}

// Event is one decoded kernel trace event.  Which fields are meaningful
// depends on Kind:
//   - SchedSwitch: PrevTID, PrevComm, PrevState, NextTID, NextComm;
//   - SchedWakeup, SchedWakeupNew: TID (the woken thread), Comm;
//   - SchedProcessFork: ParentTID, TID (the child), Comm;
//   - SchedProcessExit: TID;
//   - IRQHandlerEntry: IRQ, Handler;
//   - SoftIRQEntry, SoftIRQExit: Vec;
//   - InetSockLocalOut, InetSockLocalIn: Flow.
type Event struct {
	Timestamp int64
	Kind      Kind
	// Name is the raw tracepoint name, retained for unknown kinds.
	Name string
	CPU  int

	TID  int
	Comm string

	PrevTID   int
	PrevComm  string
	PrevState ThreadState
	NextTID   int
	NextComm  string

	ParentTID int

	IRQ     int
	Handler string
	Vec     SoftIRQ

	Flow FlowKey
}

// EventName returns the event's tracepoint name.
func (e *Event) EventName() string {
	if e.Kind == UnknownKind && e.Name != "" {
		return e.Name
	}
	return e.Kind.String()
}

// Source is a chronological stream of one host's events.
type Source = iter.Seq[Event]
