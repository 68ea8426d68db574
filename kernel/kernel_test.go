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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/execgraph/graph"
)

func TestParseKind(t *testing.T) {
	for _, test := range []struct {
		name string
		want Kind
	}{
		{"sched_switch", SchedSwitch},
		{"sched:sched_wakeup", SchedWakeup},
		{"inet_sock_local_in", InetSockLocalIn},
		{"netif_receive_skb_entry", NetifReceiveSkbEntry},
		{"syscall_entry_read", UnknownKind},
		{"", UnknownKind},
	} {
		if got := ParseKind(test.name); got != test.want {
			t.Errorf("ParseKind(%q) = %v, wanted %v", test.name, got, test.want)
		}
	}
}

func TestStatusEdgeTypes(t *testing.T) {
	got := map[Status]graph.EdgeType{}
	for s := StatusUnknown; s <= StatusWaitFork; s++ {
		got[s] = s.EdgeType()
	}
	want := map[Status]graph.EdgeType{
		StatusUnknown:     graph.Unknown,
		StatusWaitBlocked: graph.Blocked,
		StatusInterrupted: graph.Interrupted,
		StatusWaitCPU:     graph.Preempted,
		StatusRun:         graph.Running,
		StatusWaitUnknown: graph.Preempted,
		StatusExit:        graph.Running,
		StatusZombie:      graph.Unknown,
		StatusWaitFork:    graph.Preempted,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status edge types diff (-want +got) %s", diff)
	}
}

func TestThreadStates(t *testing.T) {
	for _, test := range []struct {
		prevState string
		want      Status
	}{
		{"R", StatusWaitCPU},
		{"R+", StatusWaitCPU},
		{"0", StatusWaitCPU},
		{"S", StatusWaitBlocked},
		{"D", StatusWaitBlocked},
		{"1", StatusWaitBlocked},
		{"X", StatusExit},
		{"Z", StatusExit},
	} {
		if got := StatusAfterSwitch(ParseThreadState(test.prevState)); got != test.want {
			t.Errorf("StatusAfterSwitch(%q) = %v, wanted %v", test.prevState, got, test.want)
		}
	}
}

func TestContexts(t *testing.T) {
	m := NewModel("h")
	if got := m.Innermost(0).Kind; got != TaskContext {
		t.Fatalf("fresh CPU is in %v context", got)
	}
	m.PushContext(0, Context{Kind: IRQContext, IRQ: 30, Handler: "eth0"})
	m.PushContext(0, Context{Kind: SoftIRQContext, Vec: NetRxSoftIRQ})
	m.PushContext(0, Context{Kind: PacketContext})
	if got := m.Innermost(0).Kind; got != PacketContext {
		t.Errorf("Innermost() = %v, wanted packet", got)
	}
	// The packet context's exit was lost.
	popped, ok := m.PopContext(0, SoftIRQContext)
	if !ok || popped.Vec != NetRxSoftIRQ {
		t.Errorf("PopContext(softirq) = %v, %t", popped, ok)
	}
	if got := m.Innermost(0); got.Kind != IRQContext || got.Handler != "eth0" {
		t.Errorf("Innermost() after pop = %v", got)
	}
	if _, ok := m.PopContext(0, IPIContext); ok {
		t.Errorf("PopContext(ipi) succeeded with no IPI context active")
	}
	m.PopContext(0, IRQContext)
	if m.InInterrupt(0) {
		t.Errorf("CPU still in interrupt after popping every context")
	}
	if m.InInterrupt(1) {
		t.Errorf("untouched CPU is in interrupt")
	}
	m.PushContext(1, Context{Kind: PacketContext})
	if !m.InInterrupt(1) || m.Interrupted(1) {
		t.Errorf("packet context alone should not interrupt the running thread")
	}
	m.PushContext(1, Context{Kind: HRTimerContext})
	if !m.Interrupted(1) {
		t.Errorf("hrtimer context should interrupt the running thread")
	}
}

func TestThreads(t *testing.T) {
	m := NewModel("h")
	m.SetName(10, "server")
	m.SetName(10, "")
	m.SetStatus(10, StatusRun)
	m.SetCurrent(2, 10)
	if got := m.Name(10); got != "server" {
		t.Errorf("Name(10) = %q, wanted server", got)
	}
	if got := m.Status(10); got != StatusRun {
		t.Errorf("Status(10) = %v, wanted RUN", got)
	}
	if got := m.Status(11); got != StatusUnknown {
		t.Errorf("Status(11) = %v, wanted UNKNOWN", got)
	}
	if got := m.Current(2); got != 10 {
		t.Errorf("Current(2) = %d, wanted 10", got)
	}
}
