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

import "fmt"

// ContextKind is the kind of an interrupt context active on a CPU.
type ContextKind int

// Interrupt context kinds.
const (
	TaskContext ContextKind = iota
	IRQContext
	SoftIRQContext
	HRTimerContext
	IPIContext
	PacketContext
)

func (ck ContextKind) String() string {
	switch ck {
	case TaskContext:
		return "task"
	case IRQContext:
		return "irq"
	case SoftIRQContext:
		return "softirq"
	case HRTimerContext:
		return "hrtimer"
	case IPIContext:
		return "ipi"
	case PacketContext:
		return "packet"
	default:
		return fmt.Sprintf("ContextKind(%d)", int(ck))
	}
}

// Context is an interrupt context active on a CPU.
type Context struct {
	Kind    ContextKind
	IRQ     int
	Handler string
	Vec     SoftIRQ
}

type cpuState struct {
	current int
	stack   []Context
}

type threadState struct {
	status Status
	name   string
}

// Model tracks the kernel state of one host as its events are replayed: the
// thread currently running on each CPU, each CPU's stack of interrupt
// contexts, and each thread's status and name.  The idle thread has TID 0.
type Model struct {
	host    string
	cpus    map[int]*cpuState
	threads map[int]*threadState
}

// NewModel returns a Model for the specified host, with nothing known.
func NewModel(host string) *Model {
	return &Model{
		host:    host,
		cpus:    map[int]*cpuState{},
		threads: map[int]*threadState{},
	}
}

// Host returns the modeled host.
func (m *Model) Host() string {
	return m.host
}

func (m *Model) cpu(cpu int) *cpuState {
	cs, ok := m.cpus[cpu]
	if !ok {
		cs = &cpuState{}
		m.cpus[cpu] = cs
	}
	return cs
}

func (m *Model) thread(tid int) *threadState {
	ts, ok := m.threads[tid]
	if !ok {
		ts = &threadState{}
		m.threads[tid] = ts
	}
	return ts
}

// Current returns the TID running on cpu, or 0 if it is idle or unknown.
func (m *Model) Current(cpu int) int {
	return m.cpu(cpu).current
}

// SetCurrent records that tid now runs on cpu.
func (m *Model) SetCurrent(cpu, tid int) {
	m.cpu(cpu).current = tid
}

// PushContext enters an interrupt context on cpu.
func (m *Model) PushContext(cpu int, ctx Context) {
	cs := m.cpu(cpu)
	cs.stack = append(cs.stack, ctx)
}

// PopContext leaves the innermost context of the specified kind on cpu,
// along with any contexts nested within it whose exits were not traced.  It
// returns the popped context, and false if no such context was active.
func (m *Model) PopContext(cpu int, kind ContextKind) (Context, bool) {
	cs := m.cpu(cpu)
	for idx := len(cs.stack) - 1; idx >= 0; idx-- {
		if cs.stack[idx].Kind == kind {
			ret := cs.stack[idx]
			cs.stack = cs.stack[:idx]
			return ret, true
		}
	}
	return Context{}, false
}

// Innermost returns the innermost context active on cpu, which is of kind
// TaskContext if none is.
func (m *Model) Innermost(cpu int) Context {
	cs := m.cpu(cpu)
	if len(cs.stack) == 0 {
		return Context{Kind: TaskContext}
	}
	return cs.stack[len(cs.stack)-1]
}

// InInterrupt returns true if any interrupt context is active on cpu.
func (m *Model) InInterrupt(cpu int) bool {
	return len(m.cpu(cpu).stack) > 0
}

// Interrupted returns true if a context that preempts the running thread
// (any but PacketContext) is active on cpu.
func (m *Model) Interrupted(cpu int) bool {
	for _, ctx := range m.cpu(cpu).stack {
		if ctx.Kind != PacketContext {
			return true
		}
	}
	return false
}

// Status returns the status of tid.
func (m *Model) Status(tid int) Status {
	return m.thread(tid).status
}

// SetStatus sets the status of tid.
func (m *Model) SetStatus(tid int, status Status) {
	m.thread(tid).status = status
}

// Name returns the last known command name of tid.
func (m *Model) Name(tid int) string {
	return m.thread(tid).name
}

// SetName records the command name of tid, if name is not empty.
func (m *Model) SetName(tid int, name string) {
	if name != "" {
		m.thread(tid).name = name
	}
}
