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
	"fmt"
	"log/slog"

	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/kernel"
)

type flowEndpoint struct {
	flow   kernel.FlowKey
	vertex graph.VertexID
}

// hostState replays one host's events into a graph.
type hostState struct {
	host     string
	g        *graph.Graph
	model    *kernel.Model
	timerIRQ int
	logger   *slog.Logger

	started bool
	last    int64
	// CPUs whose kernel worker has an open segment.
	kernelOpen map[int]bool
	// Receives handled in interrupt context, per CPU, awaiting the thread the
	// same context wakes.
	pending map[int][]flowEndpoint
	// Settled endpoints not yet handed to the flow table.
	sends, recvs []flowEndpoint
}

func newHostState(host string, g *graph.Graph, timerIRQ int, logger *slog.Logger) *hostState {
	return &hostState{
		host:       host,
		g:          g,
		model:      kernel.NewModel(host),
		timerIRQ:   timerIRQ,
		logger:     logger,
		kernelOpen: map[int]bool{},
		pending:    map[int][]flowEndpoint{},
	}
}

// rebase moves the receiver onto g, into which its private graph was merged.
func (hs *hostState) rebase(g *graph.Graph, remap func(graph.VertexID) graph.VertexID) {
	hs.g = g
	for cpu, eps := range hs.pending {
		for idx := range eps {
			eps[idx].vertex = remap(eps[idx].vertex)
		}
		hs.pending[cpu] = eps
	}
	for idx := range hs.sends {
		hs.sends[idx].vertex = remap(hs.sends[idx].vertex)
	}
	for idx := range hs.recvs {
		hs.recvs[idx].vertex = remap(hs.recvs[idx].vertex)
	}
}

func (hs *hostState) thread(tid int) graph.Worker {
	if w, ok := hs.g.Lookup(graph.WorkerKey{Host: hs.host, TID: tid}); ok {
		return w
	}
	return graph.NewThreadWorker(hs.host, tid, hs.model.Name(tid))
}

// extend closes w's open interval at ts with the specified type, or starts
// w's chain at ts if it has none.  It returns the new tail.
func (hs *hostState) extend(w graph.Worker, ts int64, typ graph.EdgeType, qualifier string) (graph.VertexID, error) {
	if hs.g.Tail(w) == graph.NoVertex {
		return hs.g.AddAt(w, ts)
	}
	return hs.g.AppendAt(w, ts, typ, qualifier)
}

// extendThread closes tid's open interval with the type of its status.
func (hs *hostState) extendThread(tid int, ts int64) (graph.VertexID, error) {
	return hs.extend(hs.thread(tid), ts, hs.model.Status(tid).EdgeType(), "")
}

// kernelVertex returns a vertex of cpu's kernel worker at ts, opening a new
// segment if none is open.
func (hs *hostState) kernelVertex(cpu int, ts int64) (graph.VertexID, error) {
	kw := graph.NewKernelWorker(hs.host, cpu)
	if !hs.kernelOpen[cpu] {
		hs.kernelOpen[cpu] = true
		return hs.g.AddAt(kw, ts)
	}
	return hs.g.AppendAt(kw, ts, graph.Running, "")
}

// endpoint returns the vertex at which a packet sent or received on cpu at
// ts is attributed: the running thread's, or the kernel worker's in
// interrupt context.
func (hs *hostState) endpoint(cpu int, ts int64) (graph.VertexID, error) {
	if cur := hs.model.Current(cpu); cur != 0 && !hs.model.Interrupted(cpu) {
		return hs.extendThread(cur, ts)
	}
	return hs.kernelVertex(cpu, ts)
}

// apply applies one event.  It returns false if the event's kind is unknown.
func (hs *hostState) apply(ev *kernel.Event) (bool, error) {
	if hs.started && ev.Timestamp < hs.last {
		return true, &OutOfOrderEventError{Host: hs.host, Timestamp: ev.Timestamp, Previous: hs.last}
	}
	hs.started, hs.last = true, ev.Timestamp
	var err error
	switch ev.Kind {
	case kernel.SchedSwitch:
		err = hs.switchThreads(ev)
	case kernel.SchedWakeup, kernel.SchedWakeupNew:
		err = hs.wakeup(ev)
	case kernel.SchedProcessFork:
		hs.model.SetName(ev.TID, ev.Comm)
		hs.model.SetStatus(ev.TID, kernel.StatusWaitFork)
	case kernel.SchedProcessExit:
		if hs.model.Status(ev.TID) != kernel.StatusRun {
			hs.model.SetStatus(ev.TID, kernel.StatusZombie)
		}
	case kernel.IRQHandlerEntry:
		err = hs.enter(ev, kernel.Context{Kind: kernel.IRQContext, IRQ: ev.IRQ, Handler: ev.Handler})
	case kernel.SoftIRQEntry:
		err = hs.enter(ev, kernel.Context{Kind: kernel.SoftIRQContext, Vec: ev.Vec})
	case kernel.HRTimerExpireEntry:
		err = hs.enter(ev, kernel.Context{Kind: kernel.HRTimerContext})
	case kernel.IPIEntry:
		err = hs.enter(ev, kernel.Context{Kind: kernel.IPIContext})
	case kernel.NetifReceiveSkbEntry:
		err = hs.enter(ev, kernel.Context{Kind: kernel.PacketContext})
	case kernel.IRQHandlerExit:
		err = hs.exit(ev, kernel.IRQContext)
	case kernel.SoftIRQExit:
		err = hs.exit(ev, kernel.SoftIRQContext)
	case kernel.HRTimerExpireExit:
		err = hs.exit(ev, kernel.HRTimerContext)
	case kernel.IPIExit:
		err = hs.exit(ev, kernel.IPIContext)
	case kernel.NetifReceiveSkbExit:
		err = hs.exit(ev, kernel.PacketContext)
	case kernel.InetSockLocalOut:
		err = hs.send(ev)
	case kernel.InetSockLocalIn:
		err = hs.receive(ev)
	default:
		return false, nil
	}
	if err != nil {
		return true, fmt.Errorf("host %s: %s at %d: %w", hs.host, ev.EventName(), ev.Timestamp, err)
	}
	return true, nil
}

func (hs *hostState) switchThreads(ev *kernel.Event) error {
	if ev.PrevTID != 0 {
		hs.model.SetName(ev.PrevTID, ev.PrevComm)
		if _, err := hs.extendThread(ev.PrevTID, ev.Timestamp); err != nil {
			return err
		}
		hs.model.SetStatus(ev.PrevTID, kernel.StatusAfterSwitch(ev.PrevState))
	}
	hs.model.SetCurrent(ev.CPU, ev.NextTID)
	if ev.NextTID != 0 {
		hs.model.SetName(ev.NextTID, ev.NextComm)
		if _, err := hs.extendThread(ev.NextTID, ev.Timestamp); err != nil {
			return err
		}
		hs.model.SetStatus(ev.NextTID, kernel.StatusRun)
	}
	return nil
}

// classify returns the type and qualifier of a blocked interval ended by a
// wake-up issued in ctx, and whether the waker is the running thread.
func (hs *hostState) classify(cpu int, ctx kernel.Context) (graph.EdgeType, string, bool) {
	switch ctx.Kind {
	case kernel.TaskContext:
		return graph.Blocked, "", true
	case kernel.HRTimerContext:
		return graph.Blocked, "timer", false
	case kernel.IRQContext:
		if ctx.IRQ == hs.timerIRQ {
			return graph.Interrupted, "timer", false
		}
		return graph.Interrupted, ctx.Handler, false
	case kernel.SoftIRQContext:
		switch ctx.Vec {
		case kernel.TimerSoftIRQ, kernel.HRTimerSoftIRQ:
			return graph.Blocked, "timer", false
		case kernel.BlockSoftIRQ, kernel.IRQPollSoftIRQ:
			return graph.Blocked, "block_device", false
		case kernel.NetRxSoftIRQ, kernel.NetTxSoftIRQ:
			return graph.Network, "", false
		case kernel.SchedSoftIRQ:
			return graph.Interrupted, "sched", false
		}
		return graph.Unknown, "", false
	case kernel.IPIContext:
		return graph.Interrupted, "ipi", false
	case kernel.PacketContext:
		qualifier := ""
		if cur := hs.model.Current(cpu); cur != 0 {
			qualifier = hs.thread(cur).DisplayName()
		}
		return graph.Network, qualifier, false
	}
	return graph.Unknown, "", false
}

func (hs *hostState) wakeup(ev *kernel.Event) error {
	tid := ev.TID
	if tid == 0 {
		return nil
	}
	hs.model.SetName(tid, ev.Comm)
	cur := hs.model.Current(ev.CPU)
	var woken graph.VertexID
	switch hs.model.Status(tid) {
	case kernel.StatusWaitFork:
		v, err := hs.extendThread(tid, ev.Timestamp)
		if err != nil {
			return err
		}
		if cur != 0 && cur != tid && !hs.model.InInterrupt(ev.CPU) {
			if err := hs.linkFromThread(cur, v, ev.Timestamp); err != nil {
				return err
			}
		}
		woken = v
	case kernel.StatusWaitBlocked:
		typ, qualifier, fromTask := hs.classify(ev.CPU, hs.model.Innermost(ev.CPU))
		v, err := hs.extend(hs.thread(tid), ev.Timestamp, typ, qualifier)
		if err != nil {
			return err
		}
		if fromTask && cur != 0 && cur != tid {
			if err := hs.linkFromThread(cur, v, ev.Timestamp); err != nil {
				return err
			}
		}
		woken = v
	case kernel.StatusUnknown:
		v, err := hs.extendThread(tid, ev.Timestamp)
		if err != nil {
			return err
		}
		woken = v
	default:
		return nil
	}
	hs.model.SetStatus(tid, kernel.StatusWaitCPU)
	// Each wake-up takes the earliest receive pending in its context; the
	// rest settle at the kernel worker when the context ends.
	if pending := hs.pending[ev.CPU]; len(pending) > 0 {
		ep := pending[0]
		hs.logger.Debug("receive retargeted to woken thread", "host", hs.host, "flow", ep.flow.String(), "tid", tid)
		hs.recvs = append(hs.recvs, flowEndpoint{flow: ep.flow, vertex: woken})
		if len(pending) == 1 {
			delete(hs.pending, ev.CPU)
		} else {
			hs.pending[ev.CPU] = pending[1:]
		}
	}
	return nil
}

// linkFromThread links the waker tid, at ts, to the woken vertex.
func (hs *hostState) linkFromThread(tid int, woken graph.VertexID, ts int64) error {
	v, err := hs.extendThread(tid, ts)
	if err != nil {
		return err
	}
	_, err = hs.g.LinkVertical(v, woken, graph.Unknown)
	return err
}

func (hs *hostState) enter(ev *kernel.Event, ctx kernel.Context) error {
	if ctx.Kind != kernel.PacketContext && !hs.model.Interrupted(ev.CPU) {
		if cur := hs.model.Current(ev.CPU); cur != 0 && hs.model.Status(cur) == kernel.StatusRun {
			if _, err := hs.extendThread(cur, ev.Timestamp); err != nil {
				return err
			}
			hs.model.SetStatus(cur, kernel.StatusInterrupted)
		}
	}
	hs.model.PushContext(ev.CPU, ctx)
	if ctx.Kind == kernel.SoftIRQContext && (ctx.Vec == kernel.NetRxSoftIRQ || ctx.Vec == kernel.NetTxSoftIRQ) {
		// Network processing starts a new kernel worker segment.
		if hs.kernelOpen[ev.CPU] {
			if _, err := hs.kernelVertex(ev.CPU, ev.Timestamp); err != nil {
				return err
			}
			hs.kernelOpen[ev.CPU] = false
		}
		if _, err := hs.kernelVertex(ev.CPU, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

func (hs *hostState) exit(ev *kernel.Event, kind kernel.ContextKind) error {
	if _, ok := hs.model.PopContext(ev.CPU, kind); !ok {
		hs.logger.Debug("exit from inactive context", "host", hs.host, "cpu", ev.CPU, "context", kind.String(), "ts", ev.Timestamp)
		return nil
	}
	if !hs.model.Interrupted(ev.CPU) {
		if cur := hs.model.Current(ev.CPU); cur != 0 && hs.model.Status(cur) == kernel.StatusInterrupted {
			if _, err := hs.extendThread(cur, ev.Timestamp); err != nil {
				return err
			}
			hs.model.SetStatus(cur, kernel.StatusRun)
		}
		if hs.kernelOpen[ev.CPU] {
			if _, err := hs.kernelVertex(ev.CPU, ev.Timestamp); err != nil {
				return err
			}
			hs.kernelOpen[ev.CPU] = false
		}
	}
	if !hs.model.InInterrupt(ev.CPU) {
		hs.settlePending(ev.CPU)
	}
	return nil
}

// settlePending settles cpu's pending receives at their own vertices.
func (hs *hostState) settlePending(cpu int) {
	hs.recvs = append(hs.recvs, hs.pending[cpu]...)
	delete(hs.pending, cpu)
}

func (hs *hostState) send(ev *kernel.Event) error {
	v, err := hs.endpoint(ev.CPU, ev.Timestamp)
	if err != nil {
		return err
	}
	hs.sends = append(hs.sends, flowEndpoint{flow: ev.Flow, vertex: v})
	return nil
}

func (hs *hostState) receive(ev *kernel.Event) error {
	v, err := hs.endpoint(ev.CPU, ev.Timestamp)
	if err != nil {
		return err
	}
	ep := flowEndpoint{flow: ev.Flow, vertex: v}
	if hs.model.InInterrupt(ev.CPU) {
		hs.pending[ev.CPU] = append(hs.pending[ev.CPU], ep)
		return nil
	}
	hs.recvs = append(hs.recvs, ep)
	return nil
}

// drain returns and forgets the receiver's settled endpoints.
func (hs *hostState) drain() (sends, recvs []flowEndpoint) {
	sends, recvs = hs.sends, hs.recvs
	hs.sends, hs.recvs = nil, nil
	return sends, recvs
}

// settleAll settles every pending receive.
func (hs *hostState) settleAll() {
	for cpu := range hs.pending {
		hs.settlePending(cpu)
	}
}
