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
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	criticalpath "github.com/ilhamster/execgraph/critical_path"
	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/kernel"
	tg "github.com/ilhamster/execgraph/test_graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func switchTo(ts int64, prev int, prevComm string, state kernel.ThreadState, next int, nextComm string) kernel.Event {
	return kernel.Event{
		Timestamp: ts,
		Kind:      kernel.SchedSwitch,
		PrevTID:   prev,
		PrevComm:  prevComm,
		PrevState: state,
		NextTID:   next,
		NextComm:  nextComm,
	}
}

func wakeup(ts int64, tid int) kernel.Event {
	return kernel.Event{Timestamp: ts, Kind: kernel.SchedWakeup, TID: tid}
}

func softIRQ(ts int64, kind kernel.Kind, vec kernel.SoftIRQ) kernel.Event {
	return kernel.Event{Timestamp: ts, Kind: kind, Vec: vec}
}

func packet(ts int64, kind kernel.Kind, flow kernel.FlowKey) kernel.Event {
	return kernel.Event{Timestamp: ts, Kind: kind, Flow: flow}
}

var (
	request = kernel.FlowKey{Source: "10.0.0.1:40000", Destination: "10.0.0.2:80", Seq: 1}
	reply   = kernel.FlowKey{Source: "10.0.0.2:80", Destination: "10.0.0.1:40000", Seq: 1, Ack: 2}
)

// Two threads sharing CPU 0.
func schedOnly() []kernel.Event {
	return []kernel.Event{
		switchTo(1, 1, "one", kernel.Runnable, 2, "two"),
		switchTo(5, 2, "two", kernel.Sleeping, 1, "one"),
		switchTo(10, 1, "one", kernel.Runnable, 2, "two"),
		switchTo(15, 2, "two", kernel.Runnable, 1, "one"),
	}
}

// A client sending a request and sleeping until the reply arrives.
func clientEvents() []kernel.Event {
	return []kernel.Event{
		switchTo(10, 0, "", kernel.Runnable, 200, "client"),
		packet(13, kernel.InetSockLocalOut, request),
		switchTo(15, 200, "client", kernel.Sleeping, 0, ""),
		softIRQ(68, kernel.SoftIRQEntry, kernel.NetRxSoftIRQ),
		packet(69, kernel.InetSockLocalIn, reply),
		wakeup(70, 200),
		softIRQ(71, kernel.SoftIRQExit, kernel.NetRxSoftIRQ),
		switchTo(75, 0, "", kernel.Runnable, 200, "client"),
		switchTo(90, 200, "client", kernel.Dead, 0, ""),
	}
}

// A server woken by the request, replying to it.
func serverEvents() []kernel.Event {
	return []kernel.Event{
		switchTo(5, 100, "server", kernel.Sleeping, 0, ""),
		softIRQ(30, kernel.SoftIRQEntry, kernel.NetRxSoftIRQ),
		packet(33, kernel.InetSockLocalIn, request),
		wakeup(35, 100),
		softIRQ(36, kernel.SoftIRQExit, kernel.NetRxSoftIRQ),
		switchTo(40, 0, "", kernel.Runnable, 100, "server"),
		packet(45, kernel.InetSockLocalOut, reply),
		switchTo(55, 100, "server", kernel.Sleeping, 0, ""),
	}
}

func TestBuildSingleHost(t *testing.T) {
	for _, test := range []struct {
		description string
		events      []kernel.Event
		wantGraph   string
	}{{
		description: "scheduling only",
		events:      schedOnly(),
		wantGraph: `
one
  @1
  1-5 PREEMPTED
  5-10 RUNNING
  10-15 PREEMPTED
two
  @1
  1-5 RUNNING
  5-10 BLOCKED
  10-15 RUNNING`,
	}, {
		description: "fork and wake-up in task context",
		events: []kernel.Event{
			switchTo(0, 0, "", kernel.Runnable, 10, "parent"),
			{Timestamp: 2, Kind: kernel.SchedProcessFork, ParentTID: 10, TID: 11, Comm: "child"},
			{Timestamp: 3, Kind: kernel.SchedWakeupNew, TID: 11, Comm: "child"},
			switchTo(5, 10, "parent", kernel.Sleeping, 11, "child"),
			wakeup(8, 10),
			switchTo(9, 11, "child", kernel.Dead, 10, "parent"),
			switchTo(12, 10, "parent", kernel.Dead, 0, ""),
		},
		wantGraph: `
parent
  @0
  0-3 RUNNING
  3-5 RUNNING
  5-8 BLOCKED
  8-9 PREEMPTED
  9-12 RUNNING
child
  @3
  3-5 PREEMPTED
  5-8 RUNNING
  8-9 RUNNING
links
  child@8 -> parent@8 UNKNOWN
  parent@3 -> child@3 UNKNOWN`,
	}, {
		description: "interrupts and timer wake-up",
		events: []kernel.Event{
			switchTo(0, 0, "", kernel.Runnable, 10, "worker"),
			{Timestamp: 4, Kind: kernel.IRQHandlerEntry, IRQ: 30, Handler: "eth0"},
			{Timestamp: 6, Kind: kernel.IRQHandlerExit, IRQ: 30},
			switchTo(10, 10, "worker", kernel.Sleeping, 0, ""),
			softIRQ(12, kernel.SoftIRQEntry, kernel.TimerSoftIRQ),
			wakeup(13, 10),
			softIRQ(14, kernel.SoftIRQExit, kernel.TimerSoftIRQ),
			switchTo(15, 0, "", kernel.Runnable, 10, "worker"),
		},
		wantGraph: `
worker
  @0
  0-4 RUNNING
  4-6 INTERRUPTED
  6-10 RUNNING
  10-13 BLOCKED [timer]
  13-15 PREEMPTED`,
	}, {
		description: "wake-up by a device interrupt",
		events: []kernel.Event{
			switchTo(0, 10, "reader", kernel.Sleeping, 0, ""),
			{Timestamp: 4, Kind: kernel.IRQHandlerEntry, IRQ: 14, Handler: "ata_piix"},
			wakeup(5, 10),
			{Timestamp: 6, Kind: kernel.IRQHandlerExit, IRQ: 14},
		},
		wantGraph: `
reader
  @0
  0-5 INTERRUPTED [ata_piix]`,
	}} {
		t.Run(test.description, func(t *testing.T) {
			b := New()
			res, err := b.Build(context.Background(), "h", slices.Values(test.events))
			require.NoError(t, err)
			assert.Equal(t, len(test.events), res.Events)
			assert.False(t, res.Incomplete)
			b.Finish(context.Background())
			g := b.Graph()
			if err := graph.Check(g, true); err != nil {
				t.Errorf("built graph is malformed: %v", err)
			}
			got := tg.PrettyPrint(g)
			if diff := cmp.Diff(test.wantGraph, got); diff != "" {
				t.Errorf("Built graph %s\ndiff (-want +got) %s", got, diff)
			}
		})
	}
}

func TestSchedOnlyVertexCounts(t *testing.T) {
	b := New()
	_, err := b.Build(context.Background(), "h", slices.Values(schedOnly()))
	require.NoError(t, err)
	g := b.Graph()
	for _, tid := range []int{1, 2} {
		w, ok := g.Lookup(graph.WorkerKey{Host: "h", TID: tid})
		require.True(t, ok, "worker %d not built", tid)
		assert.Len(t, g.NodesOf(w), 4)
	}
	assert.Len(t, g.Workers(), 2, "the idle thread should not be a worker")
}

const clientCriticalPath = `
client/client
  @10
  10-13 RUNNING
  13-15 RUNNING
  @70
  70-75 PREEMPTED
  75-90 RUNNING
server/server
  @35
  35-40 PREEMPTED
  40-45 RUNNING
links
  client/client@15 -> server/server@35 NETWORK
  server/server@45 -> client/client@70 NETWORK`

func clientPath(t *testing.T, g *graph.Graph) string {
	t.Helper()
	w, ok := g.Lookup(graph.WorkerKey{Host: "client", TID: 200})
	require.True(t, ok, "client thread not built")
	res, err := criticalpath.Compute(context.Background(), g, w)
	require.NoError(t, err)
	return tg.NewPrettyPrinter().WithHostsIncluded().PrettyPrint(res.Graph)
}

func TestBuildNetworkBothSides(t *testing.T) {
	b := New(WithConcurrency(2))
	res, err := b.BuildAll(context.Background(), map[string]kernel.Source{
		"client": slices.Values(clientEvents()),
		"server": slices.Values(serverEvents()),
	})
	require.NoError(t, err)
	assert.Equal(t, 17, res.Events)
	assert.Equal(t, 2, res.FlowsLinked)
	assert.Zero(t, res.FlowsRejected)
	total := b.Finish(context.Background())
	assert.Zero(t, total.FlowsUnmatched)
	assert.Equal(t, []string{"client", "server"}, b.Hosts())

	g := b.Graph()
	require.NoError(t, graph.Check(g, true))
	if diff := cmp.Diff(clientCriticalPath, clientPath(t, g)); diff != "" {
		t.Errorf("diff (-want +got) %s", diff)
	}
}

func TestBuildNetworkIncrementally(t *testing.T) {
	b := New()
	res, err := b.Build(context.Background(), "client", slices.Values(clientEvents()))
	require.NoError(t, err)
	assert.Zero(t, res.FlowsLinked)
	res, err = b.Build(context.Background(), "server", slices.Values(serverEvents()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.FlowsLinked)
	b.Finish(context.Background())
	if diff := cmp.Diff(clientCriticalPath, clientPath(t, b.Graph())); diff != "" {
		t.Errorf("diff (-want +got) %s", diff)
	}
}

func TestBuildNetworkClientOnly(t *testing.T) {
	b := New()
	_, err := b.Build(context.Background(), "client", slices.Values(clientEvents()))
	require.NoError(t, err)
	total := b.Finish(context.Background())
	assert.Equal(t, 2, total.FlowsUnmatched)
	assert.Zero(t, total.FlowsLinked)

	g := b.Graph()
	w, ok := g.Lookup(graph.WorkerKey{Host: "client", TID: 200})
	require.True(t, ok)
	res, err := criticalpath.Compute(context.Background(), g, w)
	require.NoError(t, err)
	want := `
client
  @10
  10-13 RUNNING
  13-15 RUNNING
  15-70 NETWORK
  70-75 PREEMPTED
  75-90 RUNNING`
	if diff := cmp.Diff(want, tg.PrettyPrint(res.Graph)); diff != "" {
		t.Errorf("diff (-want +got) %s", diff)
	}
}

func TestBuildSeveralReceivesInOneContext(t *testing.T) {
	second := kernel.FlowKey{Source: "10.0.0.1:40000", Destination: "10.0.0.2:80", Seq: 2}
	third := kernel.FlowKey{Source: "10.0.0.1:40001", Destination: "10.0.0.2:80", Seq: 1}
	b := New()
	_, err := b.BuildAll(context.Background(), map[string]kernel.Source{
		"client": slices.Values([]kernel.Event{
			switchTo(10, 0, "", kernel.Runnable, 200, "client"),
			packet(12, kernel.InetSockLocalOut, request),
			packet(13, kernel.InetSockLocalOut, second),
			packet(14, kernel.InetSockLocalOut, third),
			switchTo(15, 200, "client", kernel.Sleeping, 0, ""),
		}),
		"server": slices.Values([]kernel.Event{
			switchTo(5, 100, "server", kernel.Sleeping, 0, ""),
			switchTo(6, 101, "other", kernel.Sleeping, 0, ""),
			softIRQ(30, kernel.SoftIRQEntry, kernel.NetRxSoftIRQ),
			packet(31, kernel.InetSockLocalIn, request),
			packet(32, kernel.InetSockLocalIn, second),
			packet(33, kernel.InetSockLocalIn, third),
			wakeup(34, 100),
			wakeup(35, 101),
			softIRQ(36, kernel.SoftIRQExit, kernel.NetRxSoftIRQ),
		}),
	})
	require.NoError(t, err)
	total := b.Finish(context.Background())
	assert.Equal(t, 3, total.FlowsLinked)
	assert.Zero(t, total.FlowsRejected)
	assert.Zero(t, total.FlowsUnmatched)
	assert.Empty(t, total.Warnings)

	g := b.Graph()
	require.NoError(t, graph.Check(g, true))
	for _, test := range []struct {
		tid          int
		ts           int64
		wantSenderTS int64
	}{
		{100, 34, 12},
		{101, 35, 13},
	} {
		w, ok := g.Lookup(graph.WorkerKey{Host: "server", TID: test.tid})
		require.True(t, ok)
		v := g.VertexAt(w, test.ts)
		require.NotEqual(t, graph.NoVertex, v)
		in, ok := g.Edge(v, graph.IncomingVertical)
		require.True(t, ok, "thread %d should be woken by a packet", test.tid)
		assert.Equal(t, test.wantSenderTS, g.Timestamp(in.From))
		assert.Equal(t, graph.Network, in.Type)
	}
}

func TestBuildRecoversFromBadInput(t *testing.T) {
	b := New()
	res, err := b.Build(context.Background(), "h", slices.Values([]kernel.Event{
		switchTo(5, 0, "", kernel.Runnable, 10, "worker"),
		{Timestamp: 6, Name: "block_rq_issue"},
		{Timestamp: 7, Name: "block_rq_issue"},
		{Timestamp: 8, Name: "kmem_kmalloc"},
		switchTo(3, 10, "worker", kernel.Sleeping, 0, ""),
		switchTo(9, 10, "worker", kernel.Sleeping, 0, ""),
	}))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Events)
	assert.Equal(t, map[string]int{"block_rq_issue": 2, "kmem_kmalloc": 1}, res.Skipped)
	require.Len(t, res.Warnings, 1)
	var ooErr *OutOfOrderEventError
	require.True(t, errors.As(res.Warnings[0], &ooErr))
	assert.Equal(t, &OutOfOrderEventError{Host: "h", Timestamp: 3, Previous: 8}, ooErr)
}

func TestBuildCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := b.Build(ctx, "h", slices.Values(schedOnly()))
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Zero(t, res.Events)
	assert.True(t, b.Finish(context.Background()).Incomplete)
}

func TestBuildAfterFinish(t *testing.T) {
	b := New()
	b.Finish(context.Background())
	assert.True(t, b.Graph().Frozen())
	_, err := b.Build(context.Background(), "h", slices.Values(schedOnly()))
	assert.ErrorIs(t, err, ErrFinished)
	_, err = b.BuildAll(context.Background(), map[string]kernel.Source{"h": slices.Values(schedOnly())})
	assert.ErrorIs(t, err, ErrFinished)
}
