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

package aggregate

import (
	"fmt"
	"iter"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/execgraph/graph"
	"github.com/ilhamster/execgraph/kernel"
	tg "github.com/ilhamster/execgraph/test_graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagged struct {
	key    int64
	stream string
}

func TestMerge(t *testing.T) {
	stream := func(name string, keys ...int64) iter.Seq[tagged] {
		ret := make([]tagged, len(keys))
		for idx, k := range keys {
			ret[idx] = tagged{k, name}
		}
		return slices.Values(ret)
	}
	key := func(t tagged) int64 { return t.key }
	for _, test := range []struct {
		description string
		streams     []iter.Seq[tagged]
		limit       int
		want        []tagged
	}{{
		description: "no streams",
	}, {
		description: "ties broken by stream order",
		streams: []iter.Seq[tagged]{
			stream("a", 1, 4, 4, 9),
			stream("b", 2, 4, 10),
			stream("c"),
		},
		want: []tagged{{1, "a"}, {2, "b"}, {4, "a"}, {4, "a"}, {4, "b"}, {9, "a"}, {10, "b"}},
	}, {
		description: "stopped early",
		streams: []iter.Seq[tagged]{
			stream("a", 5, 6),
			stream("b", 1, 7),
		},
		limit: 2,
		want:  []tagged{{1, "b"}, {5, "a"}},
	}} {
		t.Run(test.description, func(t *testing.T) {
			var got []tagged
			for el := range Merge(key, test.streams...) {
				got = append(got, el)
				if test.limit > 0 && len(got) == test.limit {
					break
				}
			}
			if diff := cmp.Diff(test.want, got, cmp.AllowUnexported(tagged{})); diff != "" {
				t.Errorf("Merge() = %v, diff (-want +got) %s", got, diff)
			}
		})
	}
}

func TestMergeEvents(t *testing.T) {
	cpu0 := []kernel.Event{{Timestamp: 1, CPU: 0}, {Timestamp: 5, CPU: 0}}
	cpu1 := []kernel.Event{{Timestamp: 2, CPU: 1}, {Timestamp: 5, CPU: 1}, {Timestamp: 6, CPU: 1}}
	var got []string
	for ev := range MergeEvents(slices.Values(cpu0), slices.Values(cpu1)) {
		got = append(got, fmt.Sprintf("%d@%d", ev.CPU, ev.Timestamp))
	}
	want := []string{"0@1", "1@2", "0@5", "1@5", "1@6"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diff (-want +got) %s", diff)
	}
}

func intervalString(i Interval) string {
	ret := fmt.Sprintf("%s %d-%d %s", i.Worker.Name, i.Start, i.End, i.Type)
	if i.Qualifier != "" {
		ret += " [" + i.Qualifier + "]"
	}
	return ret
}

func TestStatesAndTimeline(t *testing.T) {
	g := tg.NewTestingGraphBuilder(t).
		Add(tg.A0, 0).
		Append(tg.A0, 2, graph.Running).
		AppendQualified(tg.A0, 4, graph.Running, tg.Qualifier).
		Append(tg.A0, 6, graph.Blocked).
		Add(tg.A1, 3).
		Append(tg.A1, 6, graph.Running).
		Build()

	var states []string
	for _, i := range States(g, tg.A0) {
		states = append(states, intervalString(i))
	}
	wantStates := []string{"A0 0-2 RUNNING", "A0 2-4 RUNNING [testLinkQualifier]", "A0 4-6 BLOCKED"}
	if diff := cmp.Diff(wantStates, states); diff != "" {
		t.Errorf("States() diff (-want +got) %s", diff)
	}

	var timeline []string
	for i := range Timeline(g) {
		timeline = append(timeline, intervalString(i))
	}
	wantTimeline := []string{"A0 0-2 RUNNING", "A0 2-4 RUNNING [testLinkQualifier]", "A1 3-6 RUNNING", "A0 4-6 BLOCKED"}
	if diff := cmp.Diff(wantTimeline, timeline); diff != "" {
		t.Errorf("Timeline() diff (-want +got) %s", diff)
	}

	var onlyA1 []string
	for i := range Timeline(g, tg.A1) {
		onlyA1 = append(onlyA1, intervalString(i))
	}
	if diff := cmp.Diff([]string{"A1 3-6 RUNNING"}, onlyA1); diff != "" {
		t.Errorf("Timeline(A1) diff (-want +got) %s", diff)
	}
}

func TestArrows(t *testing.T) {
	g, err := tg.WakeupNew()
	require.NoError(t, err)
	for _, test := range []struct {
		description string
		start, end  int64
		want        []string
	}{{
		description: "whole graph",
		start:       0,
		end:         10,
		want:        []string{"A0@2->A1@3 UNKNOWN", "A1@6->A0@6 UNKNOWN"},
	}, {
		description: "late range",
		start:       5,
		end:         10,
		want:        []string{"A1@6->A0@6 UNKNOWN"},
	}, {
		description: "empty range",
		start:       4,
		end:         5,
	}} {
		t.Run(test.description, func(t *testing.T) {
			var got []string
			for _, a := range Arrows(g, test.start, test.end) {
				got = append(got, fmt.Sprintf("%s@%d->%s@%d %s", a.From.Name, a.Start, a.To.Name, a.End, a.Type))
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Arrows() diff (-want +got) %s", diff)
			}
		})
	}
}

func TestComputeStatistics(t *testing.T) {
	g, err := tg.WakeupNew()
	require.NoError(t, err)
	stats := ComputeStatistics(g)
	assert.Equal(t, int64(11), stats.Total)
	assert.Equal(t, map[graph.EdgeType]int64{graph.Running: 9, graph.Blocked: 2}, stats.ByType)
	require.Len(t, stats.Workers, 2)
	a0, a1 := stats.Workers[0], stats.Workers[1]
	assert.Equal(t, tg.A0, a0.Worker)
	assert.Equal(t, int64(8), a0.Total)
	assert.Equal(t, map[graph.EdgeType]int64{graph.Running: 6, graph.Blocked: 2}, a0.ByType)
	assert.InDelta(t, 8.0/11.0, a0.Share, 1e-9)
	assert.Equal(t, tg.A1, a1.Worker)
	assert.InDelta(t, 3.0/11.0, a1.Share, 1e-9)

	empty := ComputeStatistics(graph.New())
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.Workers)
}

func TestEntries(t *testing.T) {
	g := tg.NewTestingGraphBuilder(t).
		Add(graph.NewThreadWorker("b", 7, "late"), 5).
		Append(graph.NewThreadWorker("b", 7, "late"), 9, graph.Running).
		Add(tg.A1, 3).
		Append(tg.A1, 6, graph.Running).
		Add(tg.A0, 0).
		Append(tg.A0, 8, graph.Running).
		Build()
	var got []string
	for _, he := range Entries(g) {
		for _, we := range he.Workers {
			got = append(got, fmt.Sprintf("%s: %s %d-%d", he.Host, we.Worker.Name, we.Start, we.End))
		}
	}
	want := []string{"b: late 5-9", "test: A0 0-8", "test: A1 3-6"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Entries() diff (-want +got) %s", diff)
	}
}
