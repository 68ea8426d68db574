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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/execgraph/graph"
)

func TestPrettyPrint(t *testing.T) {
	for _, test := range []struct {
		description string
		buildGraph  func() (*graph.Graph, error)
		withHosts   bool
		want        string
	}{{
		description: "basic",
		buildGraph:  Basic,
		want: `
A0
  @0
  0-1 RUNNING`,
	}, {
		description: "wakeup unknown",
		buildGraph:  WakeupUnknown,
		want: `
A0
  @0
  0-2 RUNNING
  2-4 BLOCKED
  4-6 RUNNING
A1
  @3
links
  A1@3 -> A0@4 NETWORK`,
	}, {
		description: "wakeup new, with hosts",
		buildGraph:  WakeupNew,
		withHosts:   true,
		want: `
test/A0
  @0
  0-2 RUNNING
  2-4 RUNNING [testLinkQualifier]
  4-6 BLOCKED
  6-8 RUNNING [testLinkQualifier]
test/A1
  @3
  3-6 RUNNING [testLinkQualifier]
links
  test/A0@2 -> test/A1@3 UNKNOWN
  test/A1@6 -> test/A0@6 UNKNOWN`,
	}} {
		t.Run(test.description, func(t *testing.T) {
			g, err := test.buildGraph()
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			pp := NewPrettyPrinter()
			if test.withHosts {
				pp = pp.WithHostsIncluded()
			}
			got := pp.PrettyPrint(g)
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("PrettyPrint() = %s\ndiff (-want +got) %s", got, diff)
			}
		})
	}
}

func TestFixturesAreWellFormed(t *testing.T) {
	for _, test := range []struct {
		description string
		buildGraph  func() (*graph.Graph, error)
		wantCycle   bool
	}{
		{"basic", Basic, false},
		{"wakeup missing", WakeupMissing, false},
		{"wakeup unknown", WakeupUnknown, false},
		{"wakeup new", WakeupNew, false},
		{"opened", Opened, false},
		{"opened delay", OpenedDelay, false},
		{"wakeup mutual", WakeupMutual, false},
		{"wakeup embedded", WakeupEmbedded, false},
		{"nested", Nested, false},
		{"segmented", Segmented, false},
		{"cyclic", Cyclic, true},
	} {
		t.Run(test.description, func(t *testing.T) {
			g, err := test.buildGraph()
			if err != nil {
				t.Fatalf("unexpected error building fixture: %v", err)
			}
			err = graph.Check(g, false)
			var cgErr *graph.CyclicGraphError
			if gotCycle := errors.As(err, &cgErr); gotCycle != test.wantCycle {
				t.Errorf("Check() yielded %v, wanted cycle: %t", err, test.wantCycle)
			}
			if !test.wantCycle && err != nil {
				t.Errorf("Check() yielded unexpected error %v", err)
			}
		})
	}
}

func TestBuilderReportsErrors(t *testing.T) {
	var errs []error
	NewGraphBuilderWithErrorHandler(func(err error) {
		errs = append(errs, err)
	}).
		Append(A0, 1, graph.Running).
		Add(A0, 5).
		Add(A0, 3).
		Link(A0, 5, A1, 6, graph.Unknown)
	if len(errs) != 3 {
		t.Errorf("got %d errors (%v), wanted 3", len(errs), errs)
	}
}
