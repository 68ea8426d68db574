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

package criticalpath

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ilhamster/execgraph/graph"
)

// ErrNoTarget is returned when a Finder's selector matches no worker.
var ErrNoTarget = errors.New("no worker matches the selector")

// Finder finds the target worker of a critical path request in a graph.
// Selectors take the forms:
//   - 'tid': the thread with that TID, on whichever host;
//   - 'host/tid': the thread with that TID on host;
//   - 'host/name': the thread with that name on host;
//   - 'host/kernel/cpu': the kernel worker of that CPU on host.
type Finder struct {
	selector string
	host     string
	tid      int
	hasTID   bool
	name     string
	opts     []Option
}

// NewFinder returns a new Finder for the specified selector.  The provided
// options are used when computing paths with Find.
func NewFinder(selector string, opts ...Option) (*Finder, error) {
	ret := &Finder{
		selector: selector,
		opts:     opts,
	}
	parts := strings.Split(selector, "/")
	switch {
	case len(parts) == 1:
		tid, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("worker selector '%s' is neither 'tid' nor 'host/tid'", selector)
		}
		ret.tid, ret.hasTID = tid, true
	case len(parts) == 2 && parts[0] != "" && parts[1] != "":
		ret.host = parts[0]
		if tid, err := strconv.Atoi(parts[1]); err == nil {
			ret.tid, ret.hasTID = tid, true
		} else {
			ret.name = parts[1]
		}
	case len(parts) == 3 && parts[0] != "" && parts[1] == "kernel":
		cpu, err := strconv.Atoi(parts[2])
		if err != nil || cpu < 0 {
			return nil, fmt.Errorf("invalid CPU in worker selector '%s'", selector)
		}
		ret.host, ret.tid, ret.hasTID = parts[0], graph.KernelTID(cpu), true
	default:
		return nil, fmt.Errorf("malformed worker selector '%s'", selector)
	}
	return ret, nil
}

func (f *Finder) matches(w graph.Worker) bool {
	if f.host != "" && w.Host != f.host {
		return false
	}
	if f.hasTID {
		return w.TID == f.tid
	}
	return w.Kind == graph.ThreadWorker && w.Name == f.name
}

// Worker returns the single worker of g matched by the receiver.
func (f *Finder) Worker(g *graph.Graph) (graph.Worker, error) {
	var matches []graph.Worker
	for _, w := range g.Workers() {
		if f.matches(w) {
			matches = append(matches, w)
		}
	}
	switch len(matches) {
	case 0:
		return graph.Worker{}, fmt.Errorf("%w: '%s'", ErrNoTarget, f.selector)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for idx, w := range matches {
			names[idx] = w.String()
		}
		return graph.Worker{}, fmt.Errorf("worker selector '%s' is ambiguous: matches %s", f.selector, strings.Join(names, ", "))
	}
}

func (f *Finder) String() string {
	return f.selector
}

// Find returns the critical path of the worker selected by f in g.  If the
// provided cache is non-nil, it is used to fetch the critical path.
func Find(ctx context.Context, f *Finder, g *graph.Graph, cache *Cache) (*Result, error) {
	w, err := f.Worker(g)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		return cache.Get(ctx, g, w, f.opts...)
	}
	return Compute(ctx, g, w, f.opts...)
}
