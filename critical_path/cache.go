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
	"fmt"
	"sync"

	"github.com/ilhamster/execgraph/graph"
	"golang.org/x/sync/singleflight"
)

type cacheKey struct {
	g          *graph.Graph
	worker     graph.WorkerKey
	hasRange   bool
	start, end int64
}

func computeCacheKey(g *graph.Graph, w graph.Worker, opts *options) cacheKey {
	return cacheKey{
		g:        g,
		worker:   w.Key(),
		hasRange: opts.hasRange,
		start:    opts.start,
		end:      opts.end,
	}
}

func (ck cacheKey) String() string {
	return fmt.Sprintf("%p:%s/%d:%t:%d-%d", ck.g, ck.worker.Host, ck.worker.TID, ck.hasRange, ck.start, ck.end)
}

// Cache caches computed critical paths to amortize the cost of computing
// expensive ones.  Concurrent requests for the same path share a single
// computation.  Incomplete (cancelled) paths are never cached.
type Cache struct {
	mu    sync.Mutex
	paths map[cacheKey]*Result
	group singleflight.Group
	// compute is Compute, but may be replaced in tests.
	compute func(ctx context.Context, g *graph.Graph, w graph.Worker, options ...Option) (*Result, error)
}

// NewCache returns a new, empty Cache.
func NewCache() *Cache {
	return &Cache{
		paths:   map[cacheKey]*Result{},
		compute: Compute,
	}
}

// Get returns the critical path of w in g, computing and caching it if
// necessary.  Get is thread-safe.
func (c *Cache) Get(
	ctx context.Context,
	g *graph.Graph,
	w graph.Worker,
	options ...Option,
) (*Result, error) {
	key := computeCacheKey(g, w, buildOptions(options...))
	c.mu.Lock()
	res, ok := c.paths[key]
	c.mu.Unlock()
	recordCacheLookup(ctx, ok)
	if ok {
		return res, nil
	}
	for {
		// A shared computation runs under the context of the request that
		// started it.  If that request was cancelled, its result is
		// incomplete, and requests still live try again.
		v, err, _ := c.group.Do(key.String(), func() (any, error) {
			c.mu.Lock()
			res, ok := c.paths[key]
			c.mu.Unlock()
			if ok {
				return res, nil
			}
			res, err := c.compute(ctx, g, w, options...)
			if err != nil {
				return nil, err
			}
			if !res.Incomplete {
				c.mu.Lock()
				c.paths[key] = res
				c.mu.Unlock()
			}
			return res, nil
		})
		if err != nil {
			return nil, err
		}
		res := v.(*Result)
		if !res.Incomplete || ctx.Err() != nil {
			return res, nil
		}
	}
}

// Forget drops every cached path computed from g.
func (c *Cache) Forget(g *graph.Graph) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.paths {
		if key.g == g {
			delete(c.paths, key)
		}
	}
}

// Len returns the number of cached paths.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}
