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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ilhamster/execgraph/graph"
	tg "github.com/ilhamster/execgraph/test_graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinder(t *testing.T) {
	g, err := tg.WakeupUnknown()
	if err != nil {
		t.Fatalf("unexpected error building graph: %v", err)
	}
	for _, test := range []struct {
		selector      string
		want          graph.Worker
		wantParseErr  bool
		wantNoTarget  bool
		wantFindError bool
	}{{
		selector: "100",
		want:     tg.A0,
	}, {
		selector: "test/101",
		want:     tg.A1,
	}, {
		selector: "test/A1",
		want:     tg.A1,
	}, {
		selector:     "other/100",
		wantNoTarget: true,
	}, {
		selector:     "test/A7",
		wantNoTarget: true,
	}, {
		selector:     "test/kernel/0",
		wantNoTarget: true,
	}, {
		selector:     "test/kernel/x",
		wantParseErr: true,
	}, {
		selector:     "A0",
		wantParseErr: true,
	}, {
		selector:     "a/b/c",
		wantParseErr: true,
	}, {
		selector:     "/100",
		wantParseErr: true,
	}} {
		t.Run(test.selector, func(t *testing.T) {
			f, err := NewFinder(test.selector)
			if (err != nil) != test.wantParseErr {
				t.Fatalf("NewFinder() yielded error %v, wanted error: %t", err, test.wantParseErr)
			}
			if err != nil {
				return
			}
			got, err := f.Worker(g)
			if gotNoTarget := errors.Is(err, ErrNoTarget); gotNoTarget != test.wantNoTarget {
				t.Fatalf("Worker() yielded error %v, wanted ErrNoTarget: %t", err, test.wantNoTarget)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("Worker() = %v, diff (-want +got) %s", got, diff)
			}
		})
	}
}

func TestFinderAmbiguity(t *testing.T) {
	g := graph.New()
	for _, host := range []string{"h1", "h2"} {
		_, err := g.AddAt(graph.NewThreadWorker(host, 5, "worker"), 0)
		require.NoError(t, err)
	}
	f, err := NewFinder("5")
	require.NoError(t, err)
	_, err = f.Worker(g)
	assert.ErrorContains(t, err, "ambiguous")
	f, err = NewFinder("h2/5")
	require.NoError(t, err)
	w, err := f.Worker(g)
	require.NoError(t, err)
	assert.Equal(t, "h2", w.Host)
}

func TestFindWithCache(t *testing.T) {
	g, err := tg.Nested()
	require.NoError(t, err)
	f, err := NewFinder("test/A0")
	require.NoError(t, err)
	cache := NewCache()
	first, err := Find(context.Background(), f, g, cache)
	require.NoError(t, err)
	second, err := Find(context.Background(), f, g, cache)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, cache.Len())

	uncached, err := Find(context.Background(), f, g, nil)
	require.NoError(t, err)
	assert.NotSame(t, first, uncached)
	assert.Equal(t, tg.PrettyPrint(first.Graph), tg.PrettyPrint(uncached.Graph))
}

func TestCache(t *testing.T) {
	g, err := tg.WakeupEmbedded()
	require.NoError(t, err)
	cache := NewCache()

	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for idx := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := cache.Get(context.Background(), g, tg.A0)
			if err != nil {
				t.Errorf("Get() yielded unexpected error %v", err)
				return
			}
			results[idx] = res
		}()
	}
	wg.Wait()
	for _, res := range results[1:] {
		assert.Same(t, results[0], res)
	}
	assert.Equal(t, 1, cache.Len())

	// Ranged paths are cached separately.
	ranged, err := cache.Get(context.Background(), g, tg.A0, WithRange(0, 6))
	require.NoError(t, err)
	assert.NotSame(t, results[0], ranged)
	assert.Equal(t, 2, cache.Len())

	// Incomplete paths are not cached.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := cache.Get(ctx, g, tg.A1)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Equal(t, 2, cache.Len())

	cache.Forget(g)
	assert.Equal(t, 0, cache.Len())
}

func TestCacheSharedCancellation(t *testing.T) {
	g, err := tg.WakeupNew()
	require.NoError(t, err)
	cache := NewCache()
	started, release := make(chan struct{}), make(chan struct{})
	var calls atomic.Int32
	cache.compute = func(ctx context.Context, g *graph.Graph, w graph.Worker, options ...Option) (*Result, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return Compute(ctx, g, w, options...)
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first, second := make(chan *Result, 1), make(chan *Result, 1)
	get := func(ctx context.Context, out chan<- *Result) {
		res, err := cache.Get(ctx, g, tg.A0)
		if err != nil {
			t.Errorf("Get() yielded unexpected error %v", err)
		}
		out <- res
	}
	go get(firstCtx, first)
	<-started
	go get(context.Background(), second)
	// Give the second request time to join the first's computation.
	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	close(release)

	if res := <-first; res == nil || !res.Incomplete {
		t.Errorf("the cancelled request should yield an incomplete path")
	}
	res := <-second
	require.NotNil(t, res)
	assert.False(t, res.Incomplete, "a live request should not inherit another's cancellation")
	assert.Equal(t, 1, cache.Len())
}
