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
	"container/heap"
	"iter"

	"github.com/ilhamster/execgraph/kernel"
)

// cursor is the head of one merged stream.
type cursor[T any] struct {
	head   T
	key    int64
	stream int
	next   func() (T, bool)
}

// cursorHeap implements heap.Interface for stream cursors, soonest key first
// and then lowest stream index first.
type cursorHeap[T any] struct {
	cursors []*cursor[T]
}

func (ch *cursorHeap[T]) Len() int {
	return len(ch.cursors)
}

func (ch *cursorHeap[T]) Less(i, j int) bool {
	a, b := ch.cursors[i], ch.cursors[j]
	if a.key != b.key {
		return a.key < b.key
	}
	return a.stream < b.stream
}

func (ch *cursorHeap[T]) Swap(i, j int) {
	ch.cursors[i], ch.cursors[j] = ch.cursors[j], ch.cursors[i]
}

func (ch *cursorHeap[T]) Push(x any) {
	ch.cursors = append(ch.cursors, x.(*cursor[T]))
}

func (ch *cursorHeap[T]) Pop() (x any) {
	n := len(ch.cursors)
	x = ch.cursors[n-1]
	ch.cursors = ch.cursors[0 : n-1]
	return x
}

// Merge merges streams, each nondecreasing in key, into a single stream
// nondecreasing in key.  Elements with equal keys are yielded in stream
// order.
func Merge[T any](key func(T) int64, streams ...iter.Seq[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		ch := &cursorHeap[T]{}
		var stops []func()
		defer func() {
			for _, stop := range stops {
				stop()
			}
		}()
		for idx, stream := range streams {
			next, stop := iter.Pull(stream)
			stops = append(stops, stop)
			if head, ok := next(); ok {
				ch.cursors = append(ch.cursors, &cursor[T]{head: head, key: key(head), stream: idx, next: next})
			}
		}
		heap.Init(ch)
		for ch.Len() > 0 {
			// Per container/heap, element 0 is the top of the heap.
			top := ch.cursors[0]
			if !yield(top.head) {
				return
			}
			if head, ok := top.next(); ok {
				top.head, top.key = head, key(head)
				heap.Fix(ch, 0)
			} else {
				heap.Pop(ch)
			}
		}
	}
}

// MergeEvents merges the per-CPU event streams of one host into a single
// chronological stream.
func MergeEvents(streams ...kernel.Source) kernel.Source {
	return Merge(func(ev kernel.Event) int64 {
		return ev.Timestamp
	}, streams...)
}
