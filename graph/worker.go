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

package graph

import "fmt"

// WorkerKind distinguishes the kinds of schedulable entity a Worker can
// represent.
type WorkerKind int

const (
	// ThreadWorker is an operating-system thread on a traced host.
	ThreadWorker WorkerKind = iota
	// KernelWorker aggregates the kernel activity (interrupt handling, packet
	// processing) of one CPU of a traced host.
	KernelWorker
)

func (k WorkerKind) String() string {
	switch k {
	case ThreadWorker:
		return "thread"
	case KernelWorker:
		return "kernel"
	default:
		return fmt.Sprintf("WorkerKind(%d)", int(k))
	}
}

// WorkerKey is the identity of a Worker: two Workers with equal keys are the
// same worker.
type WorkerKey struct {
	Host string
	TID  int
}

// Worker identifies one schedulable entity.  Kernel workers have negative
// TIDs.  Workers are values and are never mutated once created.
type Worker struct {
	Kind WorkerKind
	Host string
	TID  int
	Name string
}

// NewThreadWorker returns a Worker for thread tid of host.
func NewThreadWorker(host string, tid int, name string) Worker {
	return Worker{
		Kind: ThreadWorker,
		Host: host,
		TID:  tid,
		Name: name,
	}
}

// NewKernelWorker returns the kernel Worker of the specified CPU of host.
func NewKernelWorker(host string, cpu int) Worker {
	return Worker{
		Kind: KernelWorker,
		Host: host,
		TID:  KernelTID(cpu),
		Name: fmt.Sprintf("kernel/%d", cpu),
	}
}

// KernelTID returns the negative thread ID used for the kernel worker of a
// CPU.
func KernelTID(cpu int) int {
	return -1 - cpu
}

// Key returns the worker's identity.
func (w Worker) Key() WorkerKey {
	return WorkerKey{Host: w.Host, TID: w.TID}
}

// DisplayName returns a short human-readable name for the worker.
func (w Worker) DisplayName() string {
	if w.Name == "" {
		return fmt.Sprintf("%d", w.TID)
	}
	if w.Kind == KernelWorker {
		return w.Name
	}
	return fmt.Sprintf("%s (%d)", w.Name, w.TID)
}

func (w Worker) String() string {
	if w.Kind == KernelWorker {
		return fmt.Sprintf("%s/kernel/%d", w.Host, -1-w.TID)
	}
	return fmt.Sprintf("%s/%d", w.Host, w.TID)
}
