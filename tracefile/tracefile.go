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

// Package tracefile decodes YAML kernel trace stubs into per-host event
// streams.  A trace file holds one host's events:
//
//	host: client
//	events:
//	  - {ts: 10, cpu: 0, event: sched_switch, prev_tid: 0, next_tid: 200, next_comm: client}
//	  - {ts: 13, cpu: 0, event: inet_sock_local_out, flow: {src: "10.0.0.1:40000", dst: "10.0.0.2:80", seq: 1}}
//
// Each CPU's events should be chronological; CPUs are merged by timestamp.
// Events that go back in time are kept and reported as DisorderErrors, and
// graph construction stops at them.
package tracefile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/ilhamster/execgraph/aggregate"
	"github.com/ilhamster/execgraph/kernel"
	"gopkg.in/yaml.v3"
)

type flowRecord struct {
	Source      string `yaml:"src"`
	Destination string `yaml:"dst"`
	Seq         uint32 `yaml:"seq"`
	Ack         uint32 `yaml:"ack"`
	Flags       uint16 `yaml:"flags"`
}

type eventRecord struct {
	Timestamp int64  `yaml:"ts"`
	CPU       int    `yaml:"cpu"`
	Event     string `yaml:"event"`

	TID  int    `yaml:"tid"`
	Comm string `yaml:"comm"`

	PrevTID   int    `yaml:"prev_tid"`
	PrevComm  string `yaml:"prev_comm"`
	PrevState string `yaml:"prev_state"`
	NextTID   int    `yaml:"next_tid"`
	NextComm  string `yaml:"next_comm"`

	ParentTID int `yaml:"parent_tid"`

	IRQ     int    `yaml:"irq"`
	Handler string `yaml:"handler"`
	// Vec is a softirq vector, by name ("NET_RX") or number.
	Vec string `yaml:"vec"`

	Flow *flowRecord `yaml:"flow"`
}

type fileRecord struct {
	Host   string        `yaml:"host"`
	Events []eventRecord `yaml:"events"`
}

// DisorderError reports an event preceding its CPU's previous event.
type DisorderError struct {
	// Index is the event's position in the file.
	Index     int
	Event     string
	CPU       int
	Timestamp int64
	Previous  int64
}

func (e *DisorderError) Error() string {
	return fmt.Sprintf("event %d (%s) at %d precedes CPU %d's previous event at %d", e.Index, e.Event, e.Timestamp, e.CPU, e.Previous)
}

// Trace is one host's decoded trace.
type Trace struct {
	// Host is the host name recorded in the file, if any.
	Host string
	// CPUs holds each CPU's events in file order.
	CPUs map[int][]kernel.Event
	// Warnings holds a DisorderError for each event that goes back in time.
	Warnings []error
}

// Len returns the number of events in the trace.
func (t *Trace) Len() int {
	ret := 0
	for _, evs := range t.CPUs {
		ret += len(evs)
	}
	return ret
}

// Source returns the trace's events merged across CPUs in timestamp order.
// Events with equal timestamps are yielded in CPU order.
func (t *Trace) Source() kernel.Source {
	cpus := make([]int, 0, len(t.CPUs))
	for cpu := range t.CPUs {
		cpus = append(cpus, cpu)
	}
	slices.Sort(cpus)
	streams := make([]kernel.Source, len(cpus))
	for idx, cpu := range cpus {
		streams[idx] = slices.Values(t.CPUs[cpu])
	}
	return aggregate.MergeEvents(streams...)
}

func parseVec(s string) (kernel.SoftIRQ, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return kernel.SoftIRQ(n), nil
	}
	for vec := kernel.HiSoftIRQ; vec <= kernel.RCUSoftIRQ; vec++ {
		if vec.String() == s {
			return vec, nil
		}
	}
	return 0, fmt.Errorf("unknown softirq vector '%s'", s)
}

func (er *eventRecord) event() (kernel.Event, error) {
	vec, err := parseVec(er.Vec)
	if err != nil {
		return kernel.Event{}, err
	}
	ev := kernel.Event{
		Timestamp: er.Timestamp,
		Kind:      kernel.ParseKind(er.Event),
		Name:      er.Event,
		CPU:       er.CPU,
		TID:       er.TID,
		Comm:      er.Comm,
		PrevTID:   er.PrevTID,
		PrevComm:  er.PrevComm,
		PrevState: kernel.ParseThreadState(er.PrevState),
		NextTID:   er.NextTID,
		NextComm:  er.NextComm,
		ParentTID: er.ParentTID,
		IRQ:       er.IRQ,
		Handler:   er.Handler,
		Vec:       vec,
	}
	if er.Flow != nil {
		ev.Flow = kernel.FlowKey{
			Source:      er.Flow.Source,
			Destination: er.Flow.Destination,
			Seq:         er.Flow.Seq,
			Ack:         er.Flow.Ack,
			Flags:       er.Flow.Flags,
		}
	}
	return ev, nil
}

// Decode decodes a trace from r.
func Decode(r io.Reader) (*Trace, error) {
	var fr fileRecord
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fr); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode trace: %w", err)
	}
	ret := &Trace{
		Host: fr.Host,
		CPUs: map[int][]kernel.Event{},
	}
	for idx := range fr.Events {
		er := &fr.Events[idx]
		if er.Event == "" {
			return nil, fmt.Errorf("event %d has no name", idx)
		}
		ev, err := er.event()
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", idx, er.Event, err)
		}
		evs := ret.CPUs[ev.CPU]
		if n := len(evs); n > 0 && evs[n-1].Timestamp > ev.Timestamp {
			ret.Warnings = append(ret.Warnings, &DisorderError{
				Index:     idx,
				Event:     er.Event,
				CPU:       ev.CPU,
				Timestamp: ev.Timestamp,
				Previous:  evs[n-1].Timestamp,
			})
		}
		ret.CPUs[ev.CPU] = append(evs, ev)
	}
	return ret, nil
}

// Parse decodes a trace from data.
func Parse(data []byte) (*Trace, error) {
	return Decode(bytes.NewReader(data))
}

// Load reads and decodes the trace file at path.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	defer f.Close()
	ret, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ret, nil
}
