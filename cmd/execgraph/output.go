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

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/ilhamster/execgraph/aggregate"
	"github.com/ilhamster/execgraph/analysis"
	criticalpath "github.com/ilhamster/execgraph/critical_path"
	"github.com/ilhamster/execgraph/graph"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func qualified(typ graph.EdgeType, qualifier string) string {
	if qualifier == "" {
		return typ.String()
	}
	return fmt.Sprintf("%s [%s]", typ, qualifier)
}

func printSummary(w io.Writer, c *analysis.Completion) error {
	var hosts []string
	for _, he := range aggregate.Entries(c.Graph) {
		hosts = append(hosts, he.Host)
	}
	source := "built"
	if c.Loaded {
		source = "store"
	}
	res := c.Result
	tw := newTable(w)
	fmt.Fprintf(tw, "run\t%s\n", c.RunID)
	fmt.Fprintf(tw, "source\t%s\n", source)
	fmt.Fprintf(tw, "hosts\t%s\n", strings.Join(hosts, ", "))
	fmt.Fprintf(tw, "range\t%d-%d\n", c.Graph.Start(), c.Graph.End())
	fmt.Fprintf(tw, "workers\t%d\n", len(c.Graph.Workers()))
	fmt.Fprintf(tw, "vertices\t%d\n", c.Graph.VertexCount())
	fmt.Fprintf(tw, "edges\t%d\n", c.Graph.EdgeCount())
	fmt.Fprintf(tw, "events\t%d\n", res.Events)
	fmt.Fprintf(tw, "skipped\t%d\n", res.SkippedCount())
	fmt.Fprintf(tw, "flows\t%d linked, %d unmatched, %d rejected\n", res.FlowsLinked, res.FlowsUnmatched, res.FlowsRejected)
	if c.Incomplete {
		fmt.Fprintf(tw, "incomplete\ttrue\n")
	}
	return tw.Flush()
}

func printCriticalPath(w io.Writer, res *criticalpath.Result) error {
	g := res.Graph
	fmt.Fprintf(w, "Critical path of %s (%s)", res.Worker, res.Worker.DisplayName())
	if res.Incomplete {
		fmt.Fprint(w, ", incomplete")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "\nTIMELINE")
	tw := newTable(w)
	fmt.Fprintln(tw, "worker\tstart\tend\tduration\tstate")
	for i := range aggregate.Timeline(g) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", i.Worker, i.Start, i.End, i.Duration(), qualified(i.Type, i.Qualifier))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if arrows := aggregate.Arrows(g, g.Start(), g.End()); len(arrows) > 0 {
		fmt.Fprintln(w, "\nDEPENDENCIES")
		tw = newTable(w)
		fmt.Fprintln(tw, "from\tto\tstart\tend\ttype")
		for _, a := range arrows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", a.From, a.To, a.Start, a.End, qualified(a.Type, a.Qualifier))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w)
	return printStatistics(w, aggregate.ComputeStatistics(g))
}

func printEntries(w io.Writer, entries []*aggregate.HostEntry) error {
	fmt.Fprintln(w, "WORKERS")
	tw := newTable(w)
	fmt.Fprintln(tw, "host\tworker\tname\tstart\tend")
	for _, he := range entries {
		for _, we := range he.Workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", he.Host, we.Worker, we.Worker.DisplayName(), we.Start, we.End)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return nil
}

func printStatistics(w io.Writer, stats *aggregate.Statistics) error {
	fmt.Fprintln(w, "STATISTICS")
	tw := newTable(w)
	types := graph.EdgeTypes()
	header := []string{"worker", "total", "share"}
	for _, typ := range types {
		header = append(header, typ.String())
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	row := func(name string, byType map[graph.EdgeType]int64, total int64, share float64) {
		cols := []string{name, fmt.Sprint(total), fmt.Sprintf("%.1f%%", 100*share)}
		for _, typ := range types {
			cols = append(cols, fmt.Sprint(byType[typ]))
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	for _, ws := range stats.Workers {
		row(ws.Worker.String(), ws.ByType, ws.Total, ws.Share)
	}
	if len(stats.Workers) > 0 {
		row("all", stats.ByType, stats.Total, 1)
	}
	return tw.Flush()
}
