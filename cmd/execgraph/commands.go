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
	"errors"
	"fmt"

	"github.com/ilhamster/execgraph/aggregate"
	"github.com/ilhamster/execgraph/analysis"
	criticalpath "github.com/ilhamster/execgraph/critical_path"
	"github.com/ilhamster/execgraph/graph"
	"github.com/spf13/cobra"
)

func newBuildCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Build the execution graph of the configured traces and summarize it",
		Long: `Build the execution graph of the configured traces and summarize it.

If a graph store is configured, a graph previously built from identical
traces is loaded instead, and a newly built graph is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAnalysis(cmd, func(s *session, m *analysis.Module, c *analysis.Completion) error {
				return printSummary(cmd.OutOrStdout(), c)
			})
		},
	}
}

type criticalPathOptions struct {
	worker     string
	start, end int64
}

func newCriticalPathCommand(opts *RootOptions) *cobra.Command {
	cpOpts := &criticalPathOptions{}
	cmd := &cobra.Command{
		Use:   "critical-path",
		Short: "Print the critical path of a worker",
		Long: `Print the critical path of a worker: its timeline, the dependencies
between the workers it spans, and per-worker statistics.

Workers are selected as 'host/tid', 'host/name', 'host/kernel/cpu', or 'tid'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAnalysis(cmd, func(s *session, m *analysis.Module, c *analysis.Completion) error {
				selector := cpOpts.worker
				if selector == "" {
					selector = s.cfg.Target.Selector()
				}
				if selector == "" {
					return errors.New("no target worker: set --worker or the configuration's target")
				}
				cpo := []criticalpath.Option{criticalpath.WithLogger(s.logger)}
				if cmd.Flags().Changed("start") || cmd.Flags().Changed("end") {
					start, end := c.Graph.Start(), c.Graph.End()
					if cmd.Flags().Changed("start") {
						start = cpOpts.start
					}
					if cmd.Flags().Changed("end") {
						end = cpOpts.end
					}
					cpo = append(cpo, criticalpath.WithRange(start, end))
				}
				res, err := m.CriticalPathOf(cmd.Context(), selector, cpo...)
				if err != nil {
					return err
				}
				return printCriticalPath(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringVarP(&cpOpts.worker, "worker", "w", "", "target worker selector; defaults to the configuration's target")
	cmd.Flags().Int64Var(&cpOpts.start, "start", 0, "start of the range of interest; defaults to the start of the graph")
	cmd.Flags().Int64Var(&cpOpts.end, "end", 0, "end of the range of interest; defaults to the end of the graph")
	return cmd
}

func newCheckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the execution graph's structural invariants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAnalysis(cmd, func(s *session, m *analysis.Module, c *analysis.Completion) error {
				if err := graph.CheckWithLogger(c.Graph, s.logger); err != nil {
					return fmt.Errorf("graph is malformed: %w", err)
				}
				if c.Incomplete {
					s.logger.Warn("graph is incomplete")
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "ok: %d workers, %d vertices, %d edges\n",
					len(c.Graph.Workers()), c.Graph.VertexCount(), c.Graph.EdgeCount())
				return err
			})
		},
	}
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print per-worker statistics of the execution graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.runAnalysis(cmd, func(s *session, m *analysis.Module, c *analysis.Completion) error {
				if err := printEntries(cmd.OutOrStdout(), aggregate.Entries(c.Graph)); err != nil {
					return err
				}
				return printStatistics(cmd.OutOrStdout(), aggregate.ComputeStatistics(c.Graph))
			})
		},
	}
}
