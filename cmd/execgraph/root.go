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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ilhamster/execgraph/analysis"
	"github.com/ilhamster/execgraph/builder"
	"github.com/ilhamster/execgraph/config"
	"github.com/ilhamster/execgraph/graphstore"
	"github.com/ilhamster/execgraph/kernel"
	"github.com/ilhamster/execgraph/telemetry"
	"github.com/ilhamster/execgraph/tracefile"
	"github.com/spf13/cobra"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath  string
	LogLevel    string
	MetricsAddr string
	StorePath   string
}

// NewRootCommand returns the execgraph command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	cmd := &cobra.Command{
		Use:           "execgraph",
		Short:         "Kernel trace execution graphs and critical paths",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel != "" && !slices.Contains(logLevels, opts.LogLevel) {
				return fmt.Errorf("invalid log level '%s': must be one of %v", opts.LogLevel, logLevels)
			}
			if opts.ConfigPath == "" {
				return errors.New("a configuration file is required (--config)")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error); overrides the configuration")
	cmd.PersistentFlags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics at this address while running")
	cmd.PersistentFlags().StringVar(&opts.StorePath, "store", "", "graph store directory; overrides the configuration")

	cmd.AddCommand(newBuildCommand(opts))
	cmd.AddCommand(newCriticalPathCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	return cmd
}

// session is the process-wide state of one command invocation.
type session struct {
	cfg       *config.Config
	logger    *slog.Logger
	providers *telemetry.Providers
	store     *graphstore.Store
	closers   []func() error
}

// open loads the configuration, applies flag overrides, and sets up logging,
// telemetry and the graph store.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	ctx := cmd.Context()
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.MetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = o.MetricsAddr
	}
	if o.StorePath != "" {
		cfg.Store.Path = o.StorePath
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &session{
		cfg: cfg,
		logger: slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		})),
	}
	s.providers, err = telemetry.Init(ctx, telemetry.Config{
		TraceExporter: cfg.Telemetry.TraceExporter,
		TraceWriter:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		return s.providers.Shutdown(context.Background())
	})
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		serveCtx, stopServing := context.WithCancel(ctx)
		s.closers = append(s.closers, func() error {
			stopServing()
			return nil
		})
		go func() {
			if err := s.providers.Serve(serveCtx, addr); err != nil {
				s.logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		s.logger.Info("serving metrics", "addr", addr)
	}
	if path := cfg.Store.Path; path != "" {
		s.store, err = graphstore.Open(path, graphstore.WithLogger(s.logger))
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, s.store.Close)
	}
	return s, nil
}

func (s *session) close() {
	for idx := len(s.closers) - 1; idx >= 0; idx-- {
		if err := s.closers[idx](); err != nil {
			s.logger.Warn("cleanup failed", "error", err)
		}
	}
	s.closers = nil
}

// graphSettings are the construction settings a built graph depends on.
type graphSettings struct {
	TimerIRQ int `msgpack:"timer_irq"`
}

// analyze loads the configured traces and runs an analysis of them to
// completion.
func (s *session) analyze(ctx context.Context) (*analysis.Module, *analysis.Completion, error) {
	sources := map[string]kernel.Source{}
	paths := map[string]string{}
	for _, h := range s.cfg.Hosts {
		tr, err := tracefile.Load(h.Trace)
		if err != nil {
			return nil, nil, err
		}
		if tr.Host != "" && tr.Host != h.Name {
			s.logger.Warn("trace names a different host", "host", h.Name, "trace_host", tr.Host, "trace", h.Trace)
		}
		for _, w := range tr.Warnings {
			s.logger.Warn("disordered trace", "host", h.Name, "trace", h.Trace, "warning", w)
		}
		sources[h.Name] = tr.Source()
		paths[h.Name] = h.Trace
	}
	opts := []analysis.Option{
		analysis.WithLogger(s.logger),
		analysis.WithBuilderOptions(
			builder.WithConcurrency(s.cfg.Builder.Concurrency),
			builder.WithTimerIRQ(s.cfg.Builder.TimerIRQ),
		),
	}
	if s.store != nil {
		key, err := graphstore.Digest(paths, graphSettings{TimerIRQ: s.cfg.Builder.TimerIRQ})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, analysis.WithStore(s.store, key))
	}
	m := analysis.New(sources, opts...)
	m.Schedule(ctx)
	c, err := m.WaitForCompletion(ctx)
	if err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

// runAnalysis opens a session, runs the analysis, and hands its outcome to
// fn.
func (o *RootOptions) runAnalysis(cmd *cobra.Command, fn func(s *session, m *analysis.Module, c *analysis.Completion) error) error {
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()
	m, c, err := s.analyze(cmd.Context())
	if err != nil {
		return err
	}
	return fn(s, m, c)
}
