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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	criticalpath "github.com/ilhamster/execgraph/critical_path"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a configuration naming the testdata traces of hosts,
// and returns its path.
func writeConfig(t *testing.T, extra string, hosts ...string) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("hosts:\n")
	for _, host := range hosts {
		trace, err := filepath.Abs(filepath.Join("..", "..", "tracefile", "testdata", host+".yaml"))
		require.NoError(t, err)
		fmt.Fprintf(&sb, "  - name: %s\n    trace: %s\n", host, trace)
	}
	sb.WriteString(extra)
	path := filepath.Join(t.TempDir(), "execgraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	t.Logf("stderr:\n%s", errOut.String())
	return out.String(), err
}

func TestBuild(t *testing.T) {
	cfg := writeConfig(t, "", "client", "server")
	out, err := execute(t, "build", "--config", cfg)
	require.NoError(t, err)
	for _, want := range []string{"source    built", "hosts     client, server", "events    17", "skipped   1", "2 linked, 0 unmatched"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "incomplete")
}

func TestBuildWithStore(t *testing.T) {
	cfg := writeConfig(t, "", "client", "server")
	store := filepath.Join(t.TempDir(), "store")
	out, err := execute(t, "build", "--config", cfg, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "source    built")
	out, err = execute(t, "build", "--config", cfg, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "source    store")
	assert.Contains(t, out, "2 linked, 0 unmatched")

	// Graphs built with other settings are not reused.
	cfg = writeConfig(t, "builder:\n  concurrency: 2\n  timer_irq: 1\n", "client", "server")
	out, err = execute(t, "build", "--config", cfg, "--store", store)
	require.NoError(t, err)
	assert.Contains(t, out, "source    built")
}

func TestCriticalPath(t *testing.T) {
	cfg := writeConfig(t, "target:\n  host: client\n  tid: 200\n", "client", "server")
	for _, test := range []struct {
		description string
		args        []string
		want        []string
		dontWant    []string
	}{{
		description: "configured target",
		args:        []string{"critical-path", "--config", cfg},
		want: []string{
			"Critical path of client/200 (client (200))",
			"server/100", "client/200  server/100  15     35",
			"NETWORK", "STATISTICS",
		},
		dontWant: []string{"incomplete"},
	}, {
		description: "worker by name",
		args:        []string{"critical-path", "--config", cfg, "--worker", "server/server"},
		want:        []string{"Critical path of server/100 (server (100))"},
	}, {
		description: "within a range",
		args:        []string{"critical-path", "--config", cfg, "--start", "70"},
		want:        []string{"client/200  70     75"},
	}} {
		t.Run(test.description, func(t *testing.T) {
			out, err := execute(t, test.args...)
			require.NoError(t, err)
			for _, want := range test.want {
				assert.Contains(t, out, want)
			}
			for _, dontWant := range test.dontWant {
				assert.NotContains(t, out, dontWant)
			}
		})
	}
}

func TestCheckAndStats(t *testing.T) {
	cfg := writeConfig(t, "", "client", "server")
	out, err := execute(t, "check", "--config", cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok: "), out)

	out, err = execute(t, "stats", "--config", cfg, "--log-level", "error")
	require.NoError(t, err)
	for _, want := range []string{"WORKERS", "STATISTICS", "client/200", "server/100", "server/kernel/1", "all"} {
		assert.Contains(t, out, want)
	}
}

func TestErrors(t *testing.T) {
	cfg := writeConfig(t, "", "client")
	_, err := execute(t, "build")
	assert.ErrorContains(t, err, "--config")
	_, err = execute(t, "build", "--config", cfg, "--log-level", "loud")
	assert.ErrorContains(t, err, "invalid log level")
	_, err = execute(t, "critical-path", "--config", cfg)
	assert.ErrorContains(t, err, "no target worker")
	_, err = execute(t, "critical-path", "--config", cfg, "--worker", "server/100")
	assert.ErrorIs(t, err, criticalpath.ErrNoTarget)
	_, err = execute(t, "build", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
