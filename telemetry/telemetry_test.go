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

package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestMetricsHandler(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{})
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	counter, err := otel.Meter("execgraph.test").Int64Counter("test.events")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_events")
}

func TestStdoutSpans(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	p, err := Init(ctx, Config{TraceExporter: "stdout", TraceWriter: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("execgraph.test").Start(ctx, "test.span")
	span.End()
	require.NoError(t, p.Shutdown(ctx))
	assert.Contains(t, buf.String(), "test.span")
	assert.NoError(t, p.Shutdown(ctx), "a second shutdown should be a no-op")
}

func TestUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "jaeger"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
