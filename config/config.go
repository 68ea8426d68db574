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

// Package config loads and validates the YAML configuration of an analysis:
// the traced hosts and their trace files, the target worker, and builder,
// storage and telemetry settings.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// Host is one traced host.
type Host struct {
	// Name identifies the host in the graph.
	Name string `yaml:"name" validate:"required,excludes=/"`
	// Trace is the path of the host's trace file.  Relative paths are
	// resolved against the configuration file's directory.
	Trace string `yaml:"trace" validate:"required"`
}

// Target is the worker whose critical path is requested.
type Target struct {
	Host string `yaml:"host" validate:"required_with=TID"`
	TID  int    `yaml:"tid"`
}

// Selector returns the target as a worker selector, or "" if unset.
func (t Target) Selector() string {
	if t.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s/%d", t.Host, t.TID)
}

// Builder holds graph construction settings.
type Builder struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=1024"`
	TimerIRQ    int `yaml:"timer_irq" validate:"gte=0"`
}

// Store holds graph persistence settings.
type Store struct {
	// Path is the store directory; persistence is disabled if it is empty.
	Path string `yaml:"path"`
}

// Telemetry holds observability settings.
type Telemetry struct {
	// MetricsAddr is the address serving Prometheus metrics, if any.
	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	// TraceExporter selects the span exporter: none or stdout.
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout"`
}

// Config is the configuration of an analysis.
type Config struct {
	Hosts     []Host    `yaml:"hosts" validate:"required,min=1,unique=Name,dive"`
	Target    Target    `yaml:"target"`
	Builder   Builder   `yaml:"builder"`
	Store     Store     `yaml:"store"`
	Telemetry Telemetry `yaml:"telemetry"`
	LogLevel  string    `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns a configuration with default settings and no hosts.
func Default() *Config {
	return &Config{
		Builder: Builder{
			Concurrency: runtime.GOMAXPROCS(0),
		},
		Telemetry: Telemetry{
			TraceExporter: "none",
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration.  Failures wrap ErrInvalidConfig.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for idx, fe := range verrs {
				msgs[idx] = fmt.Sprintf("%s fails '%s'", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Parse parses a YAML configuration over the defaults.  Unknown fields are
// rejected.  Relative trace paths are resolved against dir.
func Parse(data []byte, dir string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	for idx := range cfg.Hosts {
		if tr := cfg.Hosts[idx].Trace; tr != "" && !filepath.IsAbs(tr) {
			cfg.Hosts[idx].Trace = filepath.Join(dir, tr)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}
