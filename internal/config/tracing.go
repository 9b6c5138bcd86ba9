package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	EnvTracingEnabled  = "DOCKET_TRACING_ENABLED"
	EnvTracingExporter = "DOCKET_TRACING_EXPORTER"
	EnvTracingEndpoint = "DOCKET_TRACING_ENDPOINT"

	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig selects the OpenTelemetry span exporter. Spans are dropped
// when tracing is disabled.
type TracingConfig struct {
	Enabled     bool   `toml:"enabled"`
	Exporter    string `toml:"exporter"`
	Endpoint    string `toml:"endpoint"`
	ServiceName string `toml:"service_name"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *TracingConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay. Enabled always applies.
func (c *TracingConfig) Merge(overlay *TracingConfig) {
	c.Enabled = overlay.Enabled
	if overlay.Exporter != "" {
		c.Exporter = overlay.Exporter
	}
	if overlay.Endpoint != "" {
		c.Endpoint = overlay.Endpoint
	}
	if overlay.ServiceName != "" {
		c.ServiceName = overlay.ServiceName
	}
}

func (c *TracingConfig) loadDefaults() {
	if c.Exporter == "" {
		c.Exporter = ExporterStdout
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.ServiceName == "" {
		c.ServiceName = "docket"
	}
}

func (c *TracingConfig) loadEnv() {
	if v := os.Getenv(EnvTracingEnabled); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		}
	}
	if v := os.Getenv(EnvTracingExporter); v != "" {
		c.Exporter = v
	}
	if v := os.Getenv(EnvTracingEndpoint); v != "" {
		c.Endpoint = v
	}
}

func (c *TracingConfig) validate() error {
	switch c.Exporter {
	case ExporterStdout, ExporterOTLP:
		return nil
	default:
		return fmt.Errorf("unsupported exporter: %q", c.Exporter)
	}
}
