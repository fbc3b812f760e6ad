package config

import (
	"fmt"
	"io"
	"os"

	json "github.com/json-iterator/go"
)

// Load reads a JSON document from the file at path over the defaults. Fields missing in the
// document keep their default values. Durations are expressed in nanoseconds.
func Load(path string) (*Config, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer fd.Close()

	return Decode(fd)
}

// Decode does the same as Load, but reads the document from r.
func Decode(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := json.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the limits are consistent with each other.
func (c *Config) Validate() error {
	pairs := []struct {
		name             string
		initial, maximal int
	}{
		{"URI.RequestLineSize", c.URI.RequestLineSize.Default, c.URI.RequestLineSize.Maximal},
		{"Headers.Number", c.Headers.Number.Default, c.Headers.Number.Maximal},
		{"Headers.Space", c.Headers.Space.Default, c.Headers.Space.Maximal},
		{"NET.WriteBufferSize", c.NET.WriteBufferSize.Default, c.NET.WriteBufferSize.Maximal},
	}

	for _, p := range pairs {
		if p.initial <= 0 || p.maximal < p.initial {
			return fmt.Errorf("config: %s: default (%d) must be positive and not exceed maximal (%d)",
				p.name, p.initial, p.maximal)
		}
	}

	if c.NET.ReadBufferSize <= 0 {
		return fmt.Errorf("config: NET.ReadBufferSize must be positive")
	}

	if c.NET.EventLoops <= 0 {
		return fmt.Errorf("config: NET.EventLoops must be positive")
	}

	return nil
}
