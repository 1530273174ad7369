package logging

import (
	"fmt"
	"slices"
	"time"
)

// Config controls which events a Router keeps and where it delivers them.
type Config struct {
	// EnabledSinks names the sinks that receive events. Sinks handed to
	// NewRouter under any other name stay idle.
	EnabledSinks    []string
	MinimumSeverity Severity
	// Fields are merged into the extras of every event, typically the
	// component ("relay" or "client").
	Fields map[string]any

	QueueSize        int
	DropWarnInterval time.Duration
	// FlushInterval is how often buffered file sinks reach the disk.
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		MinimumSeverity:  SeverityInfo,
		QueueSize:        512,
		DropWarnInterval: 5 * time.Second,
		FlushInterval:    2 * time.Second,
	}
}

// WithLevel returns c filtering below the named level ("debug", "info",
// "warn", "error"). An unknown name leaves c unchanged.
func (c Config) WithLevel(name string) (Config, error) {
	severity, ok := ParseSeverity(name)
	if !ok {
		return c, fmt.Errorf("unknown log level %q", name)
	}
	c.MinimumSeverity = severity
	return c, nil
}

// WithSink returns c with name enabled alongside the sinks already enabled.
func (c Config) WithSink(name string) Config {
	if c.HasSink(name) {
		return c
	}
	c.EnabledSinks = append(slices.Clip(c.EnabledSinks), name)
	return c
}

func (c Config) HasSink(name string) bool {
	return slices.Contains(c.EnabledSinks, name)
}
