package telemetry

import "lightcycle/logging"

// Logger exposes the free-text logging used by relay and client components.
// *logrus.Logger and *logrus.Entry satisfy it directly.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// Discard drops every message.
var Discard Logger = LoggerFunc(func(string, ...any) {})

// OrDiscard returns logger, or Discard when it is nil.
func OrDiscard(logger Logger) Logger {
	if logger == nil {
		return Discard
	}
	return logger
}

// Metrics exposes the counters recorded by relay components.
type Metrics interface {
	Add(key string, delta uint64)
	Store(key string, value uint64)
}

// WrapMetrics adapts the logging metrics into the Metrics interface.
func WrapMetrics(metrics *logging.Metrics) Metrics {
	return &metricsAdapter{metrics: metrics}
}

type metricsAdapter struct {
	metrics *logging.Metrics
}

func (m *metricsAdapter) Add(key string, delta uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryAdd(key, delta)
}

func (m *metricsAdapter) Store(key string, value uint64) {
	if m == nil || m.metrics == nil {
		return
	}
	m.metrics.TelemetryStore(key, value)
}
