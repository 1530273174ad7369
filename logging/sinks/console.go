package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"lightcycle/logging"
)

// Console renders events as logrus entries.
type Console struct {
	logger *logrus.Logger
}

// NewConsole writes to w with a text formatter. Passing a nil writer
// discards output.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}
	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(logrus.DebugLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return &Console{logger: logger}
}

// NewConsoleWithLogger renders through an existing logrus logger.
func NewConsoleWithLogger(logger *logrus.Logger) *Console {
	return &Console{logger: logger}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	fields := logrus.Fields{
		"actor": formatEntity(event.Actor),
	}
	if event.Tick > 0 {
		fields["tick"] = event.Tick
	}
	if len(event.Targets) > 0 {
		fields["targets"] = formatTargets(event.Targets)
	}
	if event.Payload != nil {
		fields["payload"] = formatPayload(event.Payload)
	}
	if event.TraceID != "" {
		fields["trace"] = event.TraceID
	}
	for k, v := range event.Extra {
		if _, exists := fields[k]; !exists {
			fields[k] = v
		}
	}
	entry := s.logger.WithFields(fields)
	if !event.Time.IsZero() {
		entry = entry.WithTime(event.Time)
	}
	entry.Log(logrusLevel(event.Severity), string(event.Type))
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func logrusLevel(sev logging.Severity) logrus.Level {
	switch sev {
	case logging.SeverityDebug:
		return logrus.DebugLevel
	case logging.SeverityWarn:
		return logrus.WarnLevel
	case logging.SeverityError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func formatEntity(ref logging.EntityRef) string {
	if ref.ID == "" {
		return string(ref.Kind)
	}
	if ref.Kind == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Kind, ref.ID)
}

func formatTargets(targets []logging.EntityRef) string {
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatEntity(target))
	}
	return strings.Join(parts, ",")
}

func formatPayload(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
