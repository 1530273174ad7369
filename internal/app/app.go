package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"lightcycle/internal/config"
	servernet "lightcycle/internal/net"
	"lightcycle/internal/observability"
	"lightcycle/internal/relay"
	"lightcycle/internal/telemetry"
	"lightcycle/logging"
	loggingSinks "lightcycle/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger   *logrus.Logger
	Settings config.Config
}

func (c Config) logger() *logrus.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.StandardLogger()
}

// newEventRouter builds the structured event router: logrus console output
// plus an optional newline-delimited JSON file.
func newEventRouter(settings config.Logging, logger *logrus.Logger, fields map[string]any) (*logging.Router, error) {
	logConfig := logging.DefaultConfig()
	logConfig.Fields = fields
	if leveled, err := logConfig.WithLevel(settings.Level); err != nil {
		logger.Printf("invalid LOG_LEVEL: %v, keeping %s", err, logConfig.MinimumSeverity)
	} else {
		logConfig = leveled
	}

	sinks := map[string]logging.Sink{
		"console": loggingSinks.NewConsoleWithLogger(logger),
	}
	if settings.JSONPath != "" {
		file, err := os.OpenFile(settings.JSONPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open event log: %w", err)
		}
		logConfig = logConfig.WithSink("json")
		sinks["json"] = loggingSinks.NewJSON(file, logConfig.FlushInterval)
	}

	return logging.NewRouter(logConfig, logging.SystemClock{}, logger, sinks)
}

func closeEventRouter(router *logging.Router, logger telemetry.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		logger.Printf("failed to close logging router: %v", err)
	}
}

// RunRelay serves the relay until ctx is cancelled.
func RunRelay(ctx context.Context, cfg Config) error {
	logger := cfg.logger()
	settings := cfg.Settings.Relay

	router, err := newEventRouter(cfg.Settings.Logging, logger, map[string]any{"component": "relay"})
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer closeEventRouter(router, logger)

	metrics := &logging.Metrics{}
	hub := relay.NewHub(relay.Config{
		MaxPlayers:   settings.MaxPlayers,
		MessageRate:  settings.MessageRate,
		MessageBurst: settings.MessageBurst,
		Logger:       logger,
		Publisher:    router,
		Metrics:      telemetry.WrapMetrics(metrics),
	})

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		ClientDir:     settings.ClientDir,
		Logger:        logger,
		Publisher:     router,
		Metrics:       metrics,
		LogStats:      router.Stats,
		Observability: observability.Config{EnablePprofTrace: settings.EnablePprofTrace},
	})

	srv := &http.Server{Addr: settings.Addr, Handler: handler}
	logger.Printf("relay listening on %s (max %d players)", srv.Addr, settings.MaxPlayers)

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}
