package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"lightcycle/internal/app"
	"lightcycle/internal/config"
)

func main() {
	var (
		envFile   = flag.String("env", "", "Path to a .env file (default .env when present)")
		relayURL  = flag.String("relay", "", "Relay websocket URL, overrides CLIENT_RELAY_URL")
		statsPath = flag.String("stats", "", "Statistics file, overrides CLIENT_STATS_PATH")
		logLevel  = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	settings, err := config.Load(logger, files...)
	if err != nil {
		logger.Fatalf("failed to load configuration: %v", err)
	}
	if *relayURL != "" {
		settings.Client.RelayURL = *relayURL
	}
	if *statsPath != "" {
		settings.Client.StatsPath = *statsPath
	}
	if *logLevel != "" {
		settings.Logging.Level = *logLevel
	}

	level, err := logrus.ParseLevel(settings.Logging.Level)
	if err != nil {
		logger.Fatalf("invalid log level: %s", settings.Logging.Level)
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("commands: start, reset, status, quit")
	err = app.RunClient(ctx, app.ClientConfig{
		Config:   app.Config{Logger: logger, Settings: settings},
		Commands: os.Stdin,
		Output:   os.Stdout,
	})
	if err != nil {
		logger.Fatalf("%v", err)
	}
}
