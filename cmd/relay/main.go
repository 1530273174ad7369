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
		envFile    = flag.String("env", "", "Path to a .env file (default .env when present)")
		addr       = flag.String("addr", "", "Listen address, overrides RELAY_ADDR")
		maxPlayers = flag.Int("max-players", 0, "Maximum number of players, overrides RELAY_MAX_PLAYERS")
		clientDir  = flag.String("client-dir", "", "Directory of static client files, overrides RELAY_CLIENT_DIR")
		logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides LOG_LEVEL")
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
	if *addr != "" {
		settings.Relay.Addr = *addr
	}
	if *maxPlayers > 0 {
		settings.Relay.MaxPlayers = *maxPlayers
	}
	if *clientDir != "" {
		settings.Relay.ClientDir = *clientDir
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

	if err := app.RunRelay(ctx, app.Config{Logger: logger, Settings: settings}); err != nil {
		logger.Fatalf("%v", err)
	}
}
