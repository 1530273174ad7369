package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"lightcycle/internal/telemetry"
)

type Relay struct {
	Addr             string
	MaxPlayers       int
	ClientDir        string
	MessageRate      float64
	MessageBurst     int
	EnablePprofTrace bool
}

type Client struct {
	RelayURL   string
	FrameRate  int
	SetupRetry time.Duration
	StatsPath  string
	FieldSize  float64
}

type Logging struct {
	Level    string
	JSONPath string
}

type Config struct {
	Relay   Relay
	Client  Client
	Logging Logging
}

func Default() Config {
	return Config{
		Relay: Relay{
			Addr:         ":8080",
			MaxPlayers:   4,
			MessageRate:  60,
			MessageBurst: 30,
		},
		Client: Client{
			RelayURL:   "ws://localhost:8080/ws",
			FrameRate:  15,
			SetupRetry: time.Second,
			StatsPath:  "lightcycle-stats.json",
			FieldSize:  1000,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Load reads the optional env files (".env" when none are named) into the
// process environment without overriding variables already set, then
// resolves the configuration from it.
func Load(logger telemetry.Logger, files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv(os.LookupEnv, logger), nil
}

// FromEnv resolves the configuration through lookup. Invalid values are
// logged and the default kept.
func FromEnv(lookup func(string) (string, bool), logger telemetry.Logger) Config {
	env := reader{lookup: lookup, logger: telemetry.OrDiscard(logger)}
	cfg := Default()

	env.string("RELAY_ADDR", &cfg.Relay.Addr)
	env.positiveInt("RELAY_MAX_PLAYERS", &cfg.Relay.MaxPlayers)
	env.string("RELAY_CLIENT_DIR", &cfg.Relay.ClientDir)
	env.float("RELAY_MESSAGE_RATE", &cfg.Relay.MessageRate)
	env.positiveInt("RELAY_MESSAGE_BURST", &cfg.Relay.MessageBurst)
	env.bool("ENABLE_PPROF_TRACE", &cfg.Relay.EnablePprofTrace)

	env.string("CLIENT_RELAY_URL", &cfg.Client.RelayURL)
	env.positiveInt("CLIENT_FRAME_RATE", &cfg.Client.FrameRate)
	env.duration("CLIENT_SETUP_RETRY", &cfg.Client.SetupRetry)
	env.string("CLIENT_STATS_PATH", &cfg.Client.StatsPath)
	env.float("CLIENT_FIELD_SIZE", &cfg.Client.FieldSize)

	env.string("LOG_LEVEL", &cfg.Logging.Level)
	env.string("LOG_JSON_PATH", &cfg.Logging.JSONPath)
	return cfg
}

// FrameTime is the tick period for the configured frame rate.
func (c Client) FrameTime() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(c.FrameRate)
}

type reader struct {
	lookup func(string) (string, bool)
	logger telemetry.Logger
}

func (r reader) raw(key string) (string, bool) {
	if r.lookup == nil {
		return "", false
	}
	value, ok := r.lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (r reader) string(key string, dst *string) {
	if value, ok := r.raw(key); ok {
		*dst = value
	}
}

func (r reader) positiveInt(key string, dst *int) {
	raw, ok := r.raw(key)
	if !ok {
		return
	}
	value, err := strconv.Atoi(raw)
	if err == nil && value <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		r.logger.Printf("invalid %s=%q: %v", key, raw, err)
		return
	}
	*dst = value
}

func (r reader) float(key string, dst *float64) {
	raw, ok := r.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err == nil && value < 0 {
		err = errors.New("must not be negative")
	}
	if err != nil {
		r.logger.Printf("invalid %s=%q: %v", key, raw, err)
		return
	}
	*dst = value
}

func (r reader) bool(key string, dst *bool) {
	raw, ok := r.raw(key)
	if !ok {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.logger.Printf("invalid %s=%q: %v", key, raw, err)
		return
	}
	*dst = value
}

func (r reader) duration(key string, dst *time.Duration) {
	raw, ok := r.raw(key)
	if !ok {
		return
	}
	value, err := time.ParseDuration(raw)
	if err == nil && value <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		r.logger.Printf("invalid %s=%q: %v", key, raw, err)
		return
	}
	*dst = value
}
