package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"lightcycle/internal/arena"
	"lightcycle/internal/game"
	"lightcycle/internal/net/channel"
	"lightcycle/internal/net/proto"
	"lightcycle/internal/peers"
	"lightcycle/internal/stats"
	"lightcycle/internal/trail"
)

// ClientConfig adds the console the headless client reads commands from.
type ClientConfig struct {
	Config
	Commands io.Reader
	Output   io.Writer
}

// relayLink lets the session hold its sender before the channel, which needs
// the session as its listener, exists.
type relayLink struct {
	ch *channel.Channel
}

func (l *relayLink) Send(env proto.Envelope) error {
	if l.ch == nil {
		return channel.ErrNotOpen
	}
	return l.ch.Send(env)
}

func (l *relayLink) IsOpen() bool {
	return l.ch != nil && l.ch.IsOpen()
}

// RunClient plays as a headless client until ctx is cancelled, the relay
// connection ends or the console says quit.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	logger := cfg.logger()
	settings := cfg.Settings.Client

	router, err := newEventRouter(cfg.Settings.Logging, logger, map[string]any{"component": "client"})
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer closeEventRouter(router, logger)

	store, err := stats.Open(settings.StatsPath)
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	defer func() {
		if err := store.Save(); err != nil {
			logger.Printf("failed to save stats: %v", err)
		}
	}()

	field := trail.NewField(settings.FieldSize, settings.FieldSize, nil)
	local := trail.NewCycle(peers.LocalID, field)

	link := &relayLink{}
	session := game.New(link, game.Config{
		FrameTime:  settings.FrameTime(),
		SetupRetry: settings.SetupRetry,
		LocalBody:  local,
		Bodies:     trail.Factory(field),
		Input:      &trail.Autopilot{Cycle: local, Field: field},
		Stats:      store,
		UI:         arena.LogUI{Logger: logger},
		Audio:      arena.Silent{},
		PowerUps:   field,
		Logger:     logger,
		Publisher:  router,
	})
	link.ch = channel.New(settings.RelayURL, session, channel.Options{
		RetryDelay: settings.SetupRetry,
		Logger:     logger,
		Publisher:  router,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("relay connection ended: %v", err)
		}
	}()

	if cfg.Commands != nil {
		go func() {
			if err := readCommands(ctx, cfg.Commands, cfg.Output, session); err != nil {
				logger.Printf("console: %v", err)
			}
			cancel()
		}()
	}

	logger.Printf("client connecting to %s", settings.RelayURL)
	err = session.Run(ctx)
	cancel()
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// readCommands maps console lines onto session requests until EOF or quit.
func readCommands(ctx context.Context, in io.Reader, out io.Writer, session *game.Session) error {
	if out == nil {
		out = io.Discard
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch cmd := strings.ToLower(strings.TrimSpace(scanner.Text())); cmd {
		case "":
		case "start":
			session.RequestStart()
		case "reset":
			session.RequestReset()
		case "status":
			snap, err := session.Snapshot(ctx)
			if err != nil {
				return err
			}
			data, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q (start, reset, status, quit)\n", cmd)
		}
	}
	return scanner.Err()
}
