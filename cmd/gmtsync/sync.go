// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gmtsync/gmtsync/lib/chat"
	"github.com/gmtsync/gmtsync/lib/config"
	"github.com/gmtsync/gmtsync/lib/convstore"
	"github.com/gmtsync/gmtsync/lib/eventloop"
	"github.com/gmtsync/gmtsync/lib/journal"
	"github.com/gmtsync/gmtsync/lib/metrics"
	"github.com/gmtsync/gmtsync/lib/outbox"
	"github.com/gmtsync/gmtsync/lib/poll"
	"github.com/gmtsync/gmtsync/lib/profile"
	"github.com/gmtsync/gmtsync/lib/push"
	"github.com/gmtsync/gmtsync/lib/update"
	"github.com/gmtsync/gmtsync/lib/version"
	"github.com/gmtsync/gmtsync/messaging"
	"github.com/gmtsync/gmtsync/transport"
)

// pushPingInterval keeps idle proxies from dropping the push socket.
const pushPingInterval = 30 * time.Second

type syncFlags struct {
	configPath    string
	envFile       string
	tokenFile     string
	journalPath   string
	metricsListen string
}

func runSync(args []string) error {
	var flags syncFlags
	flagSet := pflag.NewFlagSet("gmtsync run", pflag.ContinueOnError)
	flagSet.StringVar(&flags.configPath, "config", "", "configuration file (default: $"+config.EnvVar+", else built-in defaults)")
	flagSet.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flagSet.StringVar(&flags.tokenFile, "token-file", "", "file holding the access token (default: $"+tokenEnvVar+" or a prompt)")
	flagSet.StringVar(&flags.journalPath, "journal", "", "record every update to this SQLite file (overrides journal.path)")
	flagSet.StringVar(&flags.metricsListen, "listen", "", "address for the metrics and debug endpoints (overrides metrics.listen)")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", flags.envFile, err)
	}

	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return err
	}
	if flags.journalPath != "" {
		cfg.Journal.Path = flags.journalPath
	}
	if flags.metricsListen != "" {
		cfg.Metrics.Listen = flags.metricsListen
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, level)
	slog.SetDefault(logger)

	token, err := resolveToken(tokenSources{
		File:   flags.tokenFile,
		Getenv: os.Getenv,
		Prompt: terminalPrompt(),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("gmtsync starting", "version", version.Info(), "environment", cfg.Environment)
	return syncUntilDone(ctx, cfg, token, logger)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// syncUntilDone wires the engine and runs it until ctx is cancelled or
// a component fails.
func syncUntilDone(ctx context.Context, cfg *config.Config, token string, logger *slog.Logger) error {
	observer := metrics.New()

	client, err := messaging.NewClient(messaging.ClientConfig{
		BaseURL:           cfg.API.BaseURL,
		ImageURL:          cfg.API.ImageURL,
		AccessToken:       token,
		HTTPClient:        &http.Client{Timeout: cfg.API.Timeout},
		Logger:            logger,
		RequestsPerSecond: cfg.API.RequestsPerSecond,
		Burst:             cfg.API.Burst,
	})
	if err != nil {
		return err
	}

	// Everything that can fail is opened before any goroutine starts.
	var listener *transport.Listener
	if cfg.Metrics.Listen != "" {
		listener, err = transport.Listen(cfg.Metrics.Listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Metrics.Listen, err)
		}
		defer listener.Close()
	}
	var recorder *journal.Journal
	if cfg.Journal.Path != "" {
		recorder, err = journal.Open(ctx, journal.Config{
			Path:     cfg.Journal.Path,
			Compress: cfg.Journal.Compress,
			Logger:   logger,
			Observer: observer,
		})
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	group, ctx := errgroup.WithContext(ctx)
	loop := eventloop.New(eventloop.DefaultCapacity, logger.With("component", "eventloop"))
	group.Go(func() error {
		loop.Run(ctx)
		return nil
	})

	bus := update.NewBus(logger, observer)
	store := convstore.New(logger)
	store.Attach(bus)
	reconciler := profile.NewReconciler()

	if recorder != nil {
		recorder.Attach(bus)
		group.Go(func() error { return recorder.Run(ctx) })
		logger.Info("recording updates", "path", cfg.Journal.Path)
	}

	// The push session subscribes the personal channel only when the
	// profile is known, so fetch it before connecting.
	if err := primeProfile(ctx, client, loop, bus, reconciler); err != nil {
		logger.Warn("initial profile fetch failed, polling will retry", "error", err)
	}

	poller := poll.New(poll.Config{
		REST:                 client,
		State:                store,
		Loop:                 loop,
		Bus:                  bus,
		Profile:              reconciler,
		Logger:               logger,
		Observer:             observer,
		SlowInterval:         cfg.Poll.SlowInterval,
		FastInterval:         cfg.Poll.FastInterval,
		MaxConcurrentFetches: cfg.Poll.MaxConcurrentFetches,
		FetchTimeout:         cfg.Poll.FetchTimeout,
	})
	poller.StartNow(ctx)
	defer poller.Stop()

	if cfg.Push.Enabled {
		source := push.New(push.Config{
			Dialer: &transport.WebSocketDialer{
				URL:          cfg.API.PushURL,
				PingInterval: pushPingInterval,
				Logger:       logger,
			},
			Loop:  loop,
			Bus:   bus,
			Self:  reconciler,
			Token: token,
			Reconnect: push.ReconnectConfig{
				Enabled:        cfg.Push.Reconnect,
				InitialBackoff: cfg.Push.InitialBackoff,
				MaxBackoff:     cfg.Push.MaxBackoff,
			},
			Logger:   logger,
			Observer: observer,
		})
		source.Attach(bus)
		source.Open(ctx)
		defer source.Close()
	}

	sender := outbox.New(outbox.Config{
		REST:          client,
		Conversations: store,
		Self:          reconciler,
		Loop:          loop,
		Bus:           bus,
		Logger:        logger,
		Observer:      observer,
	})
	defer sender.Wait()

	if listener != nil {
		api := &server{
			ctx:     ctx,
			loop:    loop,
			store:   store,
			sender:  sender,
			metrics: observer.Handler(),
			logger:  logger,
		}
		group.Go(func() error { return listener.Serve(ctx, api.router()) })
		logger.Info("serving metrics and debug endpoints", "address", listener.Address())
	}

	return group.Wait()
}

// primeProfile fetches the signed-in user and seeds the reconciler.
func primeProfile(ctx context.Context, client *messaging.Client, loop *eventloop.Loop, bus *update.Bus, reconciler *profile.Reconciler) error {
	payload, err := client.FetchProfile(ctx)
	if err != nil {
		return err
	}
	person, err := chat.PersonFromPayload(payload)
	if err != nil {
		return err
	}
	return loop.Call(ctx, func() {
		bus.Post(reconciler.Reconcile(person)...)
	})
}
