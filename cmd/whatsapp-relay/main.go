// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command whatsapp-relay exposes a single WhatsApp account over a small HTTP
// API. It answers inbound messages with a fixed reply, tracks who has written
// in and queues outbound messages while the connection is down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/aiku/whatsapp-relay/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("whatsapp-relay", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "config.yaml", "path to the config file")
	generate := flags.BoolP("generate-example-config", "g", false, "write the example config to the config path and exit")
	showVersion := flags.BoolP("version", "v", false, "print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if *showVersion {
		fmt.Printf("whatsapp-relay %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		return nil
	}
	if *generate {
		if err := os.WriteFile(*configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return nil
	}

	cfg, err := connector.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := connector.OpenDeviceStore(ctx, cfg.Database, *log)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close device store")
		}
	}()

	factory := &connector.WhatsAppSessionFactory{Container: container, Log: *log}
	relay := connector.NewWhatsAppConnector(cfg, factory, *log)
	if err := relay.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("version", Tag).Msg("WhatsApp relay started")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return relay.Stop(shutdownCtx)
}
