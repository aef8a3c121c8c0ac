// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/installment"
	"github.com/poiesic/installment/config"
	"github.com/urfave/cli/v2"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "installment",
		Usage: "Ingest long texts into chunks and deliver them to readers one piece at a time",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "installment.yaml",
				EnvVars: []string{"INSTALLMENT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the database (overrides storage.path)",
				EnvVars: []string{"INSTALLMENT_DB"},
			},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Storage backend: badger or sqlite (overrides storage.backend)",
				EnvVars: []string{"INSTALLMENT_BACKEND"},
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Ingest a plain-text file and wait for the job to finish",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "title",
						Aliases:  []string{"t"},
						Usage:    "Document title",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Plain-text file; paragraphs are separated by blank lines",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "reader",
						Usage: "Reader to select the document for once ingested",
					},
					&cli.StringFlag{
						Name:  "notify",
						Usage: "Notification target for progress messages",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Segmentation mode: by_sense or by_newline (default from config)",
					},
					&cli.StringFlag{
						Name:  "policy",
						Usage: "Assembly policy: size or count (default from config)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Give up waiting after this long",
						Value: 10 * time.Minute,
					},
				},
			},
			{
				Name:   "read",
				Usage:  "Print a reader's next chunk",
				Action: readCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "reader",
						Aliases:  []string{"r"},
						Usage:    "Reader id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Select this document id first",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Select the document with this title first",
					},
					&cli.BoolFlag{
						Name:  "position",
						Usage: "Print the reader's position instead of reading",
					},
				},
			},
			{
				Name:   "books",
				Usage:  "List the documents a reader has selected with progress",
				Action: booksCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "reader",
						Aliases:  []string{"r"},
						Usage:    "Reader id",
						Required: true,
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Print an ingestion job",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "job",
						Aliases:  []string{"j"},
						Usage:    "Job id",
						Required: true,
					},
				},
			},
			{
				Name:   "subscribe",
				Usage:  "Deliver a document to a reader every day at a fixed time",
				Action: subscribeCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "reader",
						Aliases:  []string{"r"},
						Usage:    "Reader id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Document id",
					},
					&cli.StringFlag{
						Name:  "title",
						Usage: "Document title",
					},
					&cli.StringFlag{
						Name:  "slot",
						Usage: "Delivery time, HH:MM",
					},
					&cli.BoolFlag{
						Name:  "disable",
						Usage: "Turn the subscription off",
					},
				},
			},
			{
				Name:   "sweep",
				Usage:  "Re-dispatch or abandon stuck ingestion jobs once",
				Action: sweepCommand,
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP trigger server, queue workers and delivery scheduler",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "addr",
						Usage:   "Listen address (overrides server.addr)",
						EnvVars: []string{"INSTALLMENT_ADDR"},
					},
					&cli.StringFlag{
						Name:    "queue",
						Usage:   "Batch queue: memory, redis or kafka (overrides queue.type)",
						EnvVars: []string{"INSTALLMENT_QUEUE"},
					},
					&cli.StringFlag{
						Name:    "notifier",
						Usage:   "Notifier: log or redis (overrides notifier.type)",
						EnvVars: []string{"INSTALLMENT_NOTIFIER"},
					},
					&cli.DurationFlag{
						Name:  "sweep-every",
						Usage: "Sweep interval; 0 disables the sweeper",
						Value: 5 * time.Minute,
					},
				},
			},
			{
				Name:   "listen",
				Usage:  "Print notifications published on the Redis notification channel",
				Action: listenCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "channel",
						Usage: "Channel (overrides notifier.channel)",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads the config file and applies the global overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	if backend := c.String("backend"); backend != "" {
		cfg.Storage.Backend = backend
	}
	return cfg, cfg.Validate()
}

func openLibrary(c *cli.Context, cfg *config.Config) (*installment.Library, error) {
	return installment.Open(c.Context, cfg, installment.WithLogger(slog.Default()))
}
