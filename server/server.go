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

// Package server exposes ingestion and reading over HTTP. Besides the
// request/response API it accepts the queue and timer trigger events of a
// serverless runtime, so the same binary can run as a long-lived service or
// behind function triggers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	"github.com/poiesic/installment/reading"
)

var (
	// ErrIngesterRequired is returned when no ingester is configured.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrTriggerHandlerRequired is returned when no trigger handler is configured.
	ErrTriggerHandlerRequired = errors.New("trigger handler required")

	// ErrChunkReaderRequired is returned when no chunk reader is configured.
	ErrChunkReaderRequired = errors.New("chunk reader required")
)

// Ingester starts ingestion jobs and reports on them.
type Ingester interface {
	Start(ctx context.Context, req ingestion.IngestRequest) (string, error)
	Status(ctx context.Context, jobID string) (*core.Job, error)
}

// TriggerHandler processes queue trigger events.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, event []byte) (ingestion.TriggerResult, error)
}

// ChunkReader moves reader cursors.
type ChunkReader interface {
	SelectDocument(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error)
	NextChunk(ctx context.Context, readerID string) (*reading.Delivery, error)
	Position(ctx context.Context, readerID string) (*reading.Position, error)
	Documents(ctx context.Context, readerID string) ([]reading.Position, error)
}

// Deliverer serves due subscriptions.
type Deliverer interface {
	DeliverDue(ctx context.Context, now time.Time) (reading.DeliveryStats, error)
}

// JobSweeper recovers stuck jobs.
type JobSweeper interface {
	Sweep(ctx context.Context) (ingestion.SweepStats, error)
}

// Subscriber manages recurring deliveries.
type Subscriber interface {
	Subscribe(ctx context.Context, sub *core.Subscription) error
	Disable(ctx context.Context, readerID string, docID core.ID) error
}

// Config holds the services behind the routes. Ingester, Triggers and
// Reader are required; routes of a nil optional service answer 501.
type Config struct {
	Ingester      Ingester
	Triggers      TriggerHandler
	Reader        ChunkReader
	Scheduler     Deliverer
	Sweeper       JobSweeper
	Subscriptions Subscriber
	Logger        *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	Engine *gin.Engine
	logger *slog.Logger
	now    func() time.Time
}

// New builds the router for cfg.
func New(cfg Config) (*Server, error) {
	if cfg.Ingester == nil {
		return nil, ErrIngesterRequired
	}
	if cfg.Triggers == nil {
		return nil, ErrTriggerHandlerRequired
	}
	if cfg.Reader == nil {
		return nil, ErrChunkReaderRequired
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{logger: logger.With("component", "server"), now: time.Now}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.logger))

	h := &handlers{cfg: cfg, now: func() time.Time { return s.now() }}
	engine.GET("/healthz", h.health)

	v1 := engine.Group("/v1")
	v1.POST("/documents", h.startIngestion)
	v1.GET("/jobs/:id", h.getJob)
	v1.POST("/triggers/batches", h.batchTrigger)
	v1.POST("/triggers/delivery", h.deliveryTrigger)
	v1.POST("/triggers/sweep", h.sweepTrigger)

	readers := v1.Group("/readers/:reader")
	readers.POST("/select", h.selectDocument)
	readers.POST("/next", h.nextChunk)
	readers.GET("/position", h.position)
	readers.GET("/documents", h.documents)
	readers.PUT("/subscriptions/:document", h.subscribe)
	readers.DELETE("/subscriptions/:document", h.unsubscribe)

	s.Engine = engine
	return s, nil
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
