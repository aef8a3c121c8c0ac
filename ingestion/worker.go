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

package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/installment/chunking"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/queue"
	"github.com/poiesic/installment/storage"
)

// Worker processes one batch message at a time: it segments and assembles
// every block in order, then reports completion. It never changes job
// status or reading cursors.
type Worker struct {
	jobs      storage.JobRepository
	assembler *chunking.Assembler
	reporter  Reporter
	opts      options
	logger    *slog.Logger
}

var _ queue.Handler = (*Worker)(nil)

// NewWorker creates a Worker. jobs is read to skip batches whose
// completion is already recorded; it may be nil.
func NewWorker(jobs storage.JobRepository, assembler *chunking.Assembler, reporter Reporter, opts ...Option) (*Worker, error) {
	if assembler == nil {
		return nil, ErrAssemblerRequired
	}
	if reporter == nil {
		return nil, ErrReporterRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Worker{
		jobs:      jobs,
		assembler: assembler,
		reporter:  reporter,
		opts:      o,
		logger:    o.logger.With("component", "worker"),
	}, nil
}

// Process handles one batch and reports it. Failures of single blocks are
// logged and counted in the report; the batch is reported either way. An
// error is returned only when the message is invalid or the report could
// not be delivered.
func (w *Worker) Process(ctx context.Context, msg *core.BatchMessage) (core.CompletionReport, error) {
	if err := core.ValidateBatchMessage(msg); err != nil {
		return core.CompletionReport{}, err
	}
	logger := w.logger.With("job", msg.JobID, "batch", msg.BatchID, "document", msg.DocumentID)

	if w.alreadyDone(ctx, msg) {
		logger.Debug("skipping redelivered batch")
		return core.CompletionReport{JobID: msg.JobID, BatchID: msg.BatchID}, ErrBatchSkipped
	}

	report := core.CompletionReport{JobID: msg.JobID, BatchID: msg.BatchID}
	for i, block := range msg.Blocks {
		units, err := chunking.Segment(block, msg.Mode)
		if err != nil {
			logger.Error("error segmenting block", "block", msg.Start+i, "err", err)
			report.FailedBlocks++
			continue
		}
		created, err := w.assembler.Assemble(ctx, msg.DocumentID, msg.Policy, units)
		report.ChunksCreated += created
		if err != nil {
			logger.Error("error assembling block", "block", msg.Start+i, "committed", created, "err", err)
			report.FailedBlocks++
		}
	}

	err := w.opts.retry.Do(ctx, func() error {
		return w.reporter.Report(ctx, report)
	})
	if err != nil {
		return report, fmt.Errorf("reporting batch %d: %w", msg.BatchID, err)
	}
	logger.Debug("batch processed", "chunks", report.ChunksCreated, "failed_blocks", report.FailedBlocks)
	return report, nil
}

func (w *Worker) alreadyDone(ctx context.Context, msg *core.BatchMessage) bool {
	if w.jobs == nil {
		return false
	}
	job, err := w.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return false
	}
	return job.IsBatchDone(msg.BatchID)
}

// Handle decodes and processes a queue message. Poison messages are
// acknowledged so they are not redelivered forever.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) error {
	batch, err := queue.DecodeBatch(msg.Value)
	if err == nil {
		_, err = w.Process(ctx, batch)
	}
	switch {
	case err == nil, errors.Is(err, ErrBatchSkipped):
		return nil
	case core.IsPermanent(err):
		w.logger.Error("dropping batch message", "err", err)
		return nil
	default:
		return err
	}
}

// TriggerResult counts the messages of one trigger invocation. Dropped
// messages were invalid and will never succeed; Failed messages hit a
// transient error and should be redelivered.
type TriggerResult struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Dropped   int `json:"dropped"`
	Failed    int `json:"failed"`
}

// Retryable reports whether any message of the invocation should be
// delivered again.
func (r TriggerResult) Retryable() bool {
	return r.Failed > 0
}

// triggerEvent is the body of a message-queue trigger invocation. Each
// message carries the batch JSON either in details.message.body or in data.
type triggerEvent struct {
	Messages []struct {
		Details struct {
			Message struct {
				Body string `json:"body"`
			} `json:"message"`
		} `json:"details"`
		Data string `json:"data"`
	} `json:"messages"`
	Data string `json:"data"`
}

// HandleTrigger processes every batch message in a trigger event. Messages
// are processed in order. Failures are counted, not returned; an error is
// returned only when the event itself cannot be parsed. Callers must not
// acknowledge the event when the result is Retryable.
func (w *Worker) HandleTrigger(ctx context.Context, event []byte) (TriggerResult, error) {
	var ev triggerEvent
	if err := json.Unmarshal(event, &ev); err != nil {
		return TriggerResult{}, fmt.Errorf("%w: trigger event: %w", core.ErrInvalidBatch, err)
	}

	var bodies []string
	for _, m := range ev.Messages {
		switch {
		case m.Details.Message.Body != "":
			bodies = append(bodies, m.Details.Message.Body)
		case m.Data != "":
			bodies = append(bodies, m.Data)
		default:
			w.logger.Warn("trigger message has no body")
		}
	}
	if ev.Data != "" {
		bodies = append(bodies, ev.Data)
	}

	var res TriggerResult
	for _, body := range bodies {
		batch, err := queue.DecodeBatch([]byte(body))
		if err == nil {
			_, err = w.Process(ctx, batch)
		}
		switch {
		case err == nil:
			res.Processed++
		case errors.Is(err, ErrBatchSkipped):
			res.Skipped++
		case core.IsPermanent(err):
			w.logger.Error("dropping trigger message", "err", err)
			res.Dropped++
		default:
			w.logger.Error("error processing trigger message", "err", err)
			res.Failed++
		}
	}
	return res, nil
}
