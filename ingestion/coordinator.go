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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/notify"
	"github.com/poiesic/installment/queue"
	"github.com/poiesic/installment/storage"
)

// Selector makes a document the reader's active one, creating or resuming
// its cursor. reading.Reader satisfies it.
type Selector interface {
	SelectDocument(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error)
}

// IngestRequest describes a document to ingest.
type IngestRequest struct {
	Title        string
	Blocks       []string
	Mode         core.Mode   // Default core.ModeBySense
	Policy       core.Policy // Default core.PolicySize
	ReaderID     string      // Reader to select the document for once complete; optional
	NotifyTarget string      // Where progress messages go; optional
}

// Coordinator starts ingestion jobs and records batch completions. It keeps
// no job state in memory, so any number of Coordinators may serve the same
// stores concurrently.
type Coordinator struct {
	docs      storage.DocumentRepository
	jobs      storage.JobRepository
	publisher queue.Publisher
	notifier  notify.Notifier
	selector  Selector
	opts      options
	logger    *slog.Logger
}

var _ Reporter = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator. notifier and selector may be nil,
// which disables notifications and reader selection respectively.
func NewCoordinator(
	docs storage.DocumentRepository,
	jobs storage.JobRepository,
	publisher queue.Publisher,
	notifier notify.Notifier,
	selector Selector,
	opts ...Option,
) (*Coordinator, error) {
	if docs == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	if notifier == nil {
		notifier = notify.Discard
	}

	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		docs:      docs,
		jobs:      jobs,
		publisher: publisher,
		notifier:  notifier,
		selector:  selector,
		opts:      o,
		logger:    o.logger.With("component", "coordinator"),
	}, nil
}

// Start validates req, persists a job and dispatches its batches. It returns
// without waiting for any batch. When some batches could not be published
// the job id is returned together with an error wrapping
// ErrDispatchIncomplete.
func (c *Coordinator) Start(ctx context.Context, req IngestRequest) (string, error) {
	blocks, err := normalizeRequest(&req)
	if err != nil {
		return "", err
	}

	var doc *core.Document
	err = c.opts.retry.Do(ctx, func() error {
		var err error
		doc, err = c.docs.GetOrCreateDocument(ctx, req.Title)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("registering document: %w", err)
	}

	batches := Partition(len(blocks), c.opts.batchSize)
	job := &core.Job{
		ID:           uuid.NewString(),
		DocumentID:   doc.ID,
		Title:        doc.Title,
		ReaderID:     req.ReaderID,
		NotifyTarget: req.NotifyTarget,
		Mode:         req.Mode,
		Policy:       req.Policy,
		Batches:      batches,
		TotalBatches: len(batches),
	}
	if err := c.jobs.CreateJob(ctx, job); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return "", fmt.Errorf("%w: %q", ErrIngestionInProgress, doc.Title)
		}
		return "", fmt.Errorf("creating job: %w", err)
	}

	logger := c.logger.With("job", job.ID, "document", doc.ID)
	logger.Info("ingestion started", "blocks", len(blocks), "batches", job.TotalBatches)
	c.notify(ctx, job, startedText(job, len(blocks)))

	var failed []int
	for _, batch := range batches {
		if err := c.dispatch(ctx, job, batch, blocks[batch.Start:batch.End]); err != nil {
			logger.Error("error dispatching batch", "batch", batch.ID, "err", err)
			failed = append(failed, batch.ID)
		}
	}
	if len(failed) > 0 {
		return job.ID, fmt.Errorf("%w: %d of %d batches failed (%v)",
			ErrDispatchIncomplete, len(failed), job.TotalBatches, failed)
	}
	return job.ID, nil
}

// normalizeRequest applies defaults, validates, and returns the non-blank blocks.
func normalizeRequest(req *IngestRequest) ([]string, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, core.ErrEmptyTitle)
	}
	if req.Mode == "" {
		req.Mode = core.ModeBySense
	}
	if req.Policy == "" {
		req.Policy = core.PolicySize
	}
	if err := core.ValidateMode(req.Mode); err != nil {
		return nil, err
	}
	if err := core.ValidatePolicy(req.Policy); err != nil {
		return nil, err
	}

	blocks := make([]string, 0, len(req.Blocks))
	for _, b := range req.Blocks {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, core.ErrNoBlocks)
	}
	return blocks, nil
}

// dispatch retains the batch's blocks and publishes its message, retrying
// both. A batch that still fails is marked failed on the job.
func (c *Coordinator) dispatch(ctx context.Context, job *core.Job, batch core.BatchRef, blocks []string) error {
	err := c.opts.retry.Do(ctx, func() error {
		return c.jobs.SaveBatchBlocks(ctx, job.ID, batch.ID, blocks)
	})
	if err == nil {
		var msg queue.Message
		msg, err = queue.EncodeBatch(&core.BatchMessage{
			JobID:        job.ID,
			BatchID:      batch.ID,
			DocumentID:   job.DocumentID,
			Blocks:       blocks,
			Start:        batch.Start,
			End:          batch.End,
			Mode:         job.Mode,
			Policy:       job.Policy,
			NotifyTarget: job.NotifyTarget,
		})
		if err == nil {
			err = c.opts.retry.Do(ctx, func() error {
				_, err := c.publisher.Publish(ctx, msg)
				return err
			})
		}
	}
	if err == nil {
		return nil
	}

	if markErr := c.jobs.MarkBatchFailed(context.WithoutCancel(ctx), job.ID, batch.ID); markErr != nil {
		c.logger.Error("error marking batch failed", "job", job.ID, "batch", batch.ID, "err", markErr)
	}
	return err
}

// Report records a completion. It makes the Coordinator usable as the
// in-process Reporter of a Worker.
func (c *Coordinator) Report(ctx context.Context, report core.CompletionReport) error {
	return c.OnBatchComplete(ctx, report)
}

// OnBatchComplete records report on its job. Duplicate reports are logged
// and ignored. The caller whose report completes the job finalizes it; every
// other caller at most sends a progress notification.
func (c *Coordinator) OnBatchComplete(ctx context.Context, report core.CompletionReport) error {
	if err := core.ValidateCompletionReport(&report); err != nil {
		return err
	}

	var (
		job   *core.Job
		added bool
	)
	err := c.opts.retry.Do(ctx, func() error {
		var err error
		job, added, err = c.jobs.MarkBatchDone(ctx, report)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", core.ErrJobNotFound, report.JobID)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("recording completion of batch %d: %w", report.BatchID, err)
	}

	logger := c.logger.With("job", job.ID, "batch", report.BatchID)
	if !added {
		logger.Debug("ignoring completion report", "reason", core.ErrDuplicateCompletion)
		return nil
	}
	logger.Debug("batch completed", "chunks", report.ChunksCreated,
		"completed", len(job.Completed), "total", job.TotalBatches)

	if job.Status != core.JobProcessing {
		// Abandoned jobs keep recording completions, silently.
		return nil
	}
	if job.AllBatchesDone() {
		return c.complete(ctx, job)
	}
	if c.opts.progress {
		c.notify(ctx, job, progressText(len(job.Completed), job.TotalBatches))
	}
	return nil
}

// complete moves a fully reported job to completed. Only the caller that
// wins the transition selects the document and notifies.
func (c *Coordinator) complete(ctx context.Context, job *core.Job) error {
	won, err := c.transition(ctx, job.ID, core.JobProcessing, core.JobCompleted)
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	if !won {
		return nil
	}
	job.Status = core.JobCompleted

	logger := c.logger.With("job", job.ID, "document", job.DocumentID)
	logger.Info("ingestion finished", "chunks", job.ChunksCreated, "failed_blocks", job.FailedBlocks)

	var selectErr error
	if c.selector != nil && job.ReaderID != "" {
		selectErr = c.opts.retry.Do(ctx, func() error {
			_, err := c.selector.SelectDocument(ctx, job.ReaderID, job.DocumentID)
			return err
		})
		if selectErr != nil {
			logger.Error("error selecting document for reader", "reader", job.ReaderID, "err", selectErr)
		}
	}
	c.notify(ctx, job, finishedText(job))
	if selectErr != nil {
		return fmt.Errorf("selecting document for %s: %w", job.ReaderID, selectErr)
	}
	return nil
}

// Abandon moves a processing job to abandoned and sends one failure
// notification. It returns false when the job was no longer processing.
// Batches already dispatched still run; their reports are recorded silently.
func (c *Coordinator) Abandon(ctx context.Context, jobID, reason string) (bool, error) {
	job, err := c.Status(ctx, jobID)
	if err != nil {
		return false, err
	}
	return c.abandon(ctx, job, reason)
}

func (c *Coordinator) abandon(ctx context.Context, job *core.Job, reason string) (bool, error) {
	won, err := c.transition(ctx, job.ID, core.JobProcessing, core.JobAbandoned)
	if err != nil || !won {
		return false, err
	}
	job.Status = core.JobAbandoned
	c.logger.Warn("ingestion abandoned", "job", job.ID, "reason", reason)
	c.notify(ctx, job, abandonedText(job, reason))
	return true, nil
}

// Status returns the job record.
func (c *Coordinator) Status(ctx context.Context, jobID string) (*core.Job, error) {
	job, err := c.jobs.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, jobID)
	}
	return job, err
}

func (c *Coordinator) transition(ctx context.Context, jobID string, from, to core.JobStatus) (bool, error) {
	var won bool
	err := c.opts.retry.Do(ctx, func() error {
		var err error
		won, err = c.jobs.TryTransitionStatus(ctx, jobID, from, to)
		return err
	})
	return won, err
}

// notify sends a best-effort notification for job.
func (c *Coordinator) notify(ctx context.Context, job *core.Job, text string) {
	if job.NotifyTarget == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.notifyTimeout)
	defer cancel()
	if err := c.notifier.Notify(ctx, job.NotifyTarget, text); err != nil {
		c.logger.Warn("error sending notification", "job", job.ID, "target", job.NotifyTarget, "err", err)
	}
}
