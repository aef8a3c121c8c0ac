package ingestion

import (
	"context"
	"log/slog"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/queue"
)

// Reporter delivers a worker's completion report to the coordinator.
type Reporter interface {
	Report(ctx context.Context, report core.CompletionReport) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, report core.CompletionReport) error

// Report calls f(ctx, report).
func (f ReporterFunc) Report(ctx context.Context, report core.CompletionReport) error {
	return f(ctx, report)
}

// QueueReporter publishes reports on queue.TopicCompletions for a
// coordinator running in another process.
type QueueReporter struct {
	publisher queue.Publisher
}

// NewQueueReporter creates a QueueReporter.
func NewQueueReporter(publisher queue.Publisher) (*QueueReporter, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	return &QueueReporter{publisher: publisher}, nil
}

// Report publishes report.
func (r *QueueReporter) Report(ctx context.Context, report core.CompletionReport) error {
	msg, err := queue.EncodeCompletion(&report)
	if err != nil {
		return err
	}
	_, err = r.publisher.Publish(ctx, msg)
	return err
}

// CompletionHandler feeds completion messages to a Coordinator. Malformed
// messages and reports for unknown jobs or batches are acknowledged and
// dropped.
type CompletionHandler struct {
	coordinator *Coordinator
	logger      *slog.Logger
}

var _ queue.Handler = (*CompletionHandler)(nil)

// NewCompletionHandler creates a CompletionHandler.
func NewCompletionHandler(coordinator *Coordinator) (*CompletionHandler, error) {
	if coordinator == nil {
		return nil, ErrCoordinatorRequired
	}
	return &CompletionHandler{
		coordinator: coordinator,
		logger:      coordinator.opts.logger.With("component", "completion-handler"),
	}, nil
}

// Handle decodes msg and records the report.
func (h *CompletionHandler) Handle(ctx context.Context, msg queue.Message) error {
	report, err := queue.DecodeCompletion(msg.Value)
	if err == nil {
		err = h.coordinator.OnBatchComplete(ctx, *report)
	}
	if err != nil && core.IsPermanent(err) {
		h.logger.Error("dropping completion message", "err", err)
		return nil
	}
	return err
}
