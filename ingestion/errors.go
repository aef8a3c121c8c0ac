package ingestion

import "errors"

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrPublisherRequired is returned when a queue publisher is not provided.
	ErrPublisherRequired = errors.New("queue publisher required")

	// ErrAssemblerRequired is returned when a chunk assembler is not provided.
	ErrAssemblerRequired = errors.New("chunk assembler required")

	// ErrReporterRequired is returned when a completion reporter is not provided.
	ErrReporterRequired = errors.New("completion reporter required")

	// ErrConsumerRequired is returned when a queue consumer is not provided.
	ErrConsumerRequired = errors.New("queue consumer required")

	// ErrHandlerRequired is returned when a message handler is not provided.
	ErrHandlerRequired = errors.New("message handler required")

	// ErrCoordinatorRequired is returned when a coordinator is not provided.
	ErrCoordinatorRequired = errors.New("coordinator required")

	// ErrDispatchIncomplete is returned by Start when some batches could not
	// be published. The job exists and the failed batches are recorded on it.
	ErrDispatchIncomplete = errors.New("batch dispatch incomplete")

	// ErrBatchSkipped is returned by Worker.Process for a batch whose
	// completion was already recorded.
	ErrBatchSkipped = errors.New("batch already completed")

	// ErrIngestionInProgress is returned by Start when the document already
	// has a processing job.
	ErrIngestionInProgress = errors.New("ingestion already in progress for document")
)
