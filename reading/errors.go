package reading

import (
	"errors"
	"fmt"

	"github.com/poiesic/installment/core"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrCursorRepositoryRequired is returned when a cursor repository is not provided.
	ErrCursorRepositoryRequired = errors.New("cursor repository required")

	// ErrSubscriptionRepositoryRequired is returned when a subscription repository is not provided.
	ErrSubscriptionRepositoryRequired = errors.New("subscription repository required")

	// ErrReaderRequired is returned when a Scheduler is built without a Reader.
	ErrReaderRequired = errors.New("reader required")

	// ErrNotifierRequired is returned when a Scheduler is built without a notifier.
	ErrNotifierRequired = errors.New("notifier required")

	// ErrInvalidReaderID is returned for an empty reader id.
	ErrInvalidReaderID = fmt.Errorf("%w: reader id cannot be empty", core.ErrPermanentInput)

	// ErrAdvanceContended is returned when the cursor kept moving under
	// NextChunk for every attempt.
	ErrAdvanceContended = fmt.Errorf("%w: cursor advance contended", core.ErrTransientStore)
)
