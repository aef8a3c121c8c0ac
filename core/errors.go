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

package core

import (
	"errors"
	"fmt"
)

// Error classes. Callers classify failures with errors.Is against these.
var (
	// ErrTransientStore indicates a store operation failed in a way that may
	// succeed if retried (lost write conflicts, busy database).
	ErrTransientStore = errors.New("transient store failure")

	// ErrPermanentInput indicates malformed input. It is never retried.
	ErrPermanentInput = errors.New("permanent input error")

	// ErrDuplicateCompletion classifies a completion report for a batch that
	// was already recorded. It is logged, never returned to callers.
	ErrDuplicateCompletion = errors.New("duplicate completion signal")

	// ErrIndexConflict indicates the store allocated a chunk index that was
	// already occupied.
	ErrIndexConflict = errors.New("chunk index conflict")

	// ErrMissingChunk indicates a chunk below the document's chunk count
	// could not be read.
	ErrMissingChunk = errors.New("missing chunk")
)

// Input validation errors. All of them wrap ErrPermanentInput.
var (
	ErrInvalidDocument = fmt.Errorf("%w: invalid document", ErrPermanentInput)
	ErrEmptyTitle      = fmt.Errorf("%w: title cannot be empty", ErrPermanentInput)
	ErrNoBlocks        = fmt.Errorf("%w: document has no text blocks", ErrPermanentInput)
	ErrInvalidMode     = fmt.Errorf("%w: invalid segmentation mode", ErrPermanentInput)
	ErrInvalidPolicy   = fmt.Errorf("%w: invalid assembly policy", ErrPermanentInput)
	ErrInvalidBatch    = fmt.Errorf("%w: invalid batch message", ErrPermanentInput)
	ErrInvalidSlot     = fmt.Errorf("%w: invalid delivery slot", ErrPermanentInput)
	ErrUnknownBatch    = fmt.Errorf("%w: unknown batch", ErrPermanentInput)
	ErrJobNotFound     = fmt.Errorf("%w: job not found", ErrPermanentInput)
)

// Reading errors.
var (
	// ErrDocumentNotFound indicates no document exists with the given id.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrNoActiveDocument indicates the reader has not selected a document.
	ErrNoActiveDocument = errors.New("no active document")
)

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentInput)
}
