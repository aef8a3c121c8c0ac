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

package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/retry"
	"github.com/poiesic/installment/storage"
)

// EndOfDocument is the text of the Delivery returned past the last chunk.
const EndOfDocument = "---THE END---"

// Delivery is the result of one NextChunk call.
type Delivery struct {
	DocumentID core.ID `json:"document_id"`
	Index      int     `json:"index"`
	Total      int     `json:"total"`
	Text       string  `json:"text"`
	Finished   bool    `json:"finished"`
}

// Position describes where a reader is in a document.
type Position struct {
	DocumentID core.ID `json:"document_id"`
	Title      string  `json:"title"`
	Index      int     `json:"index"`
	Total      int     `json:"total"`
	Finished   bool    `json:"finished"`
	Active     bool    `json:"active"`
}

// Reader moves per-reader cursors through stored chunks.
// Thread-safe: calls for the same reader and document are serialized.
type Reader struct {
	docs    storage.DocumentRepository
	chunks  storage.ChunkRepository
	cursors storage.CursorRepository
	subs    storage.SubscriptionRepository

	locks           *keyedMutex
	retry           retry.Policy
	advanceAttempts int
	logger          *slog.Logger
}

// NewReader creates a Reader over the given repositories.
func NewReader(
	docs storage.DocumentRepository,
	chunks storage.ChunkRepository,
	cursors storage.CursorRepository,
	subs storage.SubscriptionRepository,
	opts ...Option,
) (*Reader, error) {
	if docs == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if cursors == nil {
		return nil, ErrCursorRepositoryRequired
	}
	if subs == nil {
		return nil, ErrSubscriptionRepositoryRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Reader{
		docs:            docs,
		chunks:          chunks,
		cursors:         cursors,
		subs:            subs,
		locks:           newKeyedMutex(),
		retry:           o.retry,
		advanceAttempts: o.advanceAttempts,
		logger:          o.logger.With("component", "reader"),
	}, nil
}

// SelectDocument makes docID the reader's active document. A stored cursor
// is resumed; otherwise reading starts at chunk 0.
func (r *Reader) SelectDocument(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	if err := validateReader(readerID); err != nil {
		return nil, err
	}
	if _, err := r.document(ctx, docID); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(lockKey(readerID, docID))
	defer unlock()

	var cursor *core.Cursor
	err := r.do(ctx, func() error {
		var err error
		cursor, err = r.cursors.Activate(ctx, readerID, docID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("activating document: %w", err)
	}
	r.logger.Debug("document selected", "reader", readerID, "document", docID, "index", cursor.NextIndex)
	return cursor, nil
}

// ActiveDocument returns the reader's active document.
// Returns core.ErrNoActiveDocument if none was selected.
func (r *Reader) ActiveDocument(ctx context.Context, readerID string) (core.ID, error) {
	if err := validateReader(readerID); err != nil {
		return 0, err
	}
	var docID core.ID
	err := r.do(ctx, func() error {
		var err error
		docID, err = r.cursors.GetActive(ctx, readerID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return 0, core.ErrNoActiveDocument
	}
	if err != nil {
		return 0, fmt.Errorf("loading active document: %w", err)
	}
	return docID, nil
}

// NextChunk returns the chunk at the reader's cursor and advances the
// cursor past it. Past the last chunk it returns a Delivery with Finished
// set and Text EndOfDocument; the first such call disables the reader's
// subscription to the document.
//
// A chunk missing below the document's chunk count is reported as
// core.ErrMissingChunk and leaves the cursor in place.
func (r *Reader) NextChunk(ctx context.Context, readerID string) (*Delivery, error) {
	docID, err := r.ActiveDocument(ctx, readerID)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(lockKey(readerID, docID))
	defer unlock()

	logger := r.logger.With("reader", readerID, "document", docID)
	for attempt := 1; attempt <= r.advanceAttempts; attempt++ {
		cursor, err := r.cursor(ctx, readerID, docID)
		if err != nil {
			return nil, err
		}
		total, err := r.count(ctx, docID)
		if err != nil {
			return nil, err
		}

		i := cursor.NextIndex
		chunk, err := r.chunk(ctx, docID, i)
		if errors.Is(err, storage.ErrNotFound) {
			if i < total {
				logger.Error("chunk missing below chunk count", "index", i, "total", total)
				return nil, fmt.Errorf("%w: document %d index %d of %d", core.ErrMissingChunk, docID, i, total)
			}
			return r.finish(ctx, cursor, total)
		}
		if err != nil {
			return nil, err
		}

		var advanced bool
		err = r.do(ctx, func() error {
			var err error
			advanced, err = r.cursors.Advance(ctx, readerID, docID, i, i+1)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("advancing cursor: %w", err)
		}
		if advanced {
			return &Delivery{DocumentID: docID, Index: i, Total: total, Text: chunk.Text}, nil
		}
		logger.Debug("cursor moved concurrently, retrying", "index", i, "attempt", attempt)
	}
	return nil, ErrAdvanceContended
}

// finish returns the end-of-document delivery. Flagging the cursor is a
// compare-and-set in the store, and only the caller that set the flag
// disables the subscription, so the disable fires once across every Reader
// sharing the store.
func (r *Reader) finish(ctx context.Context, cursor *core.Cursor, total int) (*Delivery, error) {
	d := &Delivery{DocumentID: cursor.DocumentID, Index: cursor.NextIndex, Total: total, Text: EndOfDocument, Finished: true}
	if cursor.Finished {
		return d, nil
	}

	var won bool
	err := r.do(ctx, func() error {
		var err error
		won, err = r.cursors.MarkFinished(ctx, cursor.ReaderID, cursor.DocumentID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("marking cursor finished: %w", err)
	}
	if !won {
		return d, nil
	}

	logger := r.logger.With("reader", cursor.ReaderID, "document", cursor.DocumentID)
	err = r.do(ctx, func() error {
		return r.subs.Disable(ctx, cursor.ReaderID, cursor.DocumentID)
	})
	if err != nil {
		logger.Error("error disabling subscription of finished document", "err", err)
		return nil, fmt.Errorf("disabling subscription: %w", err)
	}
	logger.Info("document finished", "chunks", total)
	return d, nil
}

// Position reports the reader's place in its active document.
func (r *Reader) Position(ctx context.Context, readerID string) (*Position, error) {
	docID, err := r.ActiveDocument(ctx, readerID)
	if err != nil {
		return nil, err
	}
	doc, err := r.document(ctx, docID)
	if err != nil {
		return nil, err
	}
	cursor, err := r.cursor(ctx, readerID, docID)
	if err != nil {
		return nil, err
	}
	return &Position{
		DocumentID: docID,
		Title:      doc.Title,
		Index:      cursor.NextIndex,
		Total:      doc.ChunkCount,
		Finished:   cursor.Finished,
		Active:     true,
	}, nil
}

// Documents lists every document the reader has selected with the reader's
// progress in it, ordered by document id. A document whose record is gone is
// left out.
func (r *Reader) Documents(ctx context.Context, readerID string) ([]Position, error) {
	if err := validateReader(readerID); err != nil {
		return nil, err
	}
	var cursors []*core.Cursor
	err := r.do(ctx, func() error {
		var err error
		cursors, err = r.cursors.ListByReader(ctx, readerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", err)
	}

	active, err := r.ActiveDocument(ctx, readerID)
	if err != nil && !errors.Is(err, core.ErrNoActiveDocument) {
		return nil, err
	}

	positions := make([]Position, 0, len(cursors))
	for _, cursor := range cursors {
		doc, err := r.document(ctx, cursor.DocumentID)
		if errors.Is(err, core.ErrDocumentNotFound) {
			r.logger.Warn("cursor without document", "reader", readerID, "document", cursor.DocumentID)
			continue
		}
		if err != nil {
			return nil, err
		}
		positions = append(positions, Position{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Index:      cursor.NextIndex,
			Total:      doc.ChunkCount,
			Finished:   cursor.Finished,
			Active:     doc.ID == active,
		})
	}
	return positions, nil
}

func (r *Reader) document(ctx context.Context, docID core.ID) (*core.Document, error) {
	var doc *core.Document
	err := r.do(ctx, func() error {
		var err error
		doc, err = r.docs.GetDocument(ctx, docID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", core.ErrDocumentNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return doc, nil
}

func (r *Reader) cursor(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	var cursor *core.Cursor
	err := r.do(ctx, func() error {
		var err error
		cursor, err = r.cursors.GetCursor(ctx, readerID, docID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, core.ErrNoActiveDocument
	}
	if err != nil {
		return nil, fmt.Errorf("loading cursor: %w", err)
	}
	return cursor, nil
}

func (r *Reader) count(ctx context.Context, docID core.ID) (int, error) {
	var total int
	err := r.do(ctx, func() error {
		var err error
		total, err = r.chunks.GetChunkCount(ctx, docID)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %d", core.ErrDocumentNotFound, docID)
	}
	if err != nil {
		return 0, fmt.Errorf("loading chunk count: %w", err)
	}
	return total, nil
}

func (r *Reader) chunk(ctx context.Context, docID core.ID, index int) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.do(ctx, func() error {
		var err error
		chunk, err = r.chunks.GetChunk(ctx, docID, index)
		return err
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("loading chunk %d: %w", index, err)
	}
	return chunk, err
}

// do runs fn under the retry policy. A missing row is an answer, not a
// failure, so storage.ErrNotFound ends the loop at once.
func (r *Reader) do(ctx context.Context, fn func() error) error {
	return r.retry.Do(ctx, func() error {
		err := fn()
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %w", core.ErrPermanentInput, err)
		}
		return err
	})
}

func validateReader(readerID string) error {
	if strings.TrimSpace(readerID) == "" {
		return ErrInvalidReaderID
	}
	return nil
}

func lockKey(readerID string, docID core.ID) string {
	return readerID + "\x00" + strconv.FormatUint(uint64(docID), 10)
}
