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

package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// DocumentRepository implements storage.DocumentRepository and
// storage.ChunkRepository for BadgerDB. The document record carries the
// chunk counter, so appends for one document serialize on that key.
type DocumentRepository struct {
	backend *Backend
}

var (
	_ storage.DocumentRepository = (*DocumentRepository)(nil)
	_ storage.ChunkRepository    = (*DocumentRepository)(nil)
)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
	}
}

// GetOrCreateDocument finds or creates a document by title.
func (r *DocumentRepository) GetOrCreateDocument(ctx context.Context, title string) (*core.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, core.ErrEmptyTitle
	}

	id := core.DocumentIDFromTitle(title)
	key := makeDocumentKey(id)

	var result *core.Document
	err := r.backend.Update(func(tx *badger.Txn) error {
		doc, err := get(tx, key, storage.UnmarshalDocument)
		if err == nil {
			result = doc
			return errNoop
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		// Concurrent creators conflict on this key and replay into the
		// branch above.
		doc = &core.Document{
			ID:        id,
			Title:     title,
			CreatedAt: time.Now().UTC(),
		}
		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeDocumentKey(id), storage.UnmarshalDocument)
		return err
	}, false)
	return result, err
}

// AppendChunk stores text at the document's next index.
func (r *DocumentRepository) AppendChunk(ctx context.Context, docID core.ID, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	docKey := makeDocumentKey(docID)
	index := -1
	err := r.backend.Update(func(tx *badger.Txn) error {
		doc, err := get(tx, docKey, storage.UnmarshalDocument)
		if err != nil {
			return err
		}

		chunkKey := makeChunkKey(docID, doc.ChunkCount)
		if _, err := tx.Get(chunkKey); err == nil {
			return fmt.Errorf("%w: document %d index %d", core.ErrIndexConflict, docID, doc.ChunkCount)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		chunk := &core.Chunk{DocumentID: docID, Index: doc.ChunkCount, Text: text}
		if err := tx.Set(chunkKey, storage.MarshalChunk(chunk)); err != nil {
			return err
		}
		doc.ChunkCount++
		if err := tx.Set(docKey, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		index = chunk.Index
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// GetChunk retrieves the chunk at index.
func (r *DocumentRepository) GetChunk(ctx context.Context, docID core.ID, index int) (*core.Chunk, error) {
	if index < 0 {
		return nil, storage.ErrNotFound
	}
	var result *core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeChunkKey(docID, index), storage.UnmarshalChunk)
		return err
	}, false)
	return result, err
}

// GetChunkCount returns the number of chunks appended to the document.
func (r *DocumentRepository) GetChunkCount(ctx context.Context, docID core.ID) (int, error) {
	doc, err := r.GetDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	return doc.ChunkCount, nil
}
