package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// documentStore implements storage.DocumentRepository and storage.ChunkRepository.
type documentStore struct {
	store *Store
}

var (
	_ storage.DocumentRepository = (*documentStore)(nil)
	_ storage.ChunkRepository    = (*documentStore)(nil)
)

// GetOrCreateDocument inserts the document unless it exists, then reads it.
func (s *documentStore) GetOrCreateDocument(ctx context.Context, title string) (*core.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, core.ErrEmptyTitle
	}
	id := core.DocumentIDFromTitle(title)

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, chunk_count, created_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, dbID(id), title, dbTime(time.Now().UTC()))
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", classify(err))
	}
	return s.GetDocument(ctx, id)
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, title, chunk_count, created_at FROM documents WHERE id = ?
	`, dbID(id))

	var doc core.Document
	var rawID, createdAt int64
	if err := row.Scan(&rawID, &doc.Title, &doc.ChunkCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", classify(err))
	}
	doc.ID = coreID(rawID)
	doc.CreatedAt = coreTime(createdAt)
	return &doc, nil
}

// AppendChunk bumps the counter and inserts the chunk in one transaction.
func (s *documentStore) AppendChunk(ctx context.Context, docID core.ID, text string) (int, error) {
	var index int
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		err := tx.QueryRowContext(ctx, `
			UPDATE documents SET chunk_count = chunk_count + 1
			WHERE id = ?
			RETURNING chunk_count
		`, dbID(docID)).Scan(&count)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("allocating chunk index: %w", classify(err))
		}

		index = count - 1
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (document_id, idx, text) VALUES (?, ?, ?)
		`, dbID(docID), index, text)
		if err != nil {
			err = classify(err)
			if errors.Is(err, storage.ErrDuplicateKey) {
				return fmt.Errorf("%w: document %d index %d", core.ErrIndexConflict, docID, index)
			}
			return fmt.Errorf("inserting chunk: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// GetChunk retrieves the chunk at index.
func (s *documentStore) GetChunk(ctx context.Context, docID core.ID, index int) (*core.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT text FROM chunks WHERE document_id = ? AND idx = ?
	`, dbID(docID), index)

	chunk := core.Chunk{DocumentID: docID, Index: index}
	if err := row.Scan(&chunk.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scanning chunk: %w", classify(err))
	}
	return &chunk, nil
}

// GetChunkCount returns the document's chunk counter.
func (s *documentStore) GetChunkCount(ctx context.Context, docID core.ID) (int, error) {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	return doc.ChunkCount, nil
}
