package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// cursorStore implements storage.CursorRepository.
type cursorStore struct {
	store *Store
}

var _ storage.CursorRepository = (*cursorStore)(nil)

func (s *cursorStore) GetCursor(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	return loadCursor(ctx, s.store.db, readerID, docID)
}

func (s *cursorStore) GetActive(ctx context.Context, readerID string) (core.ID, error) {
	var docID int64
	err := s.store.db.QueryRowContext(ctx, `
		SELECT document_id FROM active_documents WHERE reader_id = ?
	`, readerID).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("scanning active document: %w", classify(err))
	}
	return coreID(docID), nil
}

// Activate inserts the cursor if missing and points the reader at docID.
func (s *cursorStore) Activate(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	var cursor *core.Cursor
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cursors (reader_id, document_id, next_index, finished, updated_at)
			VALUES (?, ?, 0, 0, ?)
			ON CONFLICT(reader_id, document_id) DO NOTHING
		`, readerID, dbID(docID), dbTime(time.Now().UTC()))
		if err != nil {
			return fmt.Errorf("inserting cursor: %w", classify(err))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO active_documents (reader_id, document_id) VALUES (?, ?)
			ON CONFLICT(reader_id) DO UPDATE SET document_id = excluded.document_id
		`, readerID, dbID(docID))
		if err != nil {
			return fmt.Errorf("setting active document: %w", classify(err))
		}

		cursor, err = loadCursor(ctx, tx, readerID, docID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (s *cursorStore) ListByReader(ctx context.Context, readerID string) ([]*core.Cursor, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, next_index, finished, updated_at FROM cursors
		WHERE reader_id = ?
		ORDER BY document_id
	`, readerID)
	if err != nil {
		return nil, fmt.Errorf("listing cursors: %w", classify(err))
	}
	defer rows.Close()

	var results []*core.Cursor
	for rows.Next() {
		var (
			docID     int64
			finished  int
			updatedAt int64
		)
		cursor := &core.Cursor{ReaderID: readerID}
		if err := rows.Scan(&docID, &cursor.NextIndex, &finished, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", classify(err))
		}
		cursor.DocumentID = coreID(docID)
		cursor.Finished = finished != 0
		cursor.UpdatedAt = coreTime(updatedAt)
		results = append(results, cursor)
	}
	return results, rows.Err()
}

// Advance is a compare-and-set on next_index.
func (s *cursorStore) Advance(ctx context.Context, readerID string, docID core.ID, from, to int) (bool, error) {
	return s.conditionalUpdate(ctx, readerID, docID, `
		UPDATE cursors SET next_index = ?, updated_at = ?
		WHERE reader_id = ? AND document_id = ? AND next_index = ?
	`, to, dbTime(time.Now().UTC()), readerID, dbID(docID), from)
}

func (s *cursorStore) MarkFinished(ctx context.Context, readerID string, docID core.ID) (bool, error) {
	return s.conditionalUpdate(ctx, readerID, docID, `
		UPDATE cursors SET finished = 1, updated_at = ?
		WHERE reader_id = ? AND document_id = ? AND finished = 0
	`, dbTime(time.Now().UTC()), readerID, dbID(docID))
}

// conditionalUpdate runs query and reports whether it changed a row,
// distinguishing a lost race from a missing cursor.
func (s *cursorStore) conditionalUpdate(ctx context.Context, readerID string, docID core.ID, query string, args ...any) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating cursor: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	found, err := exists(ctx, s.store.db, `
		SELECT 1 FROM cursors WHERE reader_id = ? AND document_id = ?
	`, readerID, dbID(docID))
	if err != nil {
		return false, err
	}
	if !found {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func loadCursor(ctx context.Context, q querier, readerID string, docID core.ID) (*core.Cursor, error) {
	var (
		cursor    core.Cursor
		finished  int
		updatedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT next_index, finished, updated_at FROM cursors
		WHERE reader_id = ? AND document_id = ?
	`, readerID, dbID(docID)).Scan(&cursor.NextIndex, &finished, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning cursor: %w", classify(err))
	}
	cursor.ReaderID = readerID
	cursor.DocumentID = docID
	cursor.Finished = finished != 0
	cursor.UpdatedAt = coreTime(updatedAt)
	return &cursor, nil
}
