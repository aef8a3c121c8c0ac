package badger

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// CursorRepository implements storage.CursorRepository for BadgerDB.
type CursorRepository struct {
	backend *Backend
}

var _ storage.CursorRepository = (*CursorRepository)(nil)

// NewCursorRepository creates a new CursorRepository.
func NewCursorRepository(backend *Backend) *CursorRepository {
	return &CursorRepository{
		backend: backend,
	}
}

// GetCursor retrieves the cursor for (reader, document).
func (r *CursorRepository) GetCursor(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	var result *core.Cursor
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeCursorKey(readerID, docID), storage.UnmarshalCursor)
		return err
	}, false)
	return result, err
}

// GetActive returns the reader's active document.
func (r *CursorRepository) GetActive(ctx context.Context, readerID string) (core.ID, error) {
	var result core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeActiveCursorKey(readerID), storage.UnmarshalID)
		return err
	}, false)
	return result, err
}

// Activate makes docID the reader's active document.
func (r *CursorRepository) Activate(ctx context.Context, readerID string, docID core.ID) (*core.Cursor, error) {
	key := makeCursorKey(readerID, docID)
	var result *core.Cursor
	err := r.backend.Update(func(tx *badger.Txn) error {
		cursor, err := get(tx, key, storage.UnmarshalCursor)
		if errors.Is(err, storage.ErrNotFound) {
			cursor = &core.Cursor{
				ReaderID:   readerID,
				DocumentID: docID,
				UpdatedAt:  time.Now().UTC(),
			}
			if err := tx.Set(key, storage.MarshalCursor(cursor)); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		result = cursor
		return tx.Set(makeActiveCursorKey(readerID), storage.MarshalID(docID))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListByReader returns every cursor of the reader ordered by document id.
func (r *CursorRepository) ListByReader(ctx context.Context, readerID string) ([]*core.Cursor, error) {
	var results []*core.Cursor
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := makeReaderCursorPrefix(readerID)
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var cursor *core.Cursor
			err := iter.Item().Value(func(val []byte) error {
				var err error
				cursor, err = storage.UnmarshalCursor(val)
				return err
			})
			if err != nil {
				return err
			}
			if cursor.ReaderID == readerID {
				results = append(results, cursor)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(results, func(a, b *core.Cursor) int { return cmp.Compare(a.DocumentID, b.DocumentID) })
	return results, nil
}

// Advance moves the cursor if its stored index still equals from.
func (r *CursorRepository) Advance(ctx context.Context, readerID string, docID core.ID, from, to int) (bool, error) {
	var advanced bool
	err := r.mutate(readerID, docID, func(cursor *core.Cursor) bool {
		advanced = cursor.NextIndex == from
		if advanced {
			cursor.NextIndex = to
		}
		return advanced
	})
	return advanced, err
}

// MarkFinished flags the cursor as finished once.
func (r *CursorRepository) MarkFinished(ctx context.Context, readerID string, docID core.ID) (bool, error) {
	var marked bool
	err := r.mutate(readerID, docID, func(cursor *core.Cursor) bool {
		marked = !cursor.Finished
		cursor.Finished = true
		return marked
	})
	return marked, err
}

// mutate applies fn to the stored cursor inside a conflict-checked update.
func (r *CursorRepository) mutate(readerID string, docID core.ID, fn func(cursor *core.Cursor) bool) error {
	key := makeCursorKey(readerID, docID)
	return r.backend.Update(func(tx *badger.Txn) error {
		cursor, err := get(tx, key, storage.UnmarshalCursor)
		if err != nil {
			return err
		}
		if !fn(cursor) {
			return errNoop
		}
		cursor.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalCursor(cursor))
	})
}
