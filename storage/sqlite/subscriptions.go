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

// subscriptionStore implements storage.SubscriptionRepository.
type subscriptionStore struct {
	store *Store
}

var _ storage.SubscriptionRepository = (*subscriptionStore)(nil)

func (s *subscriptionStore) Subscribe(ctx context.Context, sub *core.Subscription) error {
	if err := core.ValidateSlot(sub.Slot); err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO subscriptions (reader_id, document_id, slot, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(reader_id, document_id) DO UPDATE SET
			slot = excluded.slot,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, sub.ReaderID, dbID(sub.DocumentID), sub.Slot, boolInt(sub.Enabled), dbTime(sub.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upserting subscription: %w", classify(err))
	}
	return nil
}

func (s *subscriptionStore) Disable(ctx context.Context, readerID string, docID core.ID) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE subscriptions SET enabled = 0, updated_at = ?
		WHERE reader_id = ? AND document_id = ? AND enabled = 1
	`, dbTime(time.Now().UTC()), readerID, dbID(docID))
	if err != nil {
		return fmt.Errorf("disabling subscription: %w", classify(err))
	}
	return nil
}

func (s *subscriptionStore) GetSubscription(ctx context.Context, readerID string, docID core.ID) (*core.Subscription, error) {
	var (
		sub       core.Subscription
		enabled   int
		updatedAt int64
	)
	err := s.store.db.QueryRowContext(ctx, `
		SELECT slot, enabled, updated_at FROM subscriptions
		WHERE reader_id = ? AND document_id = ?
	`, readerID, dbID(docID)).Scan(&sub.Slot, &enabled, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning subscription: %w", classify(err))
	}
	sub.ReaderID = readerID
	sub.DocumentID = docID
	sub.Enabled = enabled != 0
	sub.UpdatedAt = coreTime(updatedAt)
	return &sub, nil
}

func (s *subscriptionStore) ListDue(ctx context.Context, slot string) ([]*core.Subscription, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT reader_id, document_id, updated_at FROM subscriptions
		WHERE slot = ? AND enabled = 1
		ORDER BY reader_id, document_id
	`, slot)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", classify(err))
	}
	defer rows.Close()

	var results []*core.Subscription
	for rows.Next() {
		var (
			sub       core.Subscription
			docID     int64
			updatedAt int64
		)
		if err := rows.Scan(&sub.ReaderID, &docID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.DocumentID = coreID(docID)
		sub.Slot = slot
		sub.Enabled = true
		sub.UpdatedAt = coreTime(updatedAt)
		results = append(results, &sub)
	}
	return results, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
