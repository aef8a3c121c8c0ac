package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/storage"
)

// SubscriptionRepository implements storage.SubscriptionRepository for BadgerDB.
type SubscriptionRepository struct {
	backend *Backend
}

var _ storage.SubscriptionRepository = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a new SubscriptionRepository.
func NewSubscriptionRepository(backend *Backend) *SubscriptionRepository {
	return &SubscriptionRepository{
		backend: backend,
	}
}

// Subscribe creates or replaces a subscription.
func (r *SubscriptionRepository) Subscribe(ctx context.Context, sub *core.Subscription) error {
	if err := core.ValidateSlot(sub.Slot); err != nil {
		return err
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		sub.UpdatedAt = time.Now().UTC()
		return tx.Set(makeSubscriptionKey(sub.ReaderID, sub.DocumentID), storage.MarshalSubscription(sub))
	})
}

// Disable turns a subscription off.
func (r *SubscriptionRepository) Disable(ctx context.Context, readerID string, docID core.ID) error {
	key := makeSubscriptionKey(readerID, docID)
	return r.backend.Update(func(tx *badger.Txn) error {
		sub, err := get(tx, key, storage.UnmarshalSubscription)
		if errors.Is(err, storage.ErrNotFound) {
			return errNoop
		}
		if err != nil {
			return err
		}
		if !sub.Enabled {
			return errNoop
		}
		sub.Enabled = false
		sub.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalSubscription(sub))
	})
}

// GetSubscription retrieves the subscription for (reader, document).
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, readerID string, docID core.ID) (*core.Subscription, error) {
	var result *core.Subscription
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = get(tx, makeSubscriptionKey(readerID, docID), storage.UnmarshalSubscription)
		return err
	}, false)
	return result, err
}

// ListDue scans subscriptions and returns the enabled ones for slot.
func (r *SubscriptionRepository) ListDue(ctx context.Context, slot string) ([]*core.Subscription, error) {
	var results []*core.Subscription
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		prefix := makeSubscriptionPrefix()
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var sub *core.Subscription
			err := iter.Item().Value(func(val []byte) error {
				var err error
				sub, err = storage.UnmarshalSubscription(val)
				return err
			})
			if err != nil {
				return err
			}
			if sub.Enabled && sub.Slot == slot {
				results = append(results, sub)
			}
		}
		return nil
	}, false)
	return results, err
}
