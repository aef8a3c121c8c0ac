package badger

import "github.com/poiesic/installment/storage"

// Store bundles the BadgerDB repositories sharing one backend.
type Store struct {
	backend       *Backend
	documents     *DocumentRepository
	jobs          *JobRepository
	cursors       *CursorRepository
	subscriptions *SubscriptionRepository
}

var _ storage.Store = (*Store)(nil)

// NewStore opens a BadgerDB store in the directory at filePath.
func NewStore(filePath string) (*Store, error) {
	backend, err := OpenBackend(filePath, false)
	if err != nil {
		return nil, err
	}
	return newStore(backend), nil
}

func newStore(backend *Backend) *Store {
	return &Store{
		backend:       backend,
		documents:     NewDocumentRepository(backend),
		jobs:          NewJobRepository(backend),
		cursors:       NewCursorRepository(backend),
		subscriptions: NewSubscriptionRepository(backend),
	}
}

func (s *Store) Documents() storage.DocumentRepository { return s.documents }

func (s *Store) Chunks() storage.ChunkRepository { return s.documents }

func (s *Store) Jobs() storage.JobRepository { return s.jobs }

func (s *Store) Cursors() storage.CursorRepository { return s.cursors }

func (s *Store) Subscriptions() storage.SubscriptionRepository { return s.subscriptions }

// Backend exposes the underlying BadgerDB backend.
func (s *Store) Backend() *Backend { return s.backend }

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
