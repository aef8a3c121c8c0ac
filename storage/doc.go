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

// Package storage provides the storage abstraction layer for installment.
//
// The repository interfaces decouple the ingestion and reading services from
// the backend that persists documents, chunks, jobs, cursors and
// subscriptions. Two backends are provided:
//
//   - storage/badger: embedded BadgerDB, optimistic transactions retried on
//     conflict
//   - storage/sqlite: SQLite through modernc.org/sqlite, conditional updates
//
// # Atomicity
//
// Ingestion workers run concurrently against the same document and the same
// job, so three operations must be atomic in every backend:
//
//   - ChunkRepository.AppendChunk allocates the next chunk index and writes
//     the chunk in one step
//   - JobRepository.MarkBatchDone adds a batch to the completed set only once
//   - JobRepository.TryTransitionStatus and CursorRepository.Advance are
//     compare-and-set operations
//
// # Usage
//
//	store, err := badger.NewStore("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
