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

package storage

import (
	"errors"
	"fmt"

	"github.com/poiesic/installment/core"
)

var (
	// ErrNotFound indicates that no document, chunk, job, cursor or
	// subscription exists under the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates a duplicate key violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStorageClosed indicates that the storage backend is closed.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrTruncatedData indicates a stored record or key ended early.
	ErrTruncatedData = errors.New("truncated data")

	// ErrConflictRetriesExhausted indicates an optimistic transaction kept
	// losing to concurrent writers. It wraps core.ErrTransientStore.
	ErrConflictRetriesExhausted = fmt.Errorf("%w: conflict retries exhausted", core.ErrTransientStore)
)
