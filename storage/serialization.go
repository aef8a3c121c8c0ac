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
	"fmt"

	"github.com/poiesic/installment/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return id, nil
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	buf := make([]byte, core.DocumentMUS.Size(*doc))
	core.DocumentMUS.Marshal(*doc, buf)
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	doc, _, err := core.DocumentMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return &doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	buf := make([]byte, core.ChunkMUS.Size(*chunk))
	core.ChunkMUS.Marshal(*chunk, buf)
	return buf
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	chunk, _, err := core.ChunkMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return &chunk, nil
}

// MarshalCursor serializes a Cursor to bytes.
func MarshalCursor(cursor *core.Cursor) []byte {
	buf := make([]byte, core.CursorMUS.Size(*cursor))
	core.CursorMUS.Marshal(*cursor, buf)
	return buf
}

// UnmarshalCursor deserializes a Cursor from bytes.
func UnmarshalCursor(data []byte) (*core.Cursor, error) {
	cursor, _, err := core.CursorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return &cursor, nil
}

// MarshalJob serializes a Job to bytes.
func MarshalJob(job *core.Job) []byte {
	buf := make([]byte, core.JobMUS.Size(*job))
	core.JobMUS.Marshal(*job, buf)
	return buf
}

// UnmarshalJob deserializes a Job from bytes.
func UnmarshalJob(data []byte) (*core.Job, error) {
	job, _, err := core.JobMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return &job, nil
}

// MarshalSubscription serializes a Subscription to bytes.
func MarshalSubscription(sub *core.Subscription) []byte {
	buf := make([]byte, core.SubscriptionMUS.Size(*sub))
	core.SubscriptionMUS.Marshal(*sub, buf)
	return buf
}

// UnmarshalSubscription deserializes a Subscription from bytes.
func UnmarshalSubscription(data []byte) (*core.Subscription, error) {
	sub, _, err := core.SubscriptionMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return &sub, nil
}

// MarshalBlocks serializes retained batch blocks to bytes.
func MarshalBlocks(blocks []string) []byte {
	buf := make([]byte, core.BlocksMUS.Size(blocks))
	core.BlocksMUS.Marshal(blocks, buf)
	return buf
}

// UnmarshalBlocks deserializes retained batch blocks from bytes.
func UnmarshalBlocks(data []byte) ([]string, error) {
	blocks, _, err := core.BlocksMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncatedData, err)
	}
	return blocks, nil
}
