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

package chunking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/retry"
	"github.com/poiesic/installment/storage"
)

const (
	// DefaultMaxChunkSize is the size policy's limit in runes.
	DefaultMaxChunkSize = 893

	// DefaultGroupSize is the number of units per chunk under the count policy.
	DefaultGroupSize = 5
)

// ChunkAppender stores a chunk at the document's next free index.
// storage.ChunkRepository satisfies it.
type ChunkAppender interface {
	AppendChunk(ctx context.Context, docID core.ID, text string) (int, error)
}

// Assembler packs units into chunks and appends them to a store.
// It holds no per-document state and is safe for concurrent use.
type Assembler struct {
	chunks       ChunkAppender
	maxChunkSize int
	groupSize    int
	retry        retry.Policy
	logger       *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler) error

// WithMaxChunkSize sets the size policy's limit in runes.
// Default is DefaultMaxChunkSize.
func WithMaxChunkSize(size int) Option {
	return func(a *Assembler) error {
		if size < 1 {
			return fmt.Errorf("max chunk size must be positive, got %d", size)
		}
		a.maxChunkSize = size
		return nil
	}
}

// WithGroupSize sets how many units the count policy joins per chunk.
// Default is DefaultGroupSize.
func WithGroupSize(n int) Option {
	return func(a *Assembler) error {
		if n < 1 {
			return fmt.Errorf("group size must be positive, got %d", n)
		}
		a.groupSize = n
		return nil
	}
}

// WithRetry sets the retry policy for chunk writes.
// Default is retry.DefaultPolicy().
func WithRetry(p retry.Policy) Option {
	return func(a *Assembler) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		a.retry = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// NewAssembler creates an Assembler that writes through chunks.
func NewAssembler(chunks ChunkAppender, opts ...Option) (*Assembler, error) {
	if chunks == nil {
		return nil, errors.New("chunk appender required")
	}
	a := &Assembler{
		chunks:       chunks,
		maxChunkSize: DefaultMaxChunkSize,
		groupSize:    DefaultGroupSize,
		retry:        retry.DefaultPolicy(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Pack groups units into chunk texts under policy without writing them.
// Blank units are ignored, so no returned chunk is empty. Other units are
// kept as given, including leading indentation.
func (a *Assembler) Pack(policy core.Policy, units []string) ([]string, error) {
	kept := make([]string, 0, len(units))
	for _, u := range units {
		if strings.TrimSpace(u) != "" {
			kept = append(kept, u)
		}
	}

	switch policy {
	case core.PolicySize:
		return packBySize(kept, a.maxChunkSize), nil
	case core.PolicyCount:
		return packByCount(kept, a.groupSize), nil
	default:
		return nil, core.ValidatePolicy(policy)
	}
}

// Assemble packs units and appends each chunk to docID in order. It returns
// the number of chunks committed. When a write keeps failing after retries
// the remaining chunks are abandoned and the committed count is returned
// with the error.
func (a *Assembler) Assemble(ctx context.Context, docID core.ID, policy core.Policy, units []string) (int, error) {
	texts, err := a.Pack(policy, units)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, text := range texts {
		var index int
		err := a.retry.Do(ctx, func() error {
			var err error
			index, err = a.chunks.AppendChunk(ctx, docID, text)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: document %d: %w", core.ErrInvalidDocument, docID, err)
			}
			return err
		})
		if err != nil {
			a.logger.Error("error appending chunk",
				"document", docID, "committed", created, "remaining", len(texts)-created, "err", err)
			return created, fmt.Errorf("appending chunk %d of %d: %w", created+1, len(texts), err)
		}
		a.logger.Debug("chunk appended", "document", docID, "index", index)
		created++
	}
	return created, nil
}

func packBySize(units []string, limit int) []string {
	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}

	for _, unit := range units {
		for _, piece := range splitOversized(unit, limit) {
			n := utf8.RuneCountInString(piece)
			if bufLen > 0 && bufLen+1+n > limit {
				flush()
			}
			if bufLen > 0 {
				buf.WriteByte(' ')
				bufLen++
			}
			buf.WriteString(piece)
			bufLen += n
		}
	}
	flush()
	return chunks
}

// splitOversized cuts a unit longer than limit runes at the last whitespace
// at or before the limit, or hard at the limit when there is none.
func splitOversized(unit string, limit int) []string {
	runes := []rune(unit)
	var pieces []string
	for len(runes) > limit {
		cut := -1
		for i := limit; i > 0; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}

		var piece string
		if cut > 0 {
			piece = strings.TrimSpace(string(runes[:cut]))
			runes = runes[cut+1:]
		} else {
			piece = string(runes[:limit])
			runes = runes[limit:]
		}
		if piece != "" {
			pieces = append(pieces, piece)
		}
		runes = []rune(strings.TrimLeftFunc(string(runes), unicode.IsSpace))
	}
	if len(runes) > 0 {
		pieces = append(pieces, string(runes))
	}
	return pieces
}

func packByCount(units []string, n int) []string {
	var chunks []string
	for start := 0; start < len(units); start += n {
		end := min(start+n, len(units))
		chunks = append(chunks, strings.Join(units[start:end], " "))
	}
	return chunks
}
