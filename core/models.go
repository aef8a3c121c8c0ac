package core

//go:generate go run ../cmd/musgen

import (
	"encoding/binary"
	"slices"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for documents.
type ID uint64

// EndOfDocument is the text delivered once a reader has consumed every chunk.
const EndOfDocument = "---THE END---"

// NormalizeTitle folds case and whitespace so that the same title always
// maps to the same document.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}

// DocumentIDFromTitle generates a deterministic ID from a document title
// using BLAKE2b hashing of its normalized form.
func DocumentIDFromTitle(title string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(NormalizeTitle(title)))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Mode selects how a raw block is split into meaning-units.
type Mode string

const (
	// ModeBySense splits prose into sentences, treating hard line breaks
	// before a capital letter or digit as sentence ends.
	ModeBySense Mode = "by_sense"
	// ModeByNewline treats every line as one unit.
	ModeByNewline Mode = "by_newline"
)

// Policy selects how units are grouped into chunks.
type Policy string

const (
	// PolicySize packs units greedily up to a character limit.
	PolicySize Policy = "size"
	// PolicyCount groups a fixed number of units per chunk.
	PolicyCount Policy = "count"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus int

const (
	JobProcessing JobStatus = iota + 1
	JobCompleted
	JobAbandoned
)

func (s JobStatus) String() string {
	switch s {
	case JobProcessing:
		return "processing"
	case JobCompleted:
		return "completed"
	case JobAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobAbandoned
}

// Document is a long text registered for chunked delivery.
type Document struct {
	ID         ID
	Title      string
	ChunkCount int // Grows only through appends
	CreatedAt  time.Time
}

// Chunk is one deliverable piece of a document.
type Chunk struct {
	DocumentID ID
	Index      int // 0-based, contiguous per document
	Text       string
}

// Cursor is a reader's position within one document.
type Cursor struct {
	ReaderID   string
	DocumentID ID
	NextIndex  int
	Finished   bool
	UpdatedAt  time.Time
}

// BatchRef describes the contiguous block range [Start, End) of a batch.
type BatchRef struct {
	ID    int
	Start int
	End   int
}

// Len returns the number of blocks in the batch.
func (b BatchRef) Len() int {
	return b.End - b.Start
}

// Job tracks the fan-out ingestion of one document.
type Job struct {
	ID            string
	DocumentID    ID
	Title         string
	ReaderID      string
	NotifyTarget  string
	Mode          Mode
	Policy        Policy
	Batches       []BatchRef
	TotalBatches  int
	Completed     []int // Sorted set of batch ids
	Failed        []int // Sorted set of batch ids whose dispatch failed
	ChunksCreated int
	FailedBlocks  int
	Status        JobStatus
	Redispatches  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsBatchDone reports whether a completion was recorded for the batch.
func (j *Job) IsBatchDone(batchID int) bool {
	_, found := slices.BinarySearch(j.Completed, batchID)
	return found
}

// IsBatchFailed reports whether dispatch of the batch permanently failed.
func (j *Job) IsBatchFailed(batchID int) bool {
	_, found := slices.BinarySearch(j.Failed, batchID)
	return found
}

// AllBatchesDone reports whether every batch has reported completion.
func (j *Job) AllBatchesDone() bool {
	return len(j.Completed) >= j.TotalBatches
}

// Batch returns the descriptor for a batch id.
func (j *Job) Batch(batchID int) (BatchRef, bool) {
	if batchID < 0 || batchID >= len(j.Batches) {
		return BatchRef{}, false
	}
	return j.Batches[batchID], true
}

// PendingBatches returns the ids of batches without a recorded completion.
func (j *Job) PendingBatches() []int {
	var pending []int
	for _, b := range j.Batches {
		if !j.IsBatchDone(b.ID) {
			pending = append(pending, b.ID)
		}
	}
	return pending
}

// AddToSet inserts v into the sorted set and reports whether it was absent.
func AddToSet(set []int, v int) ([]int, bool) {
	i, found := slices.BinarySearch(set, v)
	if found {
		return set, false
	}
	return slices.Insert(set, i, v), true
}

// RemoveFromSet deletes v from the sorted set and reports whether it was present.
func RemoveFromSet(set []int, v int) ([]int, bool) {
	i, found := slices.BinarySearch(set, v)
	if !found {
		return set, false
	}
	return slices.Delete(set, i, i+1), true
}

// Subscription is a reader's recurring delivery of a document at a daily slot.
type Subscription struct {
	ReaderID   string
	DocumentID ID
	Slot       string // "HH:MM"
	Enabled    bool
	UpdatedAt  time.Time
}

// BatchMessage is the queue payload for one batch of raw blocks.
type BatchMessage struct {
	JobID        string   `json:"job_id"`
	BatchID      int      `json:"batch_id"`
	DocumentID   ID       `json:"document_id"`
	Blocks       []string `json:"blocks"`
	Start        int      `json:"start"`
	End          int      `json:"end"`
	Mode         Mode     `json:"mode"`
	Policy       Policy   `json:"policy"`
	NotifyTarget string   `json:"notify_target,omitempty"`
}

// CompletionReport is sent by a worker once a batch has been processed.
type CompletionReport struct {
	JobID         string `json:"job_id"`
	BatchID       int    `json:"batch_id"`
	ChunksCreated int    `json:"chunks_created"`
	FailedBlocks  int    `json:"failed_blocks"`
}
