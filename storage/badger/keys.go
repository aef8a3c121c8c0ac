package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/installment/core"
)

// Key prefixes for different data types
const (
	documentPrefix     = "doc"
	chunkPrefix        = "chunk"
	jobPrefix          = "job"
	jobBlocksPrefix    = "jobblk"
	activeJobPrefix    = "jobact"
	cursorPrefix       = "cur"
	activeCursorPrefix = "curact"
	subscriptionPrefix = "sub"
)

// makeDocumentKey generates a key for a document by ID.
func makeDocumentKey(id core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", documentPrefix, id))
}

// makeChunkKey generates a composite key for a chunk.
// Format: prefix:docID:index
func makeChunkKey(docID core.ID, index int) []byte {
	prefix := []byte(chunkPrefix + ":")
	buf := make([]byte, len(prefix)+16) // 8 bytes for docID + 8 bytes for index
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows chunk order
	binary.BigEndian.PutUint64(buf[offset:], uint64(docID))
	offset += 8
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// makeJobKey generates a key for a job by ID.
func makeJobKey(id string) []byte {
	return []byte(jobPrefix + ":" + id)
}

// makeJobPrefix returns the prefix shared by all job records.
func makeJobPrefix() []byte {
	return []byte(jobPrefix + ":")
}

// makeJobBlocksKey generates a key for the retained blocks of a batch.
// Format: prefix:jobID:batchID
func makeJobBlocksKey(jobID string, batchID int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", jobBlocksPrefix, jobID, batchID))
}

// makeActiveJobKey generates a key marking the processing job of a document.
func makeActiveJobKey(docID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d", activeJobPrefix, docID))
}

// makeCursorKey generates a composite key for a reader's cursor.
// Format: prefix:reader:docID
func makeCursorKey(readerID string, docID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%s:%d", cursorPrefix, readerID, docID))
}

// makeReaderCursorPrefix returns the prefix of a reader's cursor keys. A
// reader id containing ':' can share it with another reader, so matches
// must be checked against the stored reader id.
func makeReaderCursorPrefix(readerID string) []byte {
	return []byte(cursorPrefix + ":" + readerID + ":")
}

// makeActiveCursorKey generates a key holding the reader's active document.
func makeActiveCursorKey(readerID string) []byte {
	return []byte(activeCursorPrefix + ":" + readerID)
}

// makeSubscriptionKey generates a composite key for a subscription.
// Format: prefix:docID:reader
func makeSubscriptionKey(readerID string, docID core.ID) []byte {
	return []byte(fmt.Sprintf("%s:%d:%s", subscriptionPrefix, docID, readerID))
}

// makeSubscriptionPrefix returns the prefix shared by all subscriptions.
func makeSubscriptionPrefix() []byte {
	return []byte(subscriptionPrefix + ":")
}
