// Package reading delivers the chunks of a document to readers one at a
// time.
//
// Each (reader, document) pair has a cursor. A Reader selects a document,
// which creates the cursor at 0 or resumes a stored one, and NextChunk then
// returns chunks in index order. Past the last chunk NextChunk returns the
// end-of-document Delivery and disables the reader's subscription to the
// document.
//
// A Scheduler sends the next chunk to every reader whose subscription slot
// matches the current minute.
package reading
