// Package ingestion fans a document out into batches and tracks them to
// completion.
//
// The workflow spans independent invocations that share nothing but the
// stores and the queue:
//   - Coordinator.Start partitions the blocks, persists a Job and publishes
//     one message per batch
//   - Worker.Process segments and assembles one batch, then reports
//   - Coordinator.OnBatchComplete records the report and, for the single
//     caller that completes the job, selects the document for the reader
//
// Duplicate reports are absorbed by the job's completed set. A Sweeper
// re-dispatches batches of jobs that stopped making progress and abandons
// jobs that never complete.
package ingestion
