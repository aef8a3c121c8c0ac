package ingestion

import (
	"fmt"

	"github.com/poiesic/installment/core"
)

// progressText formats completed batches of total as "Progress: k/total (p%)".
func progressText(completed, total int) string {
	percentage := 0.0
	if total > 0 {
		percentage = float64(completed) / float64(total) * 100.0
	}
	return fmt.Sprintf("Progress: %d/%d (%.1f%%)", completed, total, percentage)
}

func startedText(job *core.Job, blocks int) string {
	return fmt.Sprintf("Ingestion started: %q, %d blocks in %d batches", job.Title, blocks, job.TotalBatches)
}

func finishedText(job *core.Job) string {
	text := fmt.Sprintf("Ingestion finished: %q, %d chunks", job.Title, job.ChunksCreated)
	if job.FailedBlocks > 0 {
		text += fmt.Sprintf(" (%d blocks failed)", job.FailedBlocks)
	}
	return text
}

func abandonedText(job *core.Job, reason string) string {
	return fmt.Sprintf("Ingestion failed: %q, %d of %d batches completed: %s",
		job.Title, len(job.Completed), job.TotalBatches, reason)
}
