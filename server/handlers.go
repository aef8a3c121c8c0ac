package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	"github.com/poiesic/installment/reading"
	"github.com/poiesic/installment/storage"
)

// maxEventBytes bounds trigger bodies. Queue triggers deliver up to ten
// messages of at most 256 KiB each.
const maxEventBytes = 4 << 20

type handlers struct {
	cfg Config
	now func() time.Time
}

type ingestRequest struct {
	Title        string   `json:"title"`
	Blocks       []string `json:"blocks"`
	Mode         string   `json:"mode"`
	Policy       string   `json:"policy"`
	ReaderID     string   `json:"reader_id"`
	NotifyTarget string   `json:"notify_target"`
}

type selectRequest struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
}

type subscribeRequest struct {
	Slot string `json:"slot"`
}

// statusFor maps service errors to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrJobNotFound):
		return http.StatusNotFound, "job_not_found"
	case errors.Is(err, core.ErrDocumentNotFound):
		return http.StatusNotFound, "document_not_found"
	case errors.Is(err, core.ErrNoActiveDocument):
		return http.StatusNotFound, "no_active_document"
	case errors.Is(err, ingestion.ErrIngestionInProgress):
		return http.StatusConflict, "ingestion_in_progress"
	case errors.Is(err, core.ErrMissingChunk):
		return http.StatusInternalServerError, "missing_chunk"
	case core.IsPermanent(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, core.ErrTransientStore), errors.Is(err, reading.ErrAdvanceContended):
		return http.StatusServiceUnavailable, "try_again"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	_ = c.Error(err)
	respondError(c, status, code, err)
}

func notConfigured(c *gin.Context, what string) {
	respondError(c, http.StatusNotImplemented, "not_configured", fmt.Errorf("%s is not configured", what))
}

func (h *handlers) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// POST /v1/documents
func (h *handlers) startIngestion(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	jobID, err := h.cfg.Ingester.Start(c.Request.Context(), ingestion.IngestRequest{
		Title:        req.Title,
		Blocks:       req.Blocks,
		Mode:         core.Mode(req.Mode),
		Policy:       core.Policy(req.Policy),
		ReaderID:     req.ReaderID,
		NotifyTarget: req.NotifyTarget,
	})
	if errors.Is(err, ingestion.ErrDispatchIncomplete) {
		// The job exists; the sweeper re-dispatches what is missing.
		_ = c.Error(err)
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "incomplete": true, "message": err.Error()})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GET /v1/jobs/:id
func (h *handlers) getJob(c *gin.Context) {
	job, err := h.cfg.Ingester.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"job": jobView(job)})
}

// POST /v1/triggers/batches
func (h *handlers) batchTrigger(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.cfg.Triggers.HandleTrigger(c.Request.Context(), body)
	if err != nil {
		fail(c, err)
		return
	}
	counts := gin.H{"processed": res.Processed, "skipped": res.Skipped, "dropped": res.Dropped, "failed": res.Failed}
	if res.Retryable() {
		// A non-2xx answer makes the trigger redeliver the event; processed
		// batches are skipped on the next run.
		counts["error"] = APIError{Code: "try_again", Message: fmt.Sprintf("%d messages failed", res.Failed)}
		c.JSON(http.StatusServiceUnavailable, counts)
		return
	}
	respondOK(c, counts)
}

// POST /v1/triggers/delivery
func (h *handlers) deliveryTrigger(c *gin.Context) {
	if h.cfg.Scheduler == nil {
		notConfigured(c, "scheduler")
		return
	}
	now := h.now()
	if at := c.Query("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_time", err)
			return
		}
		now = t
	}
	stats, err := h.cfg.Scheduler.DeliverDue(c.Request.Context(), now)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, stats)
}

// POST /v1/triggers/sweep
func (h *handlers) sweepTrigger(c *gin.Context) {
	if h.cfg.Sweeper == nil {
		notConfigured(c, "sweeper")
		return
	}
	stats, err := h.cfg.Sweeper.Sweep(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, stats)
}

// POST /v1/readers/:reader/select
func (h *handlers) selectDocument(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	var docID core.ID
	switch {
	case req.DocumentID != "":
		id, err := parseDocumentID(req.DocumentID)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_document_id", err)
			return
		}
		docID = id
	case strings.TrimSpace(req.Title) != "":
		docID = core.DocumentIDFromTitle(req.Title)
	default:
		respondError(c, http.StatusBadRequest, "invalid_body", errors.New("document_id or title required"))
		return
	}

	cursor, err := h.cfg.Reader.SelectDocument(c.Request.Context(), c.Param("reader"), docID)
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{
		"document_id": formatDocumentID(cursor.DocumentID),
		"next_index":  cursor.NextIndex,
		"finished":    cursor.Finished,
	})
}

// POST /v1/readers/:reader/next
func (h *handlers) nextChunk(c *gin.Context) {
	d, err := h.cfg.Reader.NextChunk(c.Request.Context(), c.Param("reader"))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{
		"document_id": formatDocumentID(d.DocumentID),
		"index":       d.Index,
		"total":       d.Total,
		"text":        d.Text,
		"finished":    d.Finished,
	})
}

// GET /v1/readers/:reader/position
func (h *handlers) position(c *gin.Context) {
	pos, err := h.cfg.Reader.Position(c.Request.Context(), c.Param("reader"))
	if err != nil {
		fail(c, err)
		return
	}
	respondOK(c, positionView(pos))
}

// GET /v1/readers/:reader/documents
func (h *handlers) documents(c *gin.Context) {
	positions, err := h.cfg.Reader.Documents(c.Request.Context(), c.Param("reader"))
	if err != nil {
		fail(c, err)
		return
	}
	views := make([]gin.H, 0, len(positions))
	for i := range positions {
		views = append(views, positionView(&positions[i]))
	}
	respondOK(c, gin.H{"documents": views})
}

func positionView(pos *reading.Position) gin.H {
	return gin.H{
		"document_id": formatDocumentID(pos.DocumentID),
		"title":       pos.Title,
		"index":       pos.Index,
		"total":       pos.Total,
		"finished":    pos.Finished,
		"active":      pos.Active,
	}
}

// PUT /v1/readers/:reader/subscriptions/:document
func (h *handlers) subscribe(c *gin.Context) {
	if h.cfg.Subscriptions == nil {
		notConfigured(c, "subscriptions")
		return
	}
	docID, err := parseDocumentID(c.Param("document"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	sub := &core.Subscription{ReaderID: c.Param("reader"), DocumentID: docID, Slot: req.Slot, Enabled: true}
	if err := h.cfg.Subscriptions.Subscribe(c.Request.Context(), sub); err != nil {
		fail(c, err)
		return
	}
	respondOK(c, gin.H{"reader_id": sub.ReaderID, "document_id": formatDocumentID(docID), "slot": sub.Slot})
}

// DELETE /v1/readers/:reader/subscriptions/:document
func (h *handlers) unsubscribe(c *gin.Context) {
	if h.cfg.Subscriptions == nil {
		notConfigured(c, "subscriptions")
		return
	}
	docID, err := parseDocumentID(c.Param("document"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_document_id", err)
		return
	}
	if err := h.cfg.Subscriptions.Disable(c.Request.Context(), c.Param("reader"), docID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Document ids travel as decimal strings; JSON numbers lose the high bits
// in most clients.
func parseDocumentID(s string) (core.ID, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("document id %q: %w", s, err)
	}
	return core.ID(id), nil
}

func formatDocumentID(id core.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func jobView(job *core.Job) gin.H {
	return gin.H{
		"id":             job.ID,
		"document_id":    formatDocumentID(job.DocumentID),
		"title":          job.Title,
		"status":         job.Status.String(),
		"mode":           job.Mode,
		"policy":         job.Policy,
		"total_batches":  job.TotalBatches,
		"completed":      job.Completed,
		"failed":         job.Failed,
		"chunks_created": job.ChunksCreated,
		"failed_blocks":  job.FailedBlocks,
		"redispatches":   job.Redispatches,
		"created_at":     job.CreatedAt,
		"updated_at":     job.UpdatedAt,
	}
}
