package queue

import (
	"encoding/json"
	"fmt"

	"github.com/poiesic/installment/core"
)

// Header names set on pipeline messages.
const (
	HeaderKind = "kind"
	HeaderJob  = "job_id"
)

// EncodeBatch wraps a batch message for TopicBatches, keyed by job.
func EncodeBatch(msg *core.BatchMessage) (Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("encoding batch message: %w", err)
	}
	return Message{
		Topic:   TopicBatches,
		Key:     []byte(msg.JobID),
		Value:   value,
		Headers: map[string]string{HeaderKind: "batch", HeaderJob: msg.JobID},
	}, nil
}

// DecodeBatch parses and validates a batch message body. Malformed bodies
// return an error wrapping core.ErrInvalidBatch.
func DecodeBatch(body []byte) (*core.BatchMessage, error) {
	var msg core.BatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidBatch, err)
	}
	if err := core.ValidateBatchMessage(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EncodeCompletion wraps a completion report for TopicCompletions.
func EncodeCompletion(report *core.CompletionReport) (Message, error) {
	value, err := json.Marshal(report)
	if err != nil {
		return Message{}, fmt.Errorf("encoding completion report: %w", err)
	}
	return Message{
		Topic:   TopicCompletions,
		Key:     []byte(report.JobID),
		Value:   value,
		Headers: map[string]string{HeaderKind: "completion", HeaderJob: report.JobID},
	}, nil
}

// DecodeCompletion parses and validates a completion report body.
func DecodeCompletion(body []byte) (*core.CompletionReport, error) {
	var report core.CompletionReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidBatch, err)
	}
	if err := core.ValidateCompletionReport(&report); err != nil {
		return nil, err
	}
	return &report, nil
}
