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

package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateMode validates that a Mode has a known value.
func ValidateMode(mode Mode) error {
	if mode != ModeBySense && mode != ModeByNewline {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return nil
}

// ValidatePolicy validates that a Policy has a known value.
func ValidatePolicy(policy Policy) error {
	if policy != PolicySize && policy != PolicyCount {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	return nil
}

// ValidateSlot validates a daily delivery slot in "HH:MM" form.
func ValidateSlot(slot string) error {
	if len(slot) != 5 {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	if _, err := time.Parse("15:04", slot); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slot)
	}
	return nil
}

// ValidateBatchMessage validates a batch payload received from the queue.
//
// Validation rules:
//   - JobID must not be empty
//   - BatchID and Start must not be negative
//   - End-Start must equal the number of blocks
//   - Mode and Policy must be known values
func ValidateBatchMessage(msg *BatchMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidBatch)
	}
	if strings.TrimSpace(msg.JobID) == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidBatch)
	}
	if msg.BatchID < 0 || msg.Start < 0 {
		return fmt.Errorf("%w: negative batch position", ErrInvalidBatch)
	}
	if msg.End-msg.Start != len(msg.Blocks) {
		return fmt.Errorf("%w: range [%d, %d) does not match %d blocks",
			ErrInvalidBatch, msg.Start, msg.End, len(msg.Blocks))
	}
	if err := ValidateMode(msg.Mode); err != nil {
		return err
	}
	return ValidatePolicy(msg.Policy)
}

// ValidateCompletionReport validates a worker's completion report.
func ValidateCompletionReport(report *CompletionReport) error {
	if report == nil {
		return fmt.Errorf("%w: report is nil", ErrInvalidBatch)
	}
	if strings.TrimSpace(report.JobID) == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidBatch)
	}
	if report.BatchID < 0 || report.ChunksCreated < 0 || report.FailedBlocks < 0 {
		return fmt.Errorf("%w: negative report field", ErrInvalidBatch)
	}
	return nil
}
