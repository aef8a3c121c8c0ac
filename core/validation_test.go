package core

import (
	"errors"
	"testing"
)

func TestValidateBatchMessage(t *testing.T) {
	valid := func() *BatchMessage {
		return &BatchMessage{
			JobID:   "job-1",
			BatchID: 1,
			Blocks:  []string{"a", "b"},
			Start:   10,
			End:     12,
			Mode:    ModeBySense,
			Policy:  PolicySize,
		}
	}

	tests := []struct {
		name    string
		mutate  func(m *BatchMessage)
		nilMsg  bool
		wantErr error
	}{
		{
			name:    "valid message",
			mutate:  func(m *BatchMessage) {},
			wantErr: nil,
		},
		{
			name:    "nil message",
			nilMsg:  true,
			wantErr: ErrInvalidBatch,
		},
		{
			name:    "empty job id",
			mutate:  func(m *BatchMessage) { m.JobID = " " },
			wantErr: ErrInvalidBatch,
		},
		{
			name:    "negative batch id",
			mutate:  func(m *BatchMessage) { m.BatchID = -1 },
			wantErr: ErrInvalidBatch,
		},
		{
			name:    "range does not match blocks",
			mutate:  func(m *BatchMessage) { m.End = 15 },
			wantErr: ErrInvalidBatch,
		},
		{
			name:    "unknown mode",
			mutate:  func(m *BatchMessage) { m.Mode = "by_magic" },
			wantErr: ErrInvalidMode,
		},
		{
			name:    "unknown policy",
			mutate:  func(m *BatchMessage) { m.Policy = "" },
			wantErr: ErrInvalidPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg *BatchMessage
			if !tt.nilMsg {
				msg = valid()
				tt.mutate(msg)
			}
			err := ValidateBatchMessage(msg)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateBatchMessage() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateBatchMessage() error = %v, want %v", err, tt.wantErr)
			}
			if !IsPermanent(err) {
				t.Errorf("ValidateBatchMessage() error = %v should be permanent", err)
			}
		})
	}
}

func TestValidateSlot(t *testing.T) {
	for _, slot := range []string{"00:00", "07:30", "23:59"} {
		if err := ValidateSlot(slot); err != nil {
			t.Errorf("ValidateSlot(%q) error = %v", slot, err)
		}
	}
	for _, slot := range []string{"", "7:30", "24:00", "12:60", "noon!"} {
		if err := ValidateSlot(slot); !errors.Is(err, ErrInvalidSlot) {
			t.Errorf("ValidateSlot(%q) error = %v, want ErrInvalidSlot", slot, err)
		}
	}
}

func TestValidateCompletionReport(t *testing.T) {
	if err := ValidateCompletionReport(&CompletionReport{JobID: "j", BatchID: 0}); err != nil {
		t.Errorf("ValidateCompletionReport() error = %v", err)
	}
	if err := ValidateCompletionReport(&CompletionReport{JobID: "", BatchID: 0}); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("ValidateCompletionReport() error = %v, want ErrInvalidBatch", err)
	}
	if err := ValidateCompletionReport(&CompletionReport{JobID: "j", ChunksCreated: -1}); !errors.Is(err, ErrInvalidBatch) {
		t.Errorf("ValidateCompletionReport() error = %v, want ErrInvalidBatch", err)
	}
}

func TestErrorClasses(t *testing.T) {
	if IsPermanent(ErrTransientStore) {
		t.Error("transient store errors must not be permanent")
	}
	if !IsPermanent(ErrUnknownBatch) || !IsPermanent(ErrJobNotFound) {
		t.Error("unknown batch and missing job must be permanent")
	}
}
