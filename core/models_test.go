package core

import (
	"testing"
)

func TestDocumentIDFromTitle(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		wantSame bool
	}{
		{
			name:     "identical titles",
			a:        "War and Peace",
			b:        "War and Peace",
			wantSame: true,
		},
		{
			name:     "case and whitespace are folded",
			a:        "  War   and PEACE ",
			b:        "war and peace",
			wantSame: true,
		},
		{
			name:     "cyrillic titles",
			a:        "Война и мир",
			b:        "ВОЙНА И МИР",
			wantSame: true,
		},
		{
			name:     "different titles",
			a:        "War and Peace",
			b:        "Anna Karenina",
			wantSame: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := DocumentIDFromTitle(tt.a)
			id2 := DocumentIDFromTitle(tt.b)

			if tt.wantSame && id1 != id2 {
				t.Errorf("DocumentIDFromTitle() produced different IDs: %d vs %d", id1, id2)
			}
			if !tt.wantSame && id1 == id2 {
				t.Errorf("DocumentIDFromTitle() produced same ID for %q and %q", tt.a, tt.b)
			}
		})
	}
}

func TestJobStatus_String(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   string
	}{
		{JobProcessing, "processing"},
		{JobCompleted, "completed"},
		{JobAbandoned, "abandoned"},
		{JobStatus(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("JobStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}

	if JobProcessing.Terminal() {
		t.Error("processing must not be terminal")
	}
	if !JobCompleted.Terminal() || !JobAbandoned.Terminal() {
		t.Error("completed and abandoned must be terminal")
	}
}

func TestAddToSet(t *testing.T) {
	var set []int
	var added bool

	for _, v := range []int{3, 1, 2} {
		set, added = AddToSet(set, v)
		if !added {
			t.Fatalf("AddToSet(%d) reported duplicate", v)
		}
	}

	set, added = AddToSet(set, 2)
	if added {
		t.Error("AddToSet() accepted a duplicate")
	}
	if len(set) != 3 || set[0] != 1 || set[1] != 2 || set[2] != 3 {
		t.Errorf("AddToSet() = %v, want [1 2 3]", set)
	}

	set, removed := RemoveFromSet(set, 2)
	if !removed || len(set) != 2 {
		t.Errorf("RemoveFromSet() = %v, %v", set, removed)
	}
	if _, removed = RemoveFromSet(set, 7); removed {
		t.Error("RemoveFromSet() removed an absent value")
	}
}

func TestJob_Batches(t *testing.T) {
	job := &Job{
		Batches: []BatchRef{
			{ID: 0, Start: 0, End: 10},
			{ID: 1, Start: 10, End: 20},
			{ID: 2, Start: 20, End: 23},
		},
		TotalBatches: 3,
		Completed:    []int{0, 2},
		Failed:       []int{1},
	}

	if !job.IsBatchDone(0) || job.IsBatchDone(1) {
		t.Error("IsBatchDone() mismatch")
	}
	if !job.IsBatchFailed(1) {
		t.Error("IsBatchFailed(1) = false")
	}
	if job.AllBatchesDone() {
		t.Error("AllBatchesDone() = true with a pending batch")
	}
	pending := job.PendingBatches()
	if len(pending) != 1 || pending[0] != 1 {
		t.Errorf("PendingBatches() = %v, want [1]", pending)
	}
	if b, ok := job.Batch(2); !ok || b.Len() != 3 {
		t.Errorf("Batch(2) = %+v, %v", b, ok)
	}
	if _, ok := job.Batch(3); ok {
		t.Error("Batch(3) should not exist")
	}
}
