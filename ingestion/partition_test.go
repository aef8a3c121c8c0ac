package ingestion

import (
	"testing"

	"github.com/poiesic/installment/core"
	"github.com/stretchr/testify/assert"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want []core.BatchRef
	}{
		{
			name: "uneven tail",
			n:    23,
			size: 10,
			want: []core.BatchRef{{ID: 0, Start: 0, End: 10}, {ID: 1, Start: 10, End: 20}, {ID: 2, Start: 20, End: 23}},
		},
		{
			name: "exact multiple",
			n:    20,
			size: 10,
			want: []core.BatchRef{{ID: 0, Start: 0, End: 10}, {ID: 1, Start: 10, End: 20}},
		},
		{
			name: "smaller than one batch",
			n:    3,
			size: 10,
			want: []core.BatchRef{{ID: 0, Start: 0, End: 3}},
		},
		{
			name: "empty",
			n:    0,
			size: 10,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Partition(tt.n, tt.size))
		})
	}
}

func TestPartition_CoversRange(t *testing.T) {
	for n := 1; n <= 57; n++ {
		for size := 1; size <= 12; size++ {
			batches := Partition(n, size)
			assert.Len(t, batches, (n+size-1)/size)

			next := 0
			for i, b := range batches {
				assert.Equal(t, i, b.ID)
				assert.Equal(t, next, b.Start, "no gap or overlap")
				assert.LessOrEqual(t, b.Len(), size)
				assert.Positive(t, b.Len())
				next = b.End
			}
			assert.Equal(t, n, next)
		}
	}
}

func TestProgressText(t *testing.T) {
	assert.Equal(t, "Progress: 1/3 (33.3%)", progressText(1, 3))
	assert.Equal(t, "Progress: 0/0 (0.0%)", progressText(0, 0))
}
