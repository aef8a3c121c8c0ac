package ingestion

import "github.com/poiesic/installment/core"

// Partition splits n blocks into contiguous batches of size blocks; batch i
// covers [i*size, min((i+1)*size, n)). It returns nil when n is 0.
func Partition(n, size int) []core.BatchRef {
	if n <= 0 || size <= 0 {
		return nil
	}
	batches := make([]core.BatchRef, 0, (n+size-1)/size)
	for start, id := 0, 0; start < n; start, id = start+size, id+1 {
		batches = append(batches, core.BatchRef{ID: id, Start: start, End: min(start+size, n)})
	}
	return batches
}
