package core

import (
	"errors"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// errSliceLength is returned when an encoded slice claims more elements
// than the remaining bytes could hold.
var errSliceLength = errors.New("encoded slice length exceeds data")

// JobMUS serializes Job records. It is written by hand because the generator
// has no option for the sorted id sets.
var JobMUS = jobMUS{}

type jobMUS struct{}

func (s jobMUS) Marshal(v Job, bs []byte) (n int) {
	n = ord.String.Marshal(v.ID, bs)
	n += IDMUS.Marshal(v.DocumentID, bs[n:])
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.ReaderID, bs[n:])
	n += ord.String.Marshal(v.NotifyTarget, bs[n:])
	n += ModeMUS.Marshal(v.Mode, bs[n:])
	n += PolicyMUS.Marshal(v.Policy, bs[n:])
	n += varint.Uint64.Marshal(uint64(len(v.Batches)), bs[n:])
	for _, b := range v.Batches {
		n += BatchRefMUS.Marshal(b, bs[n:])
	}
	n += intMUS.Marshal(v.TotalBatches, bs[n:])
	n += marshalIntSet(v.Completed, bs[n:])
	n += marshalIntSet(v.Failed, bs[n:])
	n += intMUS.Marshal(v.ChunksCreated, bs[n:])
	n += intMUS.Marshal(v.FailedBlocks, bs[n:])
	n += JobStatusMUS.Marshal(v.Status, bs[n:])
	n += intMUS.Marshal(v.Redispatches, bs[n:])
	n += timeMicroMUS.Marshal(v.CreatedAt, bs[n:])
	return n + timeMicroMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (s jobMUS) Unmarshal(bs []byte) (v Job, n int, err error) {
	v.ID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	if v.DocumentID, n1, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Title, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.ReaderID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.NotifyTarget, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Mode, n1, err = ModeMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Policy, n1, err = PolicyMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var length uint64
	if length, n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if length > uint64(len(bs)-n) {
		err = errSliceLength
		return
	}
	if length > 0 {
		v.Batches = make([]BatchRef, length)
	}
	for i := range v.Batches {
		if v.Batches[i], n1, err = BatchRefMUS.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
	}
	if v.TotalBatches, n1, err = intMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Completed, n1, err = unmarshalIntSet(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Failed, n1, err = unmarshalIntSet(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.ChunksCreated, n1, err = intMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.FailedBlocks, n1, err = intMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Status, n1, err = JobStatusMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Redispatches, n1, err = intMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.CreatedAt, n1, err = timeMicroMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	v.UpdatedAt, n1, err = timeMicroMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (s jobMUS) Size(v Job) (size int) {
	size = ord.String.Size(v.ID)
	size += IDMUS.Size(v.DocumentID)
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.ReaderID)
	size += ord.String.Size(v.NotifyTarget)
	size += ModeMUS.Size(v.Mode)
	size += PolicyMUS.Size(v.Policy)
	size += varint.Uint64.Size(uint64(len(v.Batches)))
	for _, b := range v.Batches {
		size += BatchRefMUS.Size(b)
	}
	size += intMUS.Size(v.TotalBatches)
	size += sizeIntSet(v.Completed)
	size += sizeIntSet(v.Failed)
	size += intMUS.Size(v.ChunksCreated)
	size += intMUS.Size(v.FailedBlocks)
	size += JobStatusMUS.Size(v.Status)
	size += intMUS.Size(v.Redispatches)
	size += timeMicroMUS.Size(v.CreatedAt)
	return size + timeMicroMUS.Size(v.UpdatedAt)
}

// BlocksMUS serializes the raw blocks retained for a dispatched batch.
var BlocksMUS = blocksMUS{}

type blocksMUS struct{}

func (s blocksMUS) Marshal(v []string, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(len(v)), bs)
	for _, block := range v {
		n += ord.String.Marshal(block, bs[n:])
	}
	return
}

func (s blocksMUS) Unmarshal(bs []byte) (v []string, n int, err error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return
	}
	if length > uint64(len(bs)-n) {
		err = errSliceLength
		return
	}
	v = make([]string, length)
	for i := range v {
		var n1 int
		v[i], n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (s blocksMUS) Size(v []string) (size int) {
	size = varint.Uint64.Size(uint64(len(v)))
	for _, block := range v {
		size += ord.String.Size(block)
	}
	return
}

func marshalIntSet(set []int, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(len(set)), bs)
	for _, id := range set {
		n += intMUS.Marshal(id, bs[n:])
	}
	return
}

func unmarshalIntSet(bs []byte) (set []int, n int, err error) {
	length, n, err := varint.Uint64.Unmarshal(bs)
	if err != nil {
		return
	}
	if length > uint64(len(bs)-n) {
		err = errSliceLength
		return
	}
	if length > 0 {
		set = make([]int, length)
	}
	for i := range set {
		var n1 int
		set[i], n1, err = intMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func sizeIntSet(set []int) (size int) {
	size = varint.Uint64.Size(uint64(len(set)))
	for _, id := range set {
		size += intMUS.Size(id)
	}
	return
}
