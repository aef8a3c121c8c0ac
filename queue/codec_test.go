package queue

import (
	"testing"

	"github.com/poiesic/installment/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCodec(t *testing.T) {
	in := &core.BatchMessage{
		JobID:        "job-1",
		BatchID:      2,
		DocumentID:   core.DocumentIDFromTitle("Codec"),
		Blocks:       []string{"one", "two"},
		Start:        20,
		End:          22,
		Mode:         core.ModeByNewline,
		Policy:       core.PolicyCount,
		NotifyTarget: "chat-1",
	}

	msg, err := EncodeBatch(in)
	require.NoError(t, err)
	assert.Equal(t, TopicBatches, msg.Topic)
	assert.Equal(t, []byte("job-1"), msg.Key)
	assert.Equal(t, "batch", msg.Headers[HeaderKind])
	assert.Contains(t, string(msg.Value), `"batch_id":2`)

	out, err := DecodeBatch(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeBatch_Poison(t *testing.T) {
	_, err := DecodeBatch([]byte("{not json"))
	require.ErrorIs(t, err, core.ErrInvalidBatch)
	assert.True(t, core.IsPermanent(err))

	_, err = DecodeBatch([]byte(`{"job_id":"j","batch_id":0,"blocks":["a"],"start":0,"end":5,"mode":"by_sense","policy":"size"}`))
	assert.ErrorIs(t, err, core.ErrInvalidBatch)
}

func TestCompletionCodec(t *testing.T) {
	in := &core.CompletionReport{JobID: "job-1", BatchID: 1, ChunksCreated: 7, FailedBlocks: 1}
	msg, err := EncodeCompletion(in)
	require.NoError(t, err)
	assert.Equal(t, TopicCompletions, msg.Topic)

	out, err := DecodeCompletion(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeCompletion([]byte(`{"batch_id":1}`))
	assert.ErrorIs(t, err, core.ErrInvalidBatch)
}
