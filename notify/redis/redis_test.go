package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	in := Envelope{Target: "chat-1", Text: "Progress: 1/3 (33%)", SentAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"target":"chat-1"`)

	out, err := decodeEnvelope(string(raw))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEnvelope("{")
	assert.Error(t, err)
}

func TestNotifier_Defaults(t *testing.T) {
	n := NewNotifier(nil, "", nil)
	assert.Equal(t, DefaultChannel, n.channel)
	assert.Error(t, n.Notify(context.Background(), "t", "x"))

	var nilNotifier *Notifier
	assert.Error(t, nilNotifier.Notify(context.Background(), "t", "x"))
}
