package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/poiesic/installment/notify/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("short", 10))
	assert.Empty(t, Split("", 10))
	assert.Equal(t, []string{"one two", "three"}, Split("one two three", 9))
	assert.Equal(t, []string{"abcd", "efgh", "ij"}, Split("abcdefghij", 4))
}

func TestSplit_KeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("ж", 5000) // 2 bytes per rune
	pieces := Split(text, MaxMessageBytes)
	require.Len(t, pieces, 3)
	for _, p := range pieces {
		assert.True(t, utf8.ValidString(p))
		assert.LessOrEqual(t, len(p), MaxMessageBytes)
	}
	assert.Equal(t, text, strings.Join(pieces, ""))
}

func TestSendLong(t *testing.T) {
	rec := &mock.Recorder{}
	text := strings.Repeat("word ", 1000) // 5000 bytes
	require.NoError(t, SendLong(context.Background(), rec, "chat", text))

	texts := rec.Texts("chat")
	require.Len(t, texts, 2)
	for _, p := range texts {
		assert.LessOrEqual(t, len(p), MaxMessageBytes)
	}

	rec = &mock.Recorder{Err: errors.New("blocked")}
	assert.Error(t, SendLong(context.Background(), rec, "chat", text))
	assert.Len(t, rec.Messages(), 1, "stops at the first failure")
}

func TestRateLimited(t *testing.T) {
	rec := &mock.Recorder{}
	n := NewRateLimited(rec, RateLimitConfig{MessagesPerSecond: 1000, BurstSize: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, n.Notify(ctx, "t", "hi"))
	}
	assert.Len(t, rec.Texts("t"), 5)

	slow := NewRateLimited(rec, RateLimitConfig{MessagesPerSecond: 0.001, BurstSize: 1})
	require.NoError(t, slow.Notify(ctx, "t", "first"))
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	assert.Error(t, slow.Notify(short, "t", "second"), "no token within the deadline")
}

func TestLogNotifier(t *testing.T) {
	assert.NoError(t, NewLogNotifier(nil).Notify(context.Background(), "t", "hello"))
	assert.NoError(t, Discard.Notify(context.Background(), "t", "hello"))
}
