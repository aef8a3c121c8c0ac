// Package mock provides a recording Notifier for tests.
package mock

import (
	"context"
	"sync"
)

// Message is one recorded notification.
type Message struct {
	Target string
	Text   string
}

// Recorder records every notification. Set Err to make Notify fail.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

// Notify records the message, then returns r.Err.
func (r *Recorder) Notify(ctx context.Context, target, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Target: target, Text: text})
	return r.Err
}

// Messages returns a copy of everything recorded.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Texts returns the texts sent to target, in order.
func (r *Recorder) Texts(target string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var texts []string
	for _, m := range r.messages {
		if m.Target == target {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

// Reset clears the recording.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
