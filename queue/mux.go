package queue

import (
	"context"
	"fmt"
)

// Mux routes messages to handlers by topic. Messages on a topic without a
// handler are rejected.
type Mux map[string]Handler

// Topics returns the topics the Mux routes.
func (m Mux) Topics() []string {
	topics := make([]string, 0, len(m))
	for t := range m {
		topics = append(topics, t)
	}
	return topics
}

// Handle passes msg to the handler registered for msg.Topic.
func (m Mux) Handle(ctx context.Context, msg Message) error {
	h, ok := m[msg.Topic]
	if !ok {
		return fmt.Errorf("no handler for topic %q", msg.Topic)
	}
	return h.Handle(ctx, msg)
}
