// Package notify delivers short text messages to readers and operators.
// Delivery is best effort: callers log failures and move on.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageBytes is the largest message a messenger target accepts.
const MaxMessageBytes = 4096

// Notifier sends text to a target such as a chat id.
type Notifier interface {
	Notify(ctx context.Context, target, text string) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, target, text string) error

// Notify calls f(ctx, target, text).
func (f NotifierFunc) Notify(ctx context.Context, target, text string) error {
	return f(ctx, target, text)
}

// LogNotifier writes notifications to a logger. It is the default when no
// messenger is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// Notify logs the message at info level.
func (n *LogNotifier) Notify(ctx context.Context, target, text string) error {
	n.logger.InfoContext(ctx, "notification", "target", target, "text", text)
	return nil
}

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, string, string) error { return nil })

// SendLong splits text into pieces of at most MaxMessageBytes and sends
// them in order, stopping at the first error.
func SendLong(ctx context.Context, n Notifier, target, text string) error {
	for _, piece := range Split(text, MaxMessageBytes) {
		if err := n.Notify(ctx, target, piece); err != nil {
			return err
		}
	}
	return nil
}

// Split cuts text into pieces of at most limit bytes. Cuts prefer the last
// whitespace inside the limit and never split a UTF-8 sequence.
func Split(text string, limit int) []string {
	if limit < utf8.UTFMax {
		limit = utf8.UTFMax
	}
	var pieces []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if i := strings.LastIndexFunc(text[:cut], unicode.IsSpace); i > 0 {
			cut = i
		}

		if piece := strings.TrimRightFunc(text[:cut], unicode.IsSpace); piece != "" {
			pieces = append(pieces, piece)
		}
		text = strings.TrimLeftFunc(text[cut:], unicode.IsSpace)
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
