package reading

import (
	"fmt"
	"log/slog"

	"github.com/poiesic/installment/retry"
)

// Defaults for Reader and Scheduler.
const (
	DefaultAdvanceAttempts = 5
	DefaultConcurrency     = 4
)

type options struct {
	retry           retry.Policy
	logger          *slog.Logger
	advanceAttempts int
	concurrency     int
	finishedMessage string
}

func defaultOptions() options {
	return options{
		retry:           retry.DefaultPolicy(),
		logger:          slog.Default(),
		advanceAttempts: DefaultAdvanceAttempts,
		concurrency:     DefaultConcurrency,
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return o, err
		}
	}
	return o, nil
}

// Option configures a Reader or a Scheduler.
type Option func(*options) error

// WithRetry sets the retry policy for store operations.
func WithRetry(p retry.Policy) Option {
	return func(o *options) error {
		if p.MaxAttempts <= 0 {
			return retry.ErrInvalidMaxAttempts
		}
		o.retry = p
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithAdvanceAttempts sets how often NextChunk re-reads the cursor after
// losing an advance to a concurrent caller. Default is DefaultAdvanceAttempts.
func WithAdvanceAttempts(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("advance attempts must be positive, got %d", n)
		}
		o.advanceAttempts = n
		return nil
	}
}

// WithConcurrency sets how many readers a Scheduler serves at once.
// Default is DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("concurrency must be positive, got %d", n)
		}
		o.concurrency = n
		return nil
	}
}

// WithFinishedMessage sets text the Scheduler appends to the end-of-document
// marker.
func WithFinishedMessage(text string) Option {
	return func(o *options) error {
		o.finishedMessage = text
		return nil
	}
}
