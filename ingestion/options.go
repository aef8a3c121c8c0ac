package ingestion

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/poiesic/installment/retry"
)

// Defaults shared by the ingestion services.
const (
	DefaultBatchSize       = 10
	DefaultStaleAfter      = 15 * time.Minute
	DefaultMaxRedispatches = 3
)

type options struct {
	batchSize       int
	progress        bool
	retry           retry.Policy
	logger          *slog.Logger
	poolSize        int
	staleAfter      time.Duration
	maxRedispatches int
	notifyTimeout   time.Duration
}

func defaultOptions() options {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	return options{
		batchSize:       DefaultBatchSize,
		progress:        true,
		retry:           retry.DefaultPolicy(),
		logger:          slog.Default(),
		poolSize:        poolSize,
		staleAfter:      DefaultStaleAfter,
		maxRedispatches: DefaultMaxRedispatches,
		notifyTimeout:   10 * time.Second,
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

// Option configures the services of this package. Each service ignores the
// options that do not apply to it.
type Option func(*options) error

// WithBatchSize sets how many blocks go into one batch (Coordinator).
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(o *options) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		o.batchSize = size
		return nil
	}
}

// WithProgressNotifications turns per-batch progress messages on or off
// (Coordinator). Default is on.
func WithProgressNotifications(enabled bool) Option {
	return func(o *options) error {
		o.progress = enabled
		return nil
	}
}

// WithRetry sets the retry policy for store writes, dispatch and reports.
// Default is retry.DefaultPolicy().
func WithRetry(p retry.Policy) Option {
	return func(o *options) error {
		if p.MaxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		o.retry = p
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// WithPoolSize sets the worker pool size (Consumer).
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *options) error {
		if size < 1 {
			size = 1
		}
		o.poolSize = size
		return nil
	}
}

// WithStaleAfter sets how long a processing job may go without updates
// before the Sweeper re-dispatches it. Default is DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("stale-after must be positive, got %s", d)
		}
		o.staleAfter = d
		return nil
	}
}

// WithMaxRedispatches sets how many times the Sweeper re-dispatches a job
// before abandoning it. Default is DefaultMaxRedispatches.
func WithMaxRedispatches(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("max redispatches must not be negative, got %d", n)
		}
		o.maxRedispatches = n
		return nil
	}
}
