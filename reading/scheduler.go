package reading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/notify"
	"github.com/poiesic/installment/storage"
	"golang.org/x/sync/errgroup"
)

// SlotLayout is the time layout of subscription slots.
const SlotLayout = "15:04"

// DeliveryStats summarizes one DeliverDue run.
type DeliveryStats struct {
	Slot     string `json:"slot"`
	Readers  int    `json:"readers"`
	Sent     int    `json:"sent"`
	Finished int    `json:"finished"`
	Skipped  int    `json:"skipped"`
	Errors   int    `json:"errors"`
}

// Scheduler sends the next chunk to subscribed readers at their slot.
// Notifications go to the reader id as target.
type Scheduler struct {
	subs            storage.SubscriptionRepository
	reader          *Reader
	notifier        notify.Notifier
	concurrency     int
	finishedMessage string
	logger          *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(subs storage.SubscriptionRepository, reader *Reader, notifier notify.Notifier, opts ...Option) (*Scheduler, error) {
	if subs == nil {
		return nil, ErrSubscriptionRepositoryRequired
	}
	if reader == nil {
		return nil, ErrReaderRequired
	}
	if notifier == nil {
		return nil, ErrNotifierRequired
	}
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		subs:            subs,
		reader:          reader,
		notifier:        notifier,
		concurrency:     o.concurrency,
		finishedMessage: o.finishedMessage,
		logger:          o.logger.With("component", "scheduler"),
	}, nil
}

// DeliverDue serves every enabled subscription whose slot is now's minute.
// A subscription for a document that is not the reader's active document
// is skipped. Per-reader failures are counted, not returned.
func (s *Scheduler) DeliverDue(ctx context.Context, now time.Time) (DeliveryStats, error) {
	stats := DeliveryStats{Slot: now.Format(SlotLayout)}
	due, err := s.subs.ListDue(ctx, stats.Slot)
	if err != nil {
		return stats, fmt.Errorf("listing subscriptions for %s: %w", stats.Slot, err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, sub := range due {
		g.Go(func() error {
			outcome, err := s.deliver(gctx, sub)
			mu.Lock()
			defer mu.Unlock()
			stats.Readers++
			if err != nil {
				s.logger.Error("error delivering chunk", "reader", sub.ReaderID, "document", sub.DocumentID, "err", err)
				stats.Errors++
				return nil
			}
			switch outcome {
			case outcomeSent:
				stats.Sent++
			case outcomeFinished:
				stats.Sent++
				stats.Finished++
			case outcomeSkipped:
				stats.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if stats.Readers > 0 {
		s.logger.Info("scheduled delivery finished", "slot", stats.Slot, "readers", stats.Readers,
			"sent", stats.Sent, "finished", stats.Finished, "skipped", stats.Skipped, "errors", stats.Errors)
	}
	return stats, ctx.Err()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFinished
)

func (s *Scheduler) deliver(ctx context.Context, sub *core.Subscription) (outcome, error) {
	active, err := s.reader.ActiveDocument(ctx, sub.ReaderID)
	if errors.Is(err, core.ErrNoActiveDocument) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, err
	}
	if active != sub.DocumentID {
		s.logger.Debug("subscribed document is not active", "reader", sub.ReaderID, "document", sub.DocumentID, "active", active)
		return outcomeSkipped, nil
	}

	d, err := s.reader.NextChunk(ctx, sub.ReaderID)
	if err != nil {
		return 0, err
	}
	text := d.Text
	if d.Finished && s.finishedMessage != "" {
		text += "\n" + s.finishedMessage
	}
	// The cursor has already moved; a failed send loses this chunk for
	// the reader.
	if err := notify.SendLong(ctx, s.notifier, sub.ReaderID, text); err != nil {
		return 0, fmt.Errorf("sending chunk %d: %w", d.Index, err)
	}
	if d.Finished {
		return outcomeFinished, nil
	}
	return outcomeSent, nil
}

// Run calls DeliverDue at the start of every minute until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case t := <-timer.C:
			if _, err := s.DeliverDue(ctx, t); err != nil && ctx.Err() == nil {
				s.logger.Error("error running scheduled delivery", "err", err)
			}
		}
	}
}
