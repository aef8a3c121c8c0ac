package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/installment/config"
	"github.com/poiesic/installment/core"
	"github.com/poiesic/installment/ingestion"
	redisnotify "github.com/poiesic/installment/notify/redis"
	redisqueue "github.com/poiesic/installment/queue/redis"
	"github.com/poiesic/installment/source"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

func ingestCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	blocks, err := source.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("reading %s: %w", c.String("file"), err)
	}

	mode := core.Mode(c.String("mode"))
	if mode == "" {
		mode = cfg.Ingestion.Mode
	}
	policy := core.Policy(c.String("policy"))
	if policy == "" {
		policy = cfg.Ingestion.Policy
	}

	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	// Other transports have their own workers.
	if cfg.Queue.Type == config.TransportMemory {
		g.Go(func() error { return lib.RunWorkers(gctx) })
	}

	var job *core.Job
	g.Go(func() error {
		defer cancel()
		var err error
		job, err = lib.Ingest(gctx, ingestion.IngestRequest{
			Title:        c.String("title"),
			Blocks:       blocks,
			Mode:         mode,
			Policy:       policy,
			ReaderID:     c.String("reader"),
			NotifyTarget: c.String("notify"),
		}, 100*time.Millisecond)
		return err
	})
	if err := g.Wait(); err != nil && job == nil {
		return err
	}
	if job == nil {
		return errors.New("ingestion did not start")
	}

	fmt.Fprintf(c.App.Writer, "job %s %s: %d blocks, %d chunks", job.ID, job.Status, len(blocks), job.ChunksCreated)
	if job.FailedBlocks > 0 {
		fmt.Fprintf(c.App.Writer, ", %d blocks failed", job.FailedBlocks)
	}
	fmt.Fprintf(c.App.Writer, "\ndocument %s\n", strconv.FormatUint(uint64(job.DocumentID), 10))
	if job.Status != core.JobCompleted {
		return fmt.Errorf("job %s ended %s", job.ID, job.Status)
	}
	return nil
}

func readCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	ctx := c.Context
	readerID := c.String("reader")
	docID, selected, err := documentFlag(c)
	if err != nil {
		return err
	}
	if selected {
		if _, err := lib.Reader().SelectDocument(ctx, readerID, docID); err != nil {
			return err
		}
	}

	if c.Bool("position") {
		pos, err := lib.Reader().Position(ctx, readerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s: %d/%d", pos.Title, pos.Index, pos.Total)
		if pos.Finished {
			fmt.Fprint(c.App.Writer, " (finished)")
		}
		fmt.Fprintln(c.App.Writer)
		return nil
	}

	d, err := lib.Reader().NextChunk(ctx, readerID)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, d.Text)
	if !d.Finished {
		fmt.Fprintf(c.App.Writer, "[%d/%d]\n", d.Index+1, d.Total)
	}
	return nil
}

func booksCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	positions, err := lib.Reader().Documents(c.Context, c.String("reader"))
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Fprintln(c.App.Writer, "no documents")
		return nil
	}
	for _, pos := range positions {
		marker := " "
		if pos.Active {
			marker = "*"
		}
		state := fmt.Sprintf("%d/%d", pos.Index, pos.Total)
		if pos.Finished {
			state += " finished"
		}
		fmt.Fprintf(c.App.Writer, "%s %s %s %s\n", marker, strconv.FormatUint(uint64(pos.DocumentID), 10), pos.Title, state)
	}
	return nil
}

type jobView struct {
	ID            string    `yaml:"id"`
	DocumentID    string    `yaml:"document_id"`
	Title         string    `yaml:"title"`
	Status        string    `yaml:"status"`
	Mode          string    `yaml:"mode"`
	Policy        string    `yaml:"policy"`
	Batches       string    `yaml:"batches"`
	Failed        []int     `yaml:"failed,omitempty"`
	ChunksCreated int       `yaml:"chunks_created"`
	FailedBlocks  int       `yaml:"failed_blocks"`
	Redispatches  int       `yaml:"redispatches"`
	CreatedAt     time.Time `yaml:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at"`
}

func statusCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	job, err := lib.Coordinator().Status(c.Context, c.String("job"))
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(jobView{
		ID:            job.ID,
		DocumentID:    strconv.FormatUint(uint64(job.DocumentID), 10),
		Title:         job.Title,
		Status:        job.Status.String(),
		Mode:          string(job.Mode),
		Policy:        string(job.Policy),
		Batches:       fmt.Sprintf("%d/%d", len(job.Completed), job.TotalBatches),
		Failed:        job.Failed,
		ChunksCreated: job.ChunksCreated,
		FailedBlocks:  job.FailedBlocks,
		Redispatches:  job.Redispatches,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	})
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}

func subscribeCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	docID, ok, err := documentFlag(c)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("one of --doc or --title is required")
	}
	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	subs := lib.Store().Subscriptions()
	readerID := c.String("reader")
	if c.Bool("disable") {
		if err := subs.Disable(c.Context, readerID, docID); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "subscription of %s disabled\n", readerID)
		return nil
	}
	if _, err := lib.Store().Documents().GetDocument(c.Context, docID); err != nil {
		return fmt.Errorf("%w: %d", core.ErrDocumentNotFound, docID)
	}
	sub := &core.Subscription{ReaderID: readerID, DocumentID: docID, Slot: c.String("slot"), Enabled: true}
	if err := subs.Subscribe(c.Context, sub); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s subscribed at %s\n", readerID, sub.Slot)
	return nil
}

func sweepCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	sweeper, err := lib.NewSweeper()
	if err != nil {
		return err
	}
	stats, err := sweeper.Sweep(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "scanned %d, stale %d, completed %d, redispatched %d, abandoned %d, errors %d\n",
		stats.Scanned, stats.Stale, stats.Completed, stats.Redispatched, stats.Abandoned, stats.Errors)
	return nil
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if q := c.String("queue"); q != "" {
		cfg.Queue.Type = q
	}
	if n := c.String("notifier"); n != "" {
		cfg.Notifier.Type = n
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lib, err := openLibrary(c, cfg)
	if err != nil {
		return err
	}
	defer lib.Close()

	srv, err := lib.NewServer()
	if err != nil {
		return err
	}
	scheduler, err := lib.NewScheduler()
	if err != nil {
		return err
	}
	sweeper, err := lib.NewSweeper()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error { return srv.Run(ctx, cfg.Server.Addr) })
	g.Go(func() error { return lib.RunWorkers(ctx) })
	g.Go(func() error { return ignoreCanceled(scheduler.Run(ctx)) })
	if every := c.Duration("sweep-every"); every > 0 {
		g.Go(func() error { return sweepLoop(ctx, sweeper, every) })
	}
	slog.Info("installment serving", "addr", cfg.Server.Addr, "queue", cfg.Queue.Type,
		"notifier", cfg.Notifier.Type, "backend", cfg.Storage.Backend)
	return g.Wait()
}

func sweepLoop(ctx context.Context, sweeper *ingestion.Sweeper, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := sweeper.Sweep(ctx); err != nil && ctx.Err() == nil {
				slog.Error("error sweeping jobs", "err", err)
			}
		}
	}
}

func listenCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	channel := c.String("channel")
	if channel == "" {
		channel = cfg.Notifier.Channel
	}
	rdb, err := redisqueue.Connect(c.Context, cfg.Notifier.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	n := redisnotify.NewNotifier(rdb, channel, slog.Default())
	err = n.Listen(c.Context, func(env redisnotify.Envelope) {
		fmt.Fprintf(c.App.Writer, "%s [%s] %s\n", env.SentAt.Format(time.RFC3339), env.Target, env.Text)
	})
	return ignoreCanceled(err)
}

// documentFlag resolves --doc or --title. ok is false when neither is set.
func documentFlag(c *cli.Context) (id core.ID, ok bool, err error) {
	if s := strings.TrimSpace(c.String("doc")); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid document id %q: %w", s, err)
		}
		return core.ID(v), true, nil
	}
	if title := c.String("title"); strings.TrimSpace(title) != "" {
		return core.DocumentIDFromTitle(title), true, nil
	}
	return 0, false, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
