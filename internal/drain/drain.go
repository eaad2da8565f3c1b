// Package drain moves buffered notifications onto the dispatch queue on a
// fixed cadence. The schedule, not ingestion rate, caps how fast work reaches
// the delivery side; that is the pipeline's admission control.
package drain

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"botrelay/internal/relay"
	"botrelay/internal/store"
	logx "botrelay/pkg/logx"
)

// Publisher is the slice of the dispatch queue the scheduler needs.
type Publisher interface {
	Publish(ctx context.Context, stream string, payload []byte) error
}

type Config struct {
	Interval  time.Duration // default 5s
	BatchSize int           // max items popped per partition per cycle, default 5
	ScanLimit int           // max partitions discovered per cycle, default 256
	Stream    string        // dispatch stream name
}

// Scheduler runs one recurring drain job. Overlap policy: a tick that fires
// while the previous cycle is still running is skipped (and logged), never
// queued; under a slow store this degrades cadence instead of stacking runs.
type Scheduler struct {
	cfg   Config
	log   logx.Logger
	store *store.Store
	pub   Publisher

	cron  *cron.Cron
	inRun atomic.Bool

	// cycleCtx drives the work inside a tick. It is deliberately decoupled
	// from the caller's context: a shutdown signal must not fail publishes for
	// items already popped from the buffer. Stop cancels it only after its own
	// deadline expires.
	cycleCtx    context.Context
	cycleCancel context.CancelFunc

	cycles  atomic.Uint64
	skipped atomic.Uint64
}

func New(cfg Config, st *store.Store, pub Publisher, log logx.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = 256
	}
	if cfg.Stream == "" {
		cfg.Stream = "telegram:messages"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:         cfg,
		log:         log,
		store:       st,
		pub:         pub,
		cycleCtx:    context.Background(),
		cycleCancel: func() {},
	}
}

// Start schedules the periodic job. Stopping the scheduler is separate (Stop).
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	s.cycleCtx, s.cycleCancel = context.WithCancel(context.Background())
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), s.tick)
	if err != nil {
		s.cycleCancel()
		return fmt.Errorf("drain schedule: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info("drain scheduler started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Int("batch_size", s.cfg.BatchSize))
	return nil
}

// Stop halts scheduling and waits for an in-flight cycle to finish, so a
// shutdown never abandons a half-drained batch mid-publish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop().Done()
	s.cron = nil
	select {
	case <-done:
		s.cycleCancel()
		return nil
	case <-ctx.Done():
		// Deadline hit; abort the in-flight cycle rather than wait forever.
		s.cycleCancel()
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	if !s.inRun.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("drain tick skipped; previous cycle still running")
		return
	}
	defer s.inRun.Store(false)
	s.RunCycle(s.cycleCtx)
}

// RunCycle performs one drain pass: discover partitions, pop a bounded batch
// from each, publish every popped item. Failures are isolated per item and
// per partition; the cycle always visits everything it discovered.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := time.Now()
	s.cycles.Add(1)

	keys, err := s.store.ScanKeys(ctx, relay.PartitionPattern(), s.cfg.ScanLimit)
	if err != nil {
		s.log.Error("partition discovery failed", logx.Err(err))
		return
	}
	if len(keys) == 0 {
		return
	}

	var popped, published int
	for _, key := range keys {
		batch, err := s.store.PopBatch(ctx, key, s.cfg.BatchSize)
		if err != nil {
			s.log.Error("pop failed", logx.String("partition", key), logx.Err(err))
			continue
		}
		// Empty is normal: another cycle may have drained the partition
		// between discovery and pop.
		if len(batch) == 0 {
			continue
		}
		popped += len(batch)
		published += s.publishBatch(ctx, key, batch)
	}

	if popped > 0 {
		s.log.Info("drain cycle",
			logx.Int("partitions", len(keys)),
			logx.Int("popped", popped),
			logx.Int("published", published),
			logx.Duration("took", time.Since(start)))
	}
}

func (s *Scheduler) publishBatch(ctx context.Context, key string, batch [][]byte) int {
	published := 0
	for _, raw := range batch {
		n, err := relay.DecodeNotification(raw)
		if err != nil {
			// Corrupt buffer entry; drop it, nothing downstream could use it.
			s.log.Error("dropping undecodable buffer entry",
				logx.String("partition", key), logx.Err(err))
			continue
		}
		msg := relay.NewDispatchMessage(n)
		payload, err := msg.Encode()
		if err != nil {
			s.log.Error("encode dispatch message failed",
				logx.String("partition", key), logx.Err(err))
			continue
		}
		// A failed publish drops this item from the cycle but must not block
		// the rest of the batch.
		if err := s.pub.Publish(ctx, s.cfg.Stream, payload); err != nil {
			s.log.Error("publish failed; item dropped this cycle",
				logx.String("partition", key),
				logx.String("msg_id", msg.ID),
				logx.Err(err))
			continue
		}
		published++
	}
	return published
}

// Stats reports cycle counters for operational visibility.
func (s *Scheduler) Stats() (cycles, skipped uint64) {
	return s.cycles.Load(), s.skipped.Load()
}
