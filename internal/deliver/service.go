package deliver

import (
	"context"
	"fmt"
	"time"

	"botrelay/internal/queue"
	"botrelay/internal/runtime/supervisor"
	logx "botrelay/pkg/logx"
)

type Config struct {
	Workers        int           // concurrent subscribers, default 2
	RatePerSec     int           // aggregate provider send cap
	Stream         string        // dispatch stream, default "telegram:messages"
	Group          string        // consumer group, default "relay"
	RedeliveryIdle time.Duration // pending age before reclaim, default 30s
}

// Service runs the delivery side: N queue subscribers sharing one worker.
// Ordering across subscribers is not guaranteed; per-partition order only
// holds up to the queue hand-off.
type Service struct {
	cfg Config
	log logx.Logger
	q   *queue.Queue
	w   *Worker

	sup *supervisor.Supervisor
}

// NewService builds the delivery side. The queue handle is attached later via
// BindQueue; it shares the store's Redis connection, which only exists after
// Connect.
func NewService(cfg Config, provider Provider, log logx.Logger) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Stream == "" {
		cfg.Stream = "telegram:messages"
	}
	if cfg.Group == "" {
		cfg.Group = "relay"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		w:   NewWorker(provider, cfg.RatePerSec, log),
	}
}

// BindQueue attaches the queue handle. Must be called before Start.
func (s *Service) BindQueue(q *queue.Queue) { s.q = q }

func (s *Service) Start(ctx context.Context) {
	if s.sup != nil {
		return
	}
	if s.q == nil {
		s.log.Warn("delivery start skipped; no queue bound")
		return
	}
	s.sup = supervisor.New(ctx,
		supervisor.WithLogger(s.log.With(logx.String("comp", "deliver"))),
		// A single wedged subscriber should not take the others down.
		supervisor.WithCancelOnError(false),
	)
	for i := 0; i < s.cfg.Workers; i++ {
		sub := s.q.NewSubscriber(queue.SubscriberConfig{
			Stream:         s.cfg.Stream,
			Group:          s.cfg.Group,
			Consumer:       fmt.Sprintf("relay-%d", i),
			RedeliveryIdle: s.cfg.RedeliveryIdle,
		})
		name := fmt.Sprintf("subscriber.%d", i)
		s.sup.Go(name, func(ctx context.Context) error {
			return sub.Run(ctx, s.w.Handle)
		})
	}
	s.log.Info("delivery workers started",
		logx.Int("workers", s.cfg.Workers),
		logx.String("stream", s.cfg.Stream),
		logx.String("group", s.cfg.Group))
}

// Stop waits for subscribers to finish their in-flight message. The provider
// call is the long pole; its HTTP timeout bounds how long this can take.
func (s *Service) Stop(ctx context.Context) error {
	if s.sup == nil {
		return nil
	}
	err := s.sup.Stop(ctx)
	s.sup = nil
	return err
}
