// Package queue adapts Redis Streams into the dispatch queue contract the
// relay depends on: durable publish, at-least-once delivery to a consumer
// group, explicit ack, and redelivery of entries left pending by a failed
// handler.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "botrelay/pkg/logx"
)

const payloadField = "payload"

// Queue publishes onto a stream. It shares the process-wide Redis handle.
type Queue struct {
	rdb *redis.Client
	log logx.Logger
}

func New(rdb *redis.Client, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{rdb: rdb, log: log}
}

// Publish appends one payload to the stream. Once XADD returns the entry is
// durable in Redis; consumers must ack it away.
func (q *Queue) Publish(ctx context.Context, stream string, payload []byte) error {
	if q.rdb == nil {
		return errors.New("queue: not connected")
	}
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish %s: %w", stream, err)
	}
	return nil
}

// Handler processes one delivery. Returning nil acks the entry (it will not
// be seen again); returning an error leaves it pending for redelivery.
type Handler func(ctx context.Context, payload []byte) error

type SubscriberConfig struct {
	Stream   string
	Group    string
	Consumer string

	// Count bounds entries taken per read. Block bounds how long an idle read
	// waits before the loop re-checks ctx.
	Count int64
	Block time.Duration

	// RedeliveryIdle is how long an entry may sit unacked in another
	// consumer's pending list before this subscriber claims it.
	RedeliveryIdle time.Duration
}

// Subscriber pulls from one consumer group. Run multiple subscribers with
// distinct consumer names for concurrent processing; the group guarantees
// each entry is owned by exactly one consumer until acked or reclaimed.
type Subscriber struct {
	cfg SubscriberConfig
	rdb *redis.Client
	log logx.Logger
}

func (q *Queue) NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.RedeliveryIdle <= 0 {
		cfg.RedeliveryIdle = 30 * time.Second
	}
	return &Subscriber{cfg: cfg, rdb: q.rdb, log: q.log.With(logx.String("consumer", cfg.Consumer))}
}

// EnsureGroup creates the consumer group (and the stream) if absent.
// Starting at "0" means entries published before the first subscriber came up
// are still delivered.
func (s *Subscriber) EnsureGroup(ctx context.Context) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.cfg.Stream, s.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s/%s: %w", s.cfg.Stream, s.cfg.Group, err)
	}
	return nil
}

// Run consumes until ctx is done. Each pass first reclaims stale pending
// entries (crashed or wedged consumers), then reads new ones.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := s.ProcessOnce(ctx, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("queue read failed", logx.String("stream", s.cfg.Stream), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce performs a single claim+read pass and returns how many entries
// were handled. Split out from Run so tests can drive the subscriber
// deterministically.
func (s *Subscriber) ProcessOnce(ctx context.Context, h Handler) (int, error) {
	handled, err := s.claimStale(ctx, h)
	if err != nil {
		return handled, err
	}

	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		Streams:  []string{s.cfg.Stream, ">"},
		Count:    s.cfg.Count,
		Block:    s.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return handled, nil
	}
	if err != nil {
		return handled, fmt.Errorf("read %s: %w", s.cfg.Stream, err)
	}
	for _, str := range res {
		for _, msg := range str.Messages {
			s.handle(ctx, h, msg)
			handled++
		}
	}
	return handled, nil
}

func (s *Subscriber) claimStale(ctx context.Context, h Handler) (int, error) {
	msgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.cfg.Stream,
		Group:    s.cfg.Group,
		Consumer: s.cfg.Consumer,
		MinIdle:  s.cfg.RedeliveryIdle,
		Start:    "0-0",
		Count:    s.cfg.Count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		// NOGROUP happens when the group doesn't exist yet (first run races).
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("claim %s: %w", s.cfg.Stream, err)
	}
	for _, msg := range msgs {
		s.handle(ctx, h, msg)
	}
	return len(msgs), nil
}

func (s *Subscriber) handle(ctx context.Context, h Handler, msg redis.XMessage) {
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		// Malformed entry; ack it away, redelivery cannot repair it.
		s.log.Error("stream entry missing payload", logx.String("id", msg.ID))
		s.ack(ctx, msg.ID)
		return
	}
	if err := h(ctx, []byte(payload)); err != nil {
		// Leave pending; the entry is redelivered after RedeliveryIdle.
		s.log.Warn("handler failed; leaving entry pending",
			logx.String("id", msg.ID), logx.Err(err))
		return
	}
	s.ack(ctx, msg.ID)
}

func (s *Subscriber) ack(ctx context.Context, id string) {
	if err := s.rdb.XAck(ctx, s.cfg.Stream, s.cfg.Group, id).Err(); err != nil {
		// The entry stays pending and will be redelivered; the handler must
		// tolerate the duplicate (at-least-once).
		s.log.Warn("ack failed", logx.String("id", id), logx.Err(err))
	}
}
