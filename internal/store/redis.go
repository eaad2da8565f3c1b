// Package store adapts Redis into the buffer the relay needs: per-partition
// append, bounded FIFO pop, and pattern discovery, behind one explicitly
// owned connection with a centralized connect retry.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	logx "botrelay/pkg/logx"
)

type Config struct {
	Addr     string
	DB       int
	Password string

	// ConnectRetry applies to Connect() only; individual operations fail fast
	// and leave retrying to the caller's layer.
	ConnectRetry RetryPolicy
}

// Store is safe for concurrent use; go-redis pools connections internally.
type Store struct {
	cfg Config
	log logx.Logger
	rdb *redis.Client
}

func New(cfg Config, log logx.Logger) *Store {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.ConnectRetry.Attempts == 0 {
		cfg.ConnectRetry = DefaultConnectRetry
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{cfg: cfg, log: log}
}

// Connect establishes and verifies the Redis handle. It is called once at
// startup; exhausted retries surface as a fatal error to the caller.
func (s *Store) Connect(ctx context.Context) error {
	if s.rdb != nil {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		DB:       s.cfg.DB,
		Password: s.cfg.Password,
	})
	err := s.cfg.ConnectRetry.Do(ctx, s.log, "redis connect", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return err
	}
	s.rdb = rdb
	s.log.Info("redis connected", logx.String("addr", s.cfg.Addr), logx.Int("db", s.cfg.DB))
	return nil
}

func (s *Store) Close() error {
	if s.rdb == nil {
		return nil
	}
	err := s.rdb.Close()
	s.rdb = nil
	return err
}

// Client exposes the underlying handle for collaborators that share the
// connection (the dispatch queue adapter). Valid only after Connect.
func (s *Store) Client() *redis.Client { return s.rdb }

// Ping reports backend health; used by the HTTP health probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.rdb == nil {
		return errors.New("store: not connected")
	}
	return s.rdb.Ping(ctx).Err()
}

// Append pushes one payload onto the tail of a partition, creating the
// partition implicitly on first use.
func (s *Store) Append(ctx context.Context, key string, payload []byte) error {
	if s.rdb == nil {
		return errors.New("store: not connected")
	}
	if err := s.rdb.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("append %s: %w", key, err)
	}
	return nil
}

// PopBatch removes up to n payloads from the head of a partition, preserving
// insertion order. An empty or missing partition yields (nil, nil); callers
// treat that as "nothing to drain", not an error.
func (s *Store) PopBatch(ctx context.Context, key string, n int) ([][]byte, error) {
	if s.rdb == nil {
		return nil, errors.New("store: not connected")
	}
	if n <= 0 {
		return nil, nil
	}
	vals, err := s.rdb.LPopCount(ctx, key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", key, err)
	}
	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

// ScanKeys discovers keys matching pattern, capped at limit so one drain
// cycle never walks an unbounded keyspace. The cap makes discovery eventually
// complete rather than exhaustive per cycle; leftovers are picked up next
// tick.
func (s *Store) ScanKeys(ctx context.Context, pattern string, limit int) ([]string, error) {
	if s.rdb == nil {
		return nil, errors.New("store: not connected")
	}
	if limit <= 0 {
		limit = 256
	}
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := s.rdb.Scan(ctx, cursor, pattern, 64).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, page...)
		if len(keys) >= limit {
			keys = keys[:limit]
			break
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
