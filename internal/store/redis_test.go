package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"

	logx "botrelay/pkg/logx"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := New(Config{
		Addr:         mr.Addr(),
		ConnectRetry: RetryPolicy{Attempts: 1},
	}, logx.Nop())
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestAppendPopFIFO(t *testing.T) {
	st, _ := testStore(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := st.Append(ctx, "notify:telegram:a:1", fmt.Appendf(nil, "m%d", i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	batch, err := st.PopBatch(ctx, "notify:telegram:a:1", 5)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(batch) != 5 {
		t.Fatalf("expected 5 items, got %d", len(batch))
	}
	for i, b := range batch {
		if string(b) != fmt.Sprintf("m%d", i) {
			t.Fatalf("pop order broken at %d: %s", i, b)
		}
	}

	rest, err := st.PopBatch(ctx, "notify:telegram:a:1", 5)
	if err != nil {
		t.Fatalf("pop rest: %v", err)
	}
	if len(rest) != 2 || string(rest[0]) != "m5" || string(rest[1]) != "m6" {
		t.Fatalf("unexpected remainder: %q", rest)
	}
}

func TestPopEmptyPartition(t *testing.T) {
	st, _ := testStore(t)
	ctx := context.Background()

	// Missing key and drained key both yield (nil, nil).
	batch, err := st.PopBatch(ctx, "notify:telegram:missing:9", 5)
	if err != nil {
		t.Fatalf("pop missing: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil batch, got %q", batch)
	}

	if err := st.Append(ctx, "notify:telegram:b:2", []byte("x")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := st.PopBatch(ctx, "notify:telegram:b:2", 5); err != nil {
		t.Fatalf("pop: %v", err)
	}
	batch, err = st.PopBatch(ctx, "notify:telegram:b:2", 5)
	if err != nil || batch != nil {
		t.Fatalf("drained partition: batch=%q err=%v", batch, err)
	}
}

func TestScanKeysBounded(t *testing.T) {
	st, _ := testStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("notify:telegram:s:%d", i)
		if err := st.Append(ctx, key, []byte("v")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// Unrelated keyspace must not be discovered.
	if err := st.Append(ctx, "other:list", []byte("v")); err != nil {
		t.Fatalf("append: %v", err)
	}

	keys, err := st.ScanKeys(ctx, "notify:telegram:*", 10)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(keys) != 10 {
		t.Fatalf("expected 10 keys (bounded), got %d", len(keys))
	}
	for _, k := range keys {
		if k == "other:list" {
			t.Fatalf("pattern leak: %q", k)
		}
	}

	all, err := st.ScanKeys(ctx, "notify:telegram:*", 100)
	if err != nil {
		t.Fatalf("scan all: %v", err)
	}
	if len(all) != 20 {
		t.Fatalf("expected 20 keys, got %d", len(all))
	}
}

func TestConnectRetryExhausted(t *testing.T) {
	// Nothing listens here; connect must fail after the bounded attempts.
	st := New(Config{
		Addr:         "127.0.0.1:1",
		ConnectRetry: RetryPolicy{Attempts: 2, Delay: 0},
	}, logx.Nop())
	if err := st.Connect(context.Background()); err == nil {
		_ = st.Close()
		t.Fatal("expected connect error")
	}
}
