package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"botrelay/internal/credential"
	"botrelay/internal/relay"
	"botrelay/internal/store"
	logx "botrelay/pkg/logx"
)

type stubGate struct {
	keys map[string]credential.Identity
}

func (g *stubGate) Resolve(_ context.Context, key string) (credential.Identity, error) {
	id, ok := g.keys[key]
	if !ok {
		return credential.Identity{}, credential.ErrNotFound
	}
	return id, nil
}

func testServer(t *testing.T) (*httptest.Server, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.New(store.Config{
		Addr:         mr.Addr(),
		ConnectRetry: store.RetryPolicy{Attempts: 1},
	}, logx.Nop())
	if err := st.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	gate := &stubGate{keys: map[string]credential.Identity{
		"abc": {BotID: 1, Name: "orders-bot", Token: "T1"},
	}}
	srv := New(Config{}, gate, st, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mr
}

func postNotify(t *testing.T, ts *httptest.Server, key string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/notify", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestNotifyAccepted(t *testing.T) {
	ts, mr := testServer(t)

	resp := postNotify(t, ts, "abc", map[string]any{
		"target_id": 42,
		"message":   "hi",
		"format":    "markdown",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	key := relay.PartitionKey("T1", 42)
	items, err := mr.List(key)
	if err != nil {
		t.Fatalf("list %s: %v", key, err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 buffered record, got %d", len(items))
	}
	n, err := relay.DecodeNotification([]byte(items[0]))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.BotToken != "T1" || n.TargetID != 42 || n.Message != "hi" || n.Format != relay.ModeMarkdown {
		t.Fatalf("unexpected record: %+v", n)
	}
	if n.EnqueuedAt == 0 {
		t.Fatal("enqueue timestamp not stamped")
	}
}

func TestNotifyUnauthorized(t *testing.T) {
	ts, mr := testServer(t)

	for _, key := range []string{"", "wrong"} {
		resp := postNotify(t, ts, key, map[string]any{"target_id": 42, "message": "hi"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("key %q: status = %d, want 401", key, resp.StatusCode)
		}
	}
	if got := mr.Keys(); len(got) != 0 {
		t.Fatalf("unauthorized request wrote to the buffer: %v", got)
	}
}

func TestNotifyBadRequest(t *testing.T) {
	ts, mr := testServer(t)

	cases := []map[string]any{
		{"message": "hi"},                                     // missing target
		{"target_id": 42},                                     // missing message
		{"target_id": 42, "message": "x", "format": "rtf"},    // bad format
		{"target_id": 42, "message": "x", "source": "pigeon"}, // bad source
	}
	for i, body := range cases {
		resp := postNotify(t, ts, "abc", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
	}
	if got := mr.Keys(); len(got) != 0 {
		t.Fatalf("rejected request wrote to the buffer: %v", got)
	}
}

func TestNotifyDuplicatesAreBufferedTwice(t *testing.T) {
	ts, mr := testServer(t)

	body := map[string]any{"target_id": 7, "message": "again"}
	postNotify(t, ts, "abc", body)
	postNotify(t, ts, "abc", body)

	items, err := mr.List(relay.PartitionKey("T1", 7))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// No dedup key exists; a client retry is a second record by design.
	if len(items) != 2 {
		t.Fatalf("expected 2 buffered records, got %d", len(items))
	}
}

func TestHealthz(t *testing.T) {
	ts, mr := testServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	mr.Close()
	resp, err = ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
