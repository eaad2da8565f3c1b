package credential

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "botrelay/pkg/logx"
)

func testGate(t *testing.T) *SQLiteGate {
	t.Helper()
	g, err := OpenSQLite(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "creds.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })

	if _, err := g.db.Exec(`INSERT INTO bots(id, name, token) VALUES(1, 'orders-bot', 'T1')`); err != nil {
		t.Fatalf("seed bot: %v", err)
	}
	if _, err := g.db.Exec(`INSERT INTO api_keys(key, bot_id, is_active) VALUES('abc', 1, 1)`); err != nil {
		t.Fatalf("seed key: %v", err)
	}
	if _, err := g.db.Exec(`INSERT INTO api_keys(key, bot_id, is_active) VALUES('old', 1, 0)`); err != nil {
		t.Fatalf("seed revoked key: %v", err)
	}
	return g
}

func TestResolveActiveKey(t *testing.T) {
	g := testGate(t)
	id, err := g.Resolve(context.Background(), "abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.BotID != 1 || id.Name != "orders-bot" || id.Token != "T1" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestResolveRejections(t *testing.T) {
	g := testGate(t)
	for _, key := range []string{"old", "nope", "", "  "} {
		_, err := g.Resolve(context.Background(), key)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("key %q: expected ErrNotFound, got %v", key, err)
		}
	}
}

func TestResolveAfterRotation(t *testing.T) {
	g := testGate(t)
	ctx := context.Background()

	// Rotation: old key deactivated, new key issued for the same bot.
	if _, err := g.db.Exec(`UPDATE api_keys SET is_active = 0 WHERE key = 'abc'`); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := g.db.Exec(`INSERT INTO api_keys(key, bot_id, is_active) VALUES('def', 1, 1)`); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := g.Resolve(ctx, "abc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rotated-away key must not authenticate, got %v", err)
	}
	id, err := g.Resolve(ctx, "def")
	if err != nil {
		t.Fatalf("resolve new key: %v", err)
	}
	if id.Token != "T1" {
		t.Fatalf("unexpected token: %q", id.Token)
	}
}
