package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "botrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// SQLiteGate looks keys up in the credential database the admin tooling
// maintains. database/sql serializes access, so Resolve is safe to call from
// any number of request handlers.
type SQLiteGate struct {
	db  *sql.DB
	log logx.Logger
}

func OpenSQLite(cfg SQLiteConfig, log logx.Logger) (*SQLiteGate, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("credential db path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers; we only read, but
	// keep the pool tiny to play nice with whoever provisions keys.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	g := &SQLiteGate{db: db, log: log}
	if err := g.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *SQLiteGate) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = g.db.ExecContext(ctx, string(b))
	return err
}

func (g *SQLiteGate) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Resolve maps an API key to its bot. Revoked keys take the same path as
// unknown ones.
func (g *SQLiteGate) Resolve(ctx context.Context, key string) (Identity, error) {
	if strings.TrimSpace(key) == "" {
		return Identity{}, ErrNotFound
	}
	var id Identity
	err := g.db.QueryRowContext(ctx,
		`SELECT b.id, b.name, b.token
		 FROM api_keys k
		 JOIN bots b ON b.id = k.bot_id
		 WHERE k.key = ? AND k.is_active = 1`,
		key,
	).Scan(&id.BotID, &id.Name, &id.Token)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("credential lookup: %w", err)
	}
	return id, nil
}
