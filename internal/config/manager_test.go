package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `
http:
  addr: ":9090"
redis:
  addr: "10.0.0.5:6379"
  connect_attempts: 5
  connect_backoff: "2s"
credentials:
  path: "/var/lib/relay/creds.db"
drain:
  interval: "3s"
  batch_size: 10
deliver:
  workers: 4
  rate_per_sec: 30
logging:
  level: "debug"
  console: true
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Redis.Addr != "10.0.0.5:6379" || cfg.Redis.ConnectAttempts != 5 {
		t.Fatalf("redis = %+v", cfg.Redis)
	}
	if cfg.Drain.Interval != "3s" || cfg.Drain.BatchSize != 10 {
		t.Fatalf("drain = %+v", cfg.Drain)
	}
	if cfg.Deliver.Workers != 4 || cfg.Deliver.RatePerSec != 30 {
		t.Fatalf("deliver = %+v", cfg.Deliver)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed snapshot")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, `
credentials:
  path: "/tmp/creds.db"
drainn:
  interval: "3s"
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("misspelled section must be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RELAY_REDIS_ADDR", "override:6379")
	t.Setenv("RELAY_HTTP_ADDR", ":7070")
	t.Setenv("RELAY_LOG_LEVEL", "warn")

	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Redis.Addr != "override:6379" {
		t.Fatalf("redis.addr = %q, env override not applied", cfg.Redis.Addr)
	}
	if cfg.HTTP.Addr != ":7070" {
		t.Fatalf("http.addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("logging.level = %q", cfg.Logging.Level)
	}
	// Untouched fields keep the file values.
	if cfg.Credentials.Path != "/var/lib/relay/creds.db" {
		t.Fatalf("credentials.path = %q", cfg.Credentials.Path)
	}
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	base := func() *Config {
		return &Config{Credentials: CredentialsConfig{Path: "/tmp/creds.db"}}
	}

	if err := Validate(ctx, base()); err != nil {
		t.Fatalf("minimal config must validate: %v", err)
	}
	if err := Validate(ctx, &Config{}); err == nil {
		t.Fatal("missing credentials.path must be rejected")
	}

	cfg := base()
	cfg.Drain.Interval = "five seconds"
	if err := Validate(ctx, cfg); err == nil {
		t.Fatal("unparseable duration must be rejected")
	}

	cfg = base()
	cfg.Deliver.Workers = -1
	if err := Validate(ctx, cfg); err == nil {
		t.Fatal("negative worker count must be rejected")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	want := &Config{}
	m.publish(want)
	select {
	case got := <-ch:
		if got != want {
			t.Fatal("subscriber received a different snapshot")
		}
	default:
		t.Fatal("no config delivered")
	}
}

func TestPublishDropsStaleForSlowSubscriber(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	stale := &Config{Logging: LoggingConfig{Level: "stale"}}
	fresh := &Config{Logging: LoggingConfig{Level: "fresh"}}
	m.publish(stale)
	m.publish(fresh)

	select {
	case got := <-ch:
		if got.Logging.Level != "fresh" {
			t.Fatalf("slow subscriber got %q, want the latest snapshot", got.Logging.Level)
		}
	default:
		t.Fatal("no config delivered")
	}
}

func TestWatchStopsPendingReload(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Let the watcher register, trigger a reload, then shut down inside the
	// debounce window so the pending timer must be discarded.
	time.Sleep(50 * time.Millisecond)
	changed := strings.Replace(sampleYAML, `addr: ":9090"`, `addr: ":9191"`, 1)
	if err := os.WriteFile(path, []byte(changed), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}

	// Past the debounce window: nothing may have been published.
	time.Sleep(400 * time.Millisecond)
	select {
	case cfg := <-ch:
		t.Fatalf("reload published after the watcher stopped: %+v", cfg)
	default:
	}
}

func TestDurationHelpers(t *testing.T) {
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDurationField("x", "-3s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	if err != nil || d != 5*time.Second {
		t.Fatalf("empty field must fall back to default, got %v (%v)", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", 5*time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("explicit field ignored, got %v (%v)", d, err)
	}
	if got := IntOrDefault(0, 7); got != 7 {
		t.Fatalf("IntOrDefault = %d", got)
	}
	if got := IntOrDefault(3, 7); got != 3 {
		t.Fatalf("IntOrDefault = %d", got)
	}
	if got := StringOrDefault(" ", "d"); got != "d" {
		t.Fatalf("StringOrDefault = %q", got)
	}
	if got := StringOrDefault("v", "d"); got != "v" {
		t.Fatalf("StringOrDefault = %q", got)
	}
}
