package config

import (
	"context"
	"fmt"
	"strings"
)

// Validate rejects configs that could not be applied. It is used both at
// startup and as the Watch() validator, so a live edit can never commit an
// unusable snapshot.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Credentials.Path) == "" {
		return fmt.Errorf("credentials.path is required")
	}
	if cfg.Redis.ConnectAttempts < 0 {
		return fmt.Errorf("redis.connect_attempts must be >= 0")
	}
	if cfg.Drain.BatchSize < 0 {
		return fmt.Errorf("drain.batch_size must be >= 0")
	}
	if cfg.Drain.ScanLimit < 0 {
		return fmt.Errorf("drain.scan_limit must be >= 0")
	}
	if cfg.Deliver.Workers < 0 {
		return fmt.Errorf("deliver.workers must be >= 0")
	}

	for _, f := range []struct{ path, raw string }{
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeout},
		{"redis.connect_backoff", cfg.Redis.ConnectBackoff},
		{"credentials.busy_timeout", cfg.Credentials.BusyTimeout},
		{"drain.interval", cfg.Drain.Interval},
		{"deliver.provider_timeout", cfg.Deliver.ProviderTimeout},
		{"deliver.redelivery_idle", cfg.Deliver.RedeliveryIdle},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	return nil
}
