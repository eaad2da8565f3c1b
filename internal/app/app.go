// Package app assembles the relay: config, logging, the shared Redis handle,
// the credential gate, and the three pipeline stages (ingest HTTP, drain
// scheduler, delivery workers). Components receive their dependencies at
// construction; there is no ambient global state.
package app

import (
	"context"
	"fmt"
	"time"

	"botrelay/internal/config"
	"botrelay/internal/credential"
	"botrelay/internal/deliver"
	"botrelay/internal/drain"
	"botrelay/internal/ingest"
	"botrelay/internal/provider/telegram"
	"botrelay/internal/queue"
	"botrelay/internal/runtime/supervisor"
	"botrelay/internal/store"
	logx "botrelay/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	store    *store.Store
	gate     *credential.SQLiteGate
	httpSrv  *ingest.Server
	drain    *drain.Scheduler
	drainCfg drain.Config
	deliver  *deliver.Service

	sup *supervisor.Supervisor

	cfgCh chan *config.Config
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(context.Background(), cfg); err != nil {
		return nil, err
	}
	cfgm.SetValidator(config.Validate)

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{cfgm: cfgm, logs: logs, log: log}
	if err := a.build(cfg); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	connectBackoff, err := config.ParseDurationOrDefault("redis.connect_backoff", cfg.Redis.ConnectBackoff, 2*time.Second)
	if err != nil {
		return err
	}
	busyTimeout, err := config.ParseDurationField("credentials.busy_timeout", cfg.Credentials.BusyTimeout)
	if err != nil {
		return err
	}
	shutdownTimeout, err := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	drainInterval, err := config.ParseDurationOrDefault("drain.interval", cfg.Drain.Interval, 5*time.Second)
	if err != nil {
		return err
	}
	providerTimeout, err := config.ParseDurationOrDefault("deliver.provider_timeout", cfg.Deliver.ProviderTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	redeliveryIdle, err := config.ParseDurationOrDefault("deliver.redelivery_idle", cfg.Deliver.RedeliveryIdle, 30*time.Second)
	if err != nil {
		return err
	}

	a.store = store.New(store.Config{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Password: cfg.Redis.Password,
		ConnectRetry: store.RetryPolicy{
			Attempts: config.IntOrDefault(cfg.Redis.ConnectAttempts, store.DefaultConnectRetry.Attempts),
			Delay:    connectBackoff,
		},
	}, a.log.With(logx.String("comp", "store")))

	gate, err := credential.OpenSQLite(credential.SQLiteConfig{
		Path:        cfg.Credentials.Path,
		BusyTimeout: busyTimeout,
	}, a.log.With(logx.String("comp", "credentials")))
	if err != nil {
		return fmt.Errorf("open credential db: %w", err)
	}
	a.gate = gate

	a.httpSrv = ingest.New(ingest.Config{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: shutdownTimeout,
	}, a.gate, a.store, a.log.With(logx.String("comp", "ingest")))

	stream := config.StringOrDefault(cfg.Deliver.Stream, "telegram:messages")

	provider := telegram.New(telegram.Config{
		Timeout: providerTimeout,
		APIURL:  cfg.Deliver.APIURL,
	}, a.log.With(logx.String("comp", "telegram")))

	a.deliver = deliver.NewService(deliver.Config{
		Workers:        cfg.Deliver.Workers,
		RatePerSec:     cfg.Deliver.RatePerSec,
		Stream:         stream,
		Group:          config.StringOrDefault(cfg.Deliver.Group, "relay"),
		RedeliveryIdle: redeliveryIdle,
	}, provider, a.log) // queue handle is bound in Start, after Connect

	a.drainCfg = drain.Config{
		Interval:  drainInterval,
		BatchSize: cfg.Drain.BatchSize,
		ScanLimit: cfg.Drain.ScanLimit,
		Stream:    stream,
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	if err := a.store.Connect(ctx); err != nil {
		return err
	}

	q := queue.New(a.store.Client(), a.log.With(logx.String("comp", "queue")))
	a.deliver.BindQueue(q)
	a.drain = drain.New(a.drainCfg, a.store, q, a.log.With(logx.String("comp", "drain")))

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "app"))),
		supervisor.WithCancelOnError(true),
	)
	a.sup.Go("http", func(context.Context) error {
		return a.httpSrv.Start()
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	// Live config: only logging applies without restart; the rest is logged
	// so the operator knows a restart is needed.
	a.cfgCh = a.cfgm.Subscribe(1)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-a.cfgCh:
				if !ok {
					return nil
				}
				a.applyLive(cfg)
			}
		}
	})

	if err := a.drain.Start(); err != nil {
		return err
	}
	a.deliver.Start(ctx)

	a.log.Info("relay started")
	return nil
}

func (a *App) applyLive(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	a.log.Info("logging config applied; pipeline changes take effect on restart")
}

// Stop shuts the pipeline down back-to-front: stop feeding (drain), finish
// in-flight deliveries, close the ingress, then release connections.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.drain != nil {
		keep(a.drain.Stop(ctx))
	}
	if a.deliver != nil {
		keep(a.deliver.Stop(ctx))
	}
	if a.httpSrv != nil {
		keep(a.httpSrv.Shutdown(ctx))
	}
	if a.sup != nil {
		keep(a.sup.Stop(ctx))
	}
	if a.store != nil {
		keep(a.store.Close())
	}
	if a.gate != nil {
		keep(a.gate.Close())
	}
	a.log.Info("relay stopped")
	if a.logs != nil {
		keep(a.logs.Close())
	}
	return firstErr
}
