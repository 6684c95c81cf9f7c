package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anuvruddhi/anuvruddhi/internal/api"
	"github.com/anuvruddhi/anuvruddhi/internal/app/engagement"
	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/health"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/notify"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/realtime"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/redisstore"
	"github.com/anuvruddhi/anuvruddhi/internal/infra/sqlite"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

// Daemon is the Anuvruddhi runtime. It wires together all services.
type Daemon struct {
	Config Config
	Log    *logger.Logger

	// DB always holds certificates and the inbox. With the sqlite backend
	// it also backs Store.
	DB    *sqlite.DB
	Store domain.ProgressStore

	Dispatcher  *engagement.Dispatcher
	Accumulator *engagement.Accumulator
	Notifier    *engagement.Notifier
	Watchers    *engagement.Watchers
	Toasts      *api.ToastHub
	Retry       *notify.Retrying // retries external deliveries (nil without Telegram)
	Health      *health.Checker
	Server      *api.Server

	dbShared  bool
	closeOnce sync.Once
}

// New loads the config at path and creates a Daemon.
func New(ctx context.Context, path string, log *logger.Logger) (*Daemon, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, log)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(ctx context.Context, cfg Config, log *logger.Logger) (*Daemon, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(cfg.Store.Dir)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config: cfg,
		Log:    log.With("service", "Daemon"),
		DB:     db,
	}

	switch cfg.Store.Backend {
	case BackendRedis:
		rs, err := redisstore.New(ctx, redisstore.Options{
			Addr:      cfg.Store.RedisAddr,
			Password:  cfg.Store.RedisPassword,
			DB:        cfg.Store.RedisDB,
			KeyPrefix: cfg.Store.RedisPrefix,
		}, log)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		d.Store = rs
	default:
		d.Store = realtime.New(db, log)
		d.dbShared = true
	}

	// Notification sinks
	d.Toasts = api.NewToastHub(log)
	d.Dispatcher = engagement.NewDispatcher(log,
		notify.NewCertificates(db),
		notify.NewInbox(db),
		d.Toasts,
	)
	if tg := cfg.Notify.Telegram; tg.Enabled {
		sink, err := notify.NewTelegram(notify.TelegramConfig{
			BaseURL:  tg.BaseURL,
			BotToken: tg.BotToken,
			ChatID:   tg.ChatID,
			Timeout:  parseDuration(tg.Timeout, 10*time.Second),
		}, db)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("telegram sink: %w", err)
		}
		d.Retry = notify.NewRetrying(sink, notify.DefaultRetryConfig(), log)
		d.Dispatcher.Register(d.Retry)
	}

	// Engagement engine
	d.Accumulator = engagement.NewAccumulator(rules, d.Store, log)
	d.Notifier = engagement.NewNotifier(rules, d.Store, d.Dispatcher, log)
	d.Watchers = engagement.NewWatchers(d.Notifier)

	// Health checker
	d.Health = health.NewChecker(parseDuration(cfg.Health.Interval, 60*time.Second), log,
		health.StoreCheck("progress_store", d.Store),
		health.StoreCheck("records_db", db),
		health.DataDirCheck(cfg.Store.Dir),
	)

	// API server
	srv := api.NewServer(d.Store, d.Accumulator, d.Notifier, log)
	srv.SetRecords(db)
	srv.SetToasts(d.Toasts, d.Watchers)
	srv.SetHealth(d.Health)
	srv.SetCORSOrigins(cfg.API.CORSOrigins)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	d.Log.Debug("daemon wired",
		"backend", cfg.Store.Backend, "sinks", d.Dispatcher.Sinks(), "dir", cfg.Store.Dir)
	return d, nil
}

// Serve starts the HTTP server and blocks until ctx is cancelled or a
// SIGINT/SIGTERM arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     d.Server.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Health checker (always runs)
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})

	if d.Retry != nil {
		g.Go(func() error {
			d.Retry.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Stop watchers and toast sessions before the listener goes away.
		d.Watchers.Close()
		d.Toasts.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("Anuvruddhi serving on http://%s\n", addr)
	fmt.Printf("  Store: %s\n", d.Config.Store.Backend)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}
	d.Log.Info("serving", "addr", addr, "backend", d.Config.Store.Backend)

	return g.Wait()
}

// Close shuts down all daemon resources. Safe to call more than once.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() {
		if d.Watchers != nil {
			d.Watchers.Close()
		}
		if d.Toasts != nil {
			d.Toasts.Close()
		}
		if d.Store != nil {
			if err := d.Store.Close(); err != nil {
				d.Log.Warn("close store", "error", err)
			}
		}
		if d.DB != nil && !d.dbShared {
			if err := d.DB.Close(); err != nil {
				d.Log.Warn("close database", "error", err)
			}
		}
		d.Log.Sync()
	})
}
