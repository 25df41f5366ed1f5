package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mahaj/msgbridge/pkg/api"
	"github.com/mahaj/msgbridge/pkg/auth"
	"github.com/mahaj/msgbridge/pkg/bridge"
	"github.com/mahaj/msgbridge/pkg/config"
	"github.com/mahaj/msgbridge/pkg/dedup"
	"github.com/mahaj/msgbridge/pkg/events"
	"github.com/mahaj/msgbridge/pkg/logging"
	"github.com/mahaj/msgbridge/pkg/metrics"
	"github.com/mahaj/msgbridge/pkg/poller"
	"github.com/mahaj/msgbridge/pkg/realtime"
	"github.com/mahaj/msgbridge/pkg/snowflake"
	"github.com/mahaj/msgbridge/pkg/upload"
	"github.com/mahaj/msgbridge/pkg/upstream"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the bridge (default)",
	Action: serve,
}

const sweepInterval = time.Minute

func serve(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	app, err := build(sigCtx, cfg, log, m)
	if err != nil {
		return err
	}
	defer app.close()

	return app.run(sigCtx, reg)
}

type bridgeApp struct {
	cfg      config.Config
	log      zerolog.Logger
	client   *upstream.Client
	svc      *bridge.Service
	hub      *realtime.Hub
	fanout   *realtime.Fanout
	stager   *upload.Stager
	notifier *events.Notifier
	poller   *poller.Poller
	api      *api.Server
	seen     *dedup.Memory
	sends    *dedup.Memory
	redis    *redis.Client
	baseCtx  context.Context
	cancel   context.CancelFunc
}

func build(ctx context.Context, cfg config.Config, log zerolog.Logger, m *metrics.Metrics) (*bridgeApp, error) {
	a := &bridgeApp{cfg: cfg, log: log}

	client, err := upstream.New(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithToken(cfg.Upstream.Token),
		upstream.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	a.client = client

	var sendCache dedup.Cache
	switch cfg.Dedup.Backend {
	case config.BackendRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.Dedup.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			_ = a.redis.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.Dedup.RedisAddr, err)
		}
		rc, err := dedup.NewRedis(a.redis, cfg.Dedup.KeyPrefix, cfg.Dedup.TTL)
		if err != nil {
			_ = a.redis.Close()
			return nil, err
		}
		sendCache = rc
	default:
		a.sends = dedup.NewMemory(cfg.Dedup.TTL)
		sendCache = a.sends
	}
	a.seen = dedup.NewMemory(cfg.Broadcast.Window)

	a.hub = realtime.NewHub(log, m)
	var broadcaster bridge.Broadcaster = a.hub
	if cfg.Fanout.Enabled {
		origin := uuid.NewString()
		a.fanout = realtime.NewFanout(a.hub, origin,
			realtime.NewFanoutWriter(cfg.Fanout.Brokers, cfg.Fanout.Topic),
			realtime.NewFanoutReader(cfg.Fanout.Brokers, cfg.Fanout.Topic, origin),
			log, m)
		broadcaster = a.fanout
	}

	var sinks []events.Sink
	for _, u := range cfg.Webhooks {
		sinks = append(sinks, events.NewWebhook(u, cfg.WebhookTimeout))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, events.NewKafka(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)))
	}
	a.notifier = events.NewNotifier(log, m, sinks...)

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, err
	}
	stager, err := upload.NewStager(cfg.Uploads.Dir, node, log)
	if err != nil {
		return nil, err
	}
	a.stager = stager

	a.svc, err = bridge.New(bridge.Deps{
		Upstream:    client,
		Dedup:       sendCache,
		Seen:        a.seen,
		Broadcaster: broadcaster,
		Notifier:    a.notifier,
		Uploads:     stager,
		Logger:      log,
		Metrics:     m,
	})
	if err != nil {
		return nil, err
	}

	authn, err := auth.New(cfg.Password)
	if err != nil {
		return nil, err
	}

	// Handlers run on a context that outlives client connections but ends
	// after the shutdown grace period.
	a.baseCtx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))

	router := realtime.NewRouter(log, m)
	realtime.RegisterActions(router, a.hub, a.svc)
	rt := realtime.NewServer(a.hub, router, node, log,
		realtime.WithAllowedOrigins(cfg.CORS.AllowedOrigins),
		realtime.WithBaseContext(a.baseCtx),
	)

	a.api = api.New(api.Deps{
		Service:        a.svc,
		Auth:           authn,
		Uploads:        stager,
		Realtime:       rt,
		Logger:         log,
		Metrics:        m,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	if cfg.Poll.Enabled {
		a.poller = poller.New(client, a.svc, cfg.Poll.Interval, time.Now(), log, m)
	}
	return a, nil
}

func (a *bridgeApp) run(ctx context.Context, reg *prometheus.Registry) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.ListenAddress,
		Handler:           a.api,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("client API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("client API: %w", err)
		}
		return nil
	})

	var admin *http.Server
	if a.cfg.AdminAddress != "" {
		admin = &http.Server{
			Addr:              a.cfg.AdminAddress,
			Handler:           adminHandler(reg, a.svc),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.log.Info().Str("addr", admin.Addr).Msg("admin listening")
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin: %w", err)
			}
			return nil
		})
	}

	if a.sends != nil {
		a.sends.StartSweeper(gctx, sweepInterval)
	}
	a.seen.StartSweeper(gctx, sweepInterval)
	a.stager.StartSweeper(gctx, sweepInterval, a.cfg.Uploads.TTL)

	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(gctx) })
	}
	if a.fanout != nil {
		g.Go(func() error { return a.fanout.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info().Dur("grace", a.cfg.ShutdownGracePeriod).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGracePeriod)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("client API shutdown: %w", err))
		}
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin shutdown: %w", err))
			}
		}
		a.drain(shutdownCtx)
		return errors.Join(errs...)
	})

	return g.Wait()
}

// drain waits for detached relays and sink deliveries, then cancels any
// socket handlers still running.
func (a *bridgeApp) drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		a.svc.Wait()
		a.notifier.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn().Msg("grace period ended with background work still running")
	}
	a.cancel()
	// http.Server.Shutdown leaves hijacked sockets open.
	if n := a.hub.CloseAll(); n > 0 {
		a.log.Info().Int("connections", n).Msg("closed realtime connections")
	}
}

func (a *bridgeApp) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.notifier.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close event sinks")
	}
	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close fanout")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
