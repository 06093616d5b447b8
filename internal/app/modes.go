package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/orderflowbot/internal/cache/redis"
	"github.com/alanyoungcy/orderflowbot/internal/domain"
	"github.com/alanyoungcy/orderflowbot/internal/feed"
	"github.com/alanyoungcy/orderflowbot/internal/flowmetrics"
	"github.com/alanyoungcy/orderflowbot/internal/monitor"
	"github.com/alanyoungcy/orderflowbot/internal/notify"
	"github.com/alanyoungcy/orderflowbot/internal/orderbook"
	"github.com/alanyoungcy/orderflowbot/internal/pipeline"
	"github.com/alanyoungcy/orderflowbot/internal/platform/bybit"
	"github.com/alanyoungcy/orderflowbot/internal/server"
	"github.com/alanyoungcy/orderflowbot/internal/server/handler"
	"github.com/alanyoungcy/orderflowbot/internal/server/ws"
	"github.com/alanyoungcy/orderflowbot/internal/validation"
)

const (
	shutdownTimeout = 5 * time.Second
	notifyTimeout   = 10 * time.Second
)

// MonitorMode runs the live book, the monitor and the HTTP API. Stats stay
// in process: the websocket hub and /api/book are the only consumers.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runLive(ctx, deps, false)
}

// FullMode is MonitorMode plus the external sinks: the Redis mirror, and the
// Kafka producer, Postgres history and S3 archive when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runLive(ctx, deps, true)
}

func (a *App) runLive(ctx context.Context, deps *Dependencies, full bool) error {
	cfg := a.cfg
	symbol := cfg.Trading.Symbol

	book := orderbook.New(symbol, orderbook.Options{
		SlowSnapshot: cfg.Performance.SlowSnapshot.Duration,
		SlowDelta:    cfg.Performance.SlowDelta.Duration,
		Logger:       a.logger,
		Observer:     deps.Metrics,
	})

	auth, err := bybitAuth(cfg.Bybit)
	if err != nil {
		return err
	}

	bybitFeed := feed.NewBybitFeed(feed.BybitConfig{
		WSURL:             cfg.WSURL(bybit.MainnetPublicLinear, bybit.TestnetPublicLinear),
		Symbol:            symbol,
		Depth:             cfg.Trading.Depth,
		Auth:              auth,
		PingPeriod:        cfg.Bybit.PingPeriod.Duration,
		ReconnectDelay:    cfg.Bybit.ReconnectDelay.Duration,
		MaxReconnectDelay: cfg.Bybit.MaxReconnectDelay.Duration,
	}, book, a.logger)
	defer bybitFeed.Close()

	validator := validation.New(validation.Config{
		Enabled:                cfg.Validation.Enabled,
		MaxSpreadMultiplier:    cfg.Validation.MaxSpreadMultiplier,
		MinLiquidityMultiplier: cfg.Validation.MinLiquidityMultiplier,
		MaxDataAge:             cfg.Validation.MaxDataAge.Duration,
		MinDepthLevels:         cfg.Validation.MinDepthLevels,
	})

	hub := ws.NewHub(ws.Config{
		Mode:      cfg.Mode,
		Symbol:    symbol,
		RunID:     a.runID,
		StartedAt: a.startedAt,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	sinks := []domain.StatsSink{hub}
	if full {
		sinks = append(sinks, a.fullSinks(ctx, g, deps, book)...)
	}

	mon := monitor.New(monitor.Config{
		Symbol:                symbol,
		RunID:                 a.runID,
		CycleInterval:         cfg.Metrics.CycleInterval.Duration,
		SummaryInterval:       cfg.Monitor.SummaryInterval.Duration,
		NotifySummaryInterval: cfg.Monitor.NotifySummaryInterval.Duration,
		DepthLevels:           cfg.Metrics.DepthLevels,
		LiquidityDepth:        cfg.Monitor.LiquidityDepth,
		WhaleThreshold:        cfg.Metrics.WhaleThreshold,
		MinWhaleSize:          cfg.Metrics.MinWhaleSize,
		WhaleMaxAge:           cfg.Metrics.WhaleMaxAge.Duration,
		DeltaWindows:          cfg.Metrics.Durations(),
		MaxSpreadPct:          cfg.Monitor.MaxSpreadPct,
		MaxLatency:            cfg.Monitor.MaxLatency.Duration,
		MinLiquidity:          cfg.Monitor.MinLiquidity,
		SinkTimeout:           cfg.Monitor.SinkTimeout.Duration,
	}, book, flowmetrics.NewEngine(), validator, a.logger,
		monitor.WithReporter(deps.Metrics),
		monitor.WithSinks(sinks...),
		monitor.WithNotifier(deps.Notifier, deps.Throttle),
	)

	g.Go(func() error { return bybitFeed.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return mon.Run(ctx) })

	if cfg.Server.Enabled {
		h := server.Handlers{
			Health: handler.NewHealthHandler(book, cfg.Server.MaxDataAge.Duration),
			Status: &handler.StatusHandler{
				Mode:      cfg.Mode,
				Symbol:    symbol,
				RunID:     a.runID,
				StartedAt: a.startedAt,
				Feed:      func() any { return bybitFeed.Stats() },
			},
			Book: handler.NewBookHandler(mon, book),
			Hub:  hub,
		}
		a.withStores(&h, deps)
		a.startHTTPServer(ctx, g, h, deps)
	}

	a.announce(ctx, deps)
	err = g.Wait()
	a.notifyExit(deps, err)
	return err
}

// fullSinks builds the configured external sinks and starts their background
// loops on g.
func (a *App) fullSinks(ctx context.Context, g *errgroup.Group, deps *Dependencies, book *orderbook.Book) []domain.StatsSink {
	var sinks []domain.StatsSink
	if deps.BookCache != nil && deps.SignalBus != nil {
		sinks = append(sinks, redis.NewStatsSink(deps.BookCache, deps.SignalBus, book, a.cfg.Redis.MirrorDepth, a.cfg.Redis.KeyPrefix))
	}
	if deps.Producer != nil {
		sinks = append(sinks, deps.Producer)
	}
	if deps.Validations != nil {
		sinks = append(sinks, deps.Validations)
	}
	if deps.BlobWriter != nil {
		archiver := pipeline.NewStatsArchiver(deps.BlobWriter, pipeline.ArchiveConfig{
			Prefix:        a.cfg.Archive.Prefix,
			RunID:         a.runID,
			FlushInterval: a.cfg.Archive.FlushInterval.Duration,
			Cron:          a.cfg.Archive.Cron,
			MaxBatch:      a.cfg.Archive.MaxBatch,
		}, a.logger)
		g.Go(func() error { return archiver.Run(ctx) })
		sinks = append(sinks, archiver)
	}
	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	a.logger.InfoContext(ctx, "external sinks wired", slog.Any("sinks", names))
	return sinks
}

// TailMode follows the stats another process publishes to Redis and serves
// them over HTTP and websocket. It never connects to the exchange.
func (a *App) TailMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting tail mode")
	if deps.SignalBus == nil {
		return errors.New("tail mode: redis is not configured")
	}

	view := newTailView(a.cfg.Trading.Symbol, deps.BookCache, a.logger)
	hub := ws.NewHub(ws.Config{
		Mode:      a.cfg.Mode,
		Symbol:    a.cfg.Trading.Symbol,
		RunID:     a.runID,
		StartedAt: a.startedAt,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return hub.Relay(ctx, deps.SignalBus, redis.StatsChannel(a.cfg.Redis.KeyPrefix)) })
	g.Go(func() error { return view.Follow(ctx, deps.SignalBus, redis.StatsChannel(a.cfg.Redis.KeyPrefix)) })

	h := server.Handlers{
		Health: handler.NewHealthHandler(view, a.cfg.Server.MaxDataAge.Duration),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			Symbol:    a.cfg.Trading.Symbol,
			RunID:     a.runID,
			StartedAt: a.startedAt,
		},
		Book: handler.NewBookHandler(view, view),
		Hub:  hub,
	}
	a.withStores(&h, deps)
	a.startHTTPServer(ctx, g, h, deps)

	return g.Wait()
}

// withStores adds the handlers backed by Redis streams and S3.
func (a *App) withStores(h *server.Handlers, deps *Dependencies) {
	h.Metrics = deps.Metrics.Handler()
	if deps.SignalBus != nil {
		h.Validation = handler.NewValidationHandler(deps.SignalBus, redis.ValidationStream(a.cfg.Redis.KeyPrefix))
	}
	if deps.Validations != nil {
		h.History = handler.NewHistoryHandler(deps.Validations, a.cfg.Trading.Symbol)
	}
	if deps.BlobReader != nil {
		h.Archive = handler.NewArchiveHandler(deps.BlobReader, a.cfg.Archive.Prefix, a.cfg.Trading.Symbol)
	}
}

// startHTTPServer adds the HTTP server goroutine to g and shuts the server
// down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, h server.Handlers, deps *Dependencies) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, deps.Limiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// announce sends the startup notification through the cooldown gate.
func (a *App) announce(ctx context.Context, deps *Dependencies) {
	if !deps.Notifier.Enabled() {
		return
	}
	err := deps.StartupGate.Announce(ctx, deps.Notifier, a.cfg.Trading.Symbol, a.cfg.Bybit.Testnet, a.runID)
	if err != nil && !errors.Is(err, domain.ErrCooldown) {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}
}

// notifyExit reports a failure, or a clean shutdown when runErr is only the
// cancellation that stopped the mode.
func (a *App) notifyExit(deps *Dependencies, runErr error) {
	if !deps.Notifier.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	event := notify.EventShutdown
	title, msg := notify.ShutdownMessage(a.cfg.Trading.Symbol)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		event = notify.EventError
		title, msg = notify.ErrorMessage(a.cfg.Trading.Symbol, runErr)
	}
	if err := deps.Notifier.Notify(ctx, event, title, msg); err != nil {
		a.logger.Warn("exit notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
