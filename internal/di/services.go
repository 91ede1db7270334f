package di

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/metrics"
	"github.com/heraldlabs/herald/internal/modules/dispatch"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/marketdata"
	"github.com/heraldlabs/herald/internal/modules/matching"
	"github.com/heraldlabs/herald/internal/modules/trades"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
	"github.com/heraldlabs/herald/internal/queue"
	"github.com/heraldlabs/herald/internal/server"
)

// InitializeServices builds the pipeline: intake, matching, trade
// management, the user-alert scheduler, dispatch, and the HTTP boundary.
func InitializeServices(c *Container, cfg *config.Config, log zerolog.Logger) error {
	c.Events = events.NewBus(log)
	c.Metrics = metrics.NewRegistry()
	c.MetricsListener = metrics.NewListener(c.Metrics, c.Events, log)

	// Market data: HTTP quotes behind a short-TTL cache, indicators derived
	// from cached history.
	httpProvider := marketdata.NewHTTPProvider(cfg.MarketData, log)
	c.MarketCache = marketdata.NewCache(c.CacheDB.Conn(), c.Clock, log)
	c.MarketData = marketdata.NewCachedProvider(httpProvider, c.MarketCache, cfg.MarketData.QuoteTTL, log)
	c.Indicators = marketdata.NewEngine(c.MarketData, c.MarketCache,
		cfg.MarketData.IndicatorTTL, cfg.MarketData.HistoryLimit, log)

	// Notifications: one bus, one dispatcher, shared by trades and alerts.
	var notifyBus domain.NotificationBus
	if cfg.Notify.Mode == "http" {
		notifyBus = dispatch.NewHTTPBus(cfg.Notify, log)
	} else {
		notifyBus = dispatch.NewLogBus(log)
	}
	c.Dispatcher = dispatch.NewDispatcher(notifyBus, c.Clock, c.Events, cfg.Dispatch, log)

	// Trade outcomes reach the dispatcher through a bounded queue so a slow
	// delivery backs up visibly instead of losing notifications.
	c.NotifyQueue = queue.New[domain.Notification]("notify", cfg.Queues.Capacity, log,
		queue.WithBus[domain.Notification](c.Events))
	c.NotifyPool = queue.NewPool("notify", c.NotifyQueue, cfg.Queues.DispatchWorkers,
		c.Dispatcher.Dispatch, log)
	c.DispatchListener = dispatch.NewListener(c.NotifyQueue, c.Events, cfg.Queues.EnqueueTimeout, log)

	// Matching pipeline: webhook intake feeds alert IDs to a bounded queue;
	// the pool drains it through the processor.
	c.TradeManager = trades.NewManager(c.TradeCounter, c.Trades, c.Locks, c.Clock, c.Events, log)
	c.Matcher = matching.NewMatcher(c.Configs, c.Principals, log)
	c.Processor = matching.NewProcessor(c.Alerts, c.Configs, c.Matcher, c.TradeManager,
		c.Locks, c.Clock, c.Events, c.Metrics, log)

	c.MatchQueue = queue.New[string]("match", cfg.Queues.Capacity, log,
		queue.WithBus[string](c.Events))
	c.MatchPool = queue.NewPool("match", c.MatchQueue, cfg.Queues.MatchWorkers,
		c.Processor.ProcessAlert, log)

	enqueueTimeout := cfg.Queues.EnqueueTimeout
	enqueue := func(ctx context.Context, alertID string) error {
		ctx, cancel := context.WithTimeout(ctx, enqueueTimeout)
		defer cancel()
		return c.MatchQueue.Enqueue(ctx, alertID)
	}

	c.Deduper = intake.NewDeduper(c.CacheDB.Conn(), c.Clock, cfg.Ingest.DedupTTL, log)
	c.Intake = intake.NewService(cfg.Ingest.WebhookSecret, c.Deduper, c.Alerts,
		c.Clock, c.Events, enqueue, log)

	// User alerts: the scheduler owns delivery so it can record failures in
	// the alert's history.
	c.Evaluator = useralerts.NewEvaluator(c.Indicators, c.Previous, c.Clock, log)
	notifier := dispatch.NewUserAlertNotifier(c.Dispatcher)
	c.AlertScheduler = useralerts.NewScheduler(c.UserAlerts, c.Evaluator, c.MarketData,
		c.Locks, notifier, c.Clock, c.Events, cfg.Scheduler, log)

	c.Server = server.New(server.Config{
		Log:        log,
		Cfg:        cfg,
		Clock:      c.Clock,
		RegistryDB: c.RegistryDB,
		IntakeDB:   c.IntakeDB,
		LedgerDB:   c.LedgerDB,
		CacheDB:    c.CacheDB,
		Intake:     c.Intake,
		Alerts:     c.Alerts,
		Configs:    c.Configs,
		Principals: c.Principals,
		Trades:     c.Trades,
		UserAlerts: c.UserAlerts,
		Metrics:    c.Metrics,
		Events:     c.Events,
	})

	log.Info().Msg("Services initialized")
	return nil
}
