// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
	"github.com/heraldlabs/herald/internal/metrics"
	"github.com/heraldlabs/herald/internal/modules/configs"
	"github.com/heraldlabs/herald/internal/modules/dispatch"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/marketdata"
	"github.com/heraldlabs/herald/internal/modules/matching"
	"github.com/heraldlabs/herald/internal/modules/principals"
	"github.com/heraldlabs/herald/internal/modules/settings"
	"github.com/heraldlabs/herald/internal/modules/trades"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
	"github.com/heraldlabs/herald/internal/queue"
	"github.com/heraldlabs/herald/internal/reliability"
	"github.com/heraldlabs/herald/internal/scheduler"
	"github.com/heraldlabs/herald/internal/server"
)

// Container holds every wired dependency. Wire fills it stage by stage:
// databases, repositories, services, jobs.
type Container struct {
	// Databases
	RegistryDB *database.DB
	IntakeDB   *database.DB
	LedgerDB   *database.DB
	CacheDB    *database.DB

	// Core plumbing
	Clock   clock.Clock
	Events  *events.Bus
	Metrics *metrics.Registry

	// Repositories
	Settings   *settings.Repository
	Configs    *configs.Repository
	Principals *principals.Repository
	Alerts     *intake.Repository
	Trades     *trades.Repository
	UserAlerts *useralerts.Repository
	Previous   *useralerts.PreviousValues
	Locks      *locks.Repository

	// Pipeline services
	Deduper          *intake.Deduper
	Intake           *intake.Service
	TradeCounter     *trades.Counter
	TradeManager     *trades.Manager
	Matcher          *matching.Matcher
	Processor        *matching.Processor
	MatchQueue       *queue.Queue[string]
	MatchPool        *queue.Pool[string]
	NotifyQueue      *queue.Queue[domain.Notification]
	NotifyPool       *queue.Pool[domain.Notification]
	MarketData       domain.MarketDataProvider
	MarketCache      *marketdata.Cache
	Indicators       *marketdata.Engine
	Evaluator        *useralerts.Evaluator
	AlertScheduler   *useralerts.Scheduler
	Dispatcher       *dispatch.Dispatcher
	DispatchListener *dispatch.Listener
	MetricsListener  *metrics.Listener

	// Jobs and boundary
	Backup      *reliability.BackupService
	Maintenance *scheduler.Maintenance
	Server      *server.Server
}

// Databases returns the four stores in a stable order.
func (c *Container) Databases() []*database.DB {
	return []*database.DB{c.RegistryDB, c.IntakeDB, c.LedgerDB, c.CacheDB}
}

// CloseDatabases closes every open database. Used on wiring failure and at
// shutdown.
func (c *Container) CloseDatabases() {
	for _, db := range c.Databases() {
		if db != nil {
			db.Close()
		}
	}
}
