package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/reliability"
	"github.com/heraldlabs/herald/internal/scheduler"
)

// RegisterJobs builds the backup service (when enabled) and the maintenance
// runner. The runner is not started here; main starts it after the pipeline
// is up.
func RegisterJobs(c *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Backup.Enabled {
		store, err := reliability.NewObjectStore(cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to initialize backup store: %w", err)
		}
		c.Backup = reliability.NewBackupService(c.Databases(), store, cfg.Backup.Keep,
			cfg.DataDir, c.Clock, c.Events, log)
	}

	c.Maintenance = scheduler.NewMaintenance(c.Databases(), c.CacheDB,
		c.Deduper, c.Locks, c.MarketCache, c.UserAlerts, c.Backup, c.Clock, log)

	return nil
}
