// Package scheduler runs Herald's recurring maintenance jobs on cron
// schedules: cache sweeps, WAL checkpoints, user-alert expiry, and backups.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/locks"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/marketdata"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
	"github.com/heraldlabs/herald/internal/reliability"
)

// Default schedules. The backup schedule comes from configuration.
const (
	scheduleSweep      = "*/5 * * * *"
	scheduleExpiry     = "@hourly"
	scheduleCheckpoint = "0 2 * * *"
	scheduleVacuum     = "0 3 * * 0"
)

// Maintenance owns the cron runner and the job implementations.
type Maintenance struct {
	cron        *cron.Cron
	databases   []*database.DB
	cacheDB     *database.DB
	deduper     *intake.Deduper
	locks       *locks.Repository
	marketCache *marketdata.Cache
	userAlerts  *useralerts.Repository
	backup      *reliability.BackupService
	clock       clock.Clock
	log         zerolog.Logger
}

// NewMaintenance creates the maintenance runner. backup may be nil when
// backups are disabled.
func NewMaintenance(databases []*database.DB, cacheDB *database.DB,
	deduper *intake.Deduper, lockRepo *locks.Repository, marketCache *marketdata.Cache,
	userAlerts *useralerts.Repository, backup *reliability.BackupService,
	clk clock.Clock, log zerolog.Logger) *Maintenance {

	return &Maintenance{
		cron:        cron.New(),
		databases:   databases,
		cacheDB:     cacheDB,
		deduper:     deduper,
		locks:       lockRepo,
		marketCache: marketCache,
		userAlerts:  userAlerts,
		backup:      backup,
		clock:       clk,
		log:         log.With().Str("component", "maintenance").Logger(),
	}
}

// Start registers the jobs and starts the cron runner.
func (m *Maintenance) Start(backupSchedule string) error {
	jobs := []struct {
		name     string
		schedule string
		run      func()
	}{
		{"cache_sweep", scheduleSweep, m.SweepCaches},
		{"user_alert_expiry", scheduleExpiry, m.ExpireUserAlerts},
		{"wal_checkpoint", scheduleCheckpoint, m.CheckpointWAL},
		{"cache_vacuum", scheduleVacuum, m.VacuumCache},
	}

	for _, job := range jobs {
		job := job
		if _, err := m.cron.AddFunc(job.schedule, m.wrap(job.name, job.run)); err != nil {
			return err
		}
	}

	if m.backup != nil && backupSchedule != "" {
		run := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := m.backup.Run(ctx); err != nil {
				m.log.Error().Err(err).Msg("Backup failed")
			}
		}
		if _, err := m.cron.AddFunc(backupSchedule, m.wrap("backup", run)); err != nil {
			return err
		}
	}

	m.cron.Start()
	m.log.Info().Int("jobs", len(m.cron.Entries())).Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the cron runner and waits for running jobs to finish.
func (m *Maintenance) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info().Msg("Maintenance scheduler stopped")
}

func (m *Maintenance) wrap(name string, run func()) func() {
	return func() {
		start := time.Now()
		run()
		m.log.Debug().
			Str("job", name).
			Dur("duration_ms", time.Since(start)).
			Msg("Maintenance job finished")
	}
}

// SweepCaches evicts expired dedup fingerprints, advisory locks, and market
// data cache rows.
func (m *Maintenance) SweepCaches() {
	if n, err := m.deduper.SweepExpired(); err != nil {
		m.log.Warn().Err(err).Msg("Fingerprint sweep failed")
	} else if n > 0 {
		m.log.Debug().Int64("evicted", n).Msg("Fingerprints swept")
	}

	if n, err := m.locks.SweepExpired(); err != nil {
		m.log.Warn().Err(err).Msg("Lock sweep failed")
	} else if n > 0 {
		m.log.Debug().Int64("evicted", n).Msg("Stale locks swept")
	}

	if n, err := m.marketCache.SweepExpired(); err != nil {
		m.log.Warn().Err(err).Msg("Market cache sweep failed")
	} else if n > 0 {
		m.log.Debug().Int64("evicted", n).Msg("Market cache swept")
	}
}

// ExpireUserAlerts deactivates user alerts whose expiry time has passed.
func (m *Maintenance) ExpireUserAlerts() {
	n, err := m.userAlerts.DeactivateExpired(m.clock.Now().UTC())
	if err != nil {
		m.log.Warn().Err(err).Msg("User alert expiry failed")
		return
	}
	if n > 0 {
		m.log.Info().Int64("deactivated", n).Msg("Expired user alerts deactivated")
	}
}

// CheckpointWAL truncates every database's write-ahead log.
func (m *Maintenance) CheckpointWAL() {
	for _, db := range m.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			m.log.Warn().Str("database", db.Name()).Err(err).Msg("WAL checkpoint failed")
		}
	}
}

// VacuumCache reclaims space in the cache database. Only the cache gets
// vacuumed: the ledger is append-only and the other stores stay small.
func (m *Maintenance) VacuumCache() {
	if err := m.cacheDB.Vacuum(); err != nil {
		m.log.Warn().Err(err).Msg("Cache vacuum failed")
	}
}
