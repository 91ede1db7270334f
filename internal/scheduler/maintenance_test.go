package scheduler

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/database"
	"github.com/heraldlabs/herald/internal/locks"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/marketdata"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

type maintenanceFixture struct {
	maintenance *Maintenance
	clock       *clock.Manual
	deduper     *intake.Deduper
	locks       *locks.Repository
	userAlerts  *useralerts.Repository
	cleanup     func()
}

func newMaintenanceFixture(t *testing.T) *maintenanceFixture {
	t.Helper()

	registryDB, registryCleanup := htesting.NewTestDB(t, "registry")
	cacheDB, cacheCleanup := htesting.NewTestDB(t, "cache")

	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	f := &maintenanceFixture{
		clock:      clk,
		deduper:    intake.NewDeduper(cacheDB.Conn(), clk, time.Minute, zerolog.Nop()),
		locks:      locks.NewRepository(cacheDB.Conn(), clk, zerolog.Nop()),
		userAlerts: useralerts.NewRepository(registryDB.Conn(), zerolog.Nop()),
	}
	marketCache := marketdata.NewCache(cacheDB.Conn(), clk, zerolog.Nop())

	f.maintenance = NewMaintenance(
		[]*database.DB{registryDB, cacheDB}, cacheDB,
		f.deduper, f.locks, marketCache, f.userAlerts,
		nil, clk, zerolog.Nop())

	f.cleanup = func() {
		cacheCleanup()
		registryCleanup()
	}
	return f
}

func TestSweepCachesEvictsExpiredState(t *testing.T) {
	f := newMaintenanceFixture(t)
	defer f.cleanup()

	// An observed fingerprint and a held lock, both about to expire.
	_, err := f.deduper.Observe("fp-1")
	require.NoError(t, err)
	ok, err := f.locks.TryAcquire("pair:u1:1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	f.clock.Advance(2 * time.Minute)
	f.maintenance.SweepCaches()

	// The fingerprint is gone: observing it again is fresh, not duplicate.
	obs, err := f.deduper.Observe("fp-1")
	require.NoError(t, err)
	assert.Equal(t, intake.Fresh, obs)

	// The lock is gone: another acquire succeeds immediately.
	ok, err = f.locks.TryAcquire("pair:u1:1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpireUserAlertsDeactivates(t *testing.T) {
	f := newMaintenanceFixture(t)
	defer f.cleanup()

	alert := htesting.NewUserAlertFixture()
	expiry := f.clock.Now().Add(-time.Hour)
	alert.ExpiresAt = &expiry
	id, err := f.userAlerts.Create(alert)
	require.NoError(t, err)

	f.maintenance.ExpireUserAlerts()

	stored, err := f.userAlerts.GetByID(id)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}

func TestMaintenanceStartRegistersJobs(t *testing.T) {
	f := newMaintenanceFixture(t)
	defer f.cleanup()

	require.NoError(t, f.maintenance.Start("0 3 * * *"))
	defer f.maintenance.Stop()

	// Four standing jobs; the backup job is skipped without a service.
	assert.Len(t, f.maintenance.cron.Entries(), 4)
}
