package useralerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/domain"
	"github.com/heraldlabs/herald/internal/events"
	"github.com/heraldlabs/herald/internal/locks"
	htesting "github.com/heraldlabs/herald/internal/testing"
)

type notifyCall struct {
	alertID int64
	value   float64
}

type stubNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *stubNotifier) NotifyUserAlert(_ context.Context, alert *domain.UserAlert, value float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{alertID: alert.ID, value: value})
	return n.err
}

func (n *stubNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type schedulerFixture struct {
	scheduler *Scheduler
	repo      *Repository
	locks     *locks.Repository
	market    *htesting.MockMarketDataProvider
	notifier  *stubNotifier
	clock     *clock.Manual
	cleanup   func()
}

func newSchedulerFixture(t *testing.T) *schedulerFixture {
	t.Helper()
	registry, cleanupRegistry := htesting.NewTestDB(t, "registry")
	cache, cleanupCache := htesting.NewTestDB(t, "cache")

	clk := clock.NewManual(testNow())
	repo := NewRepository(registry.Conn(), zerolog.Nop())
	previous := NewPreviousValues(registry.Conn(), zerolog.Nop())
	lockRepo := locks.NewRepository(cache.Conn(), clk, zerolog.Nop())
	market := htesting.NewMockMarketDataProvider()
	notifier := &stubNotifier{}
	resolver := &stubResolver{values: map[domain.ConditionField]float64{}}
	evaluator := NewEvaluator(resolver, previous, clk, zerolog.Nop())

	// Single worker keeps rounds deterministic.
	scheduler := NewScheduler(repo, evaluator, market, lockRepo, notifier, clk,
		events.NewBus(zerolog.Nop()), config.SchedulerConfig{Workers: 1}, zerolog.Nop())

	return &schedulerFixture{
		scheduler: scheduler,
		repo:      repo,
		locks:     lockRepo,
		market:    market,
		notifier:  notifier,
		clock:     clk,
		cleanup: func() {
			cleanupCache()
			cleanupRegistry()
		},
	}
}

// createDueAlert stores a fixture alert whose next check is already in the
// past relative to the manual clock.
func (f *schedulerFixture) createDueAlert(t *testing.T, mutate func(*domain.UserAlert)) int64 {
	t.Helper()
	alert := htesting.NewUserAlertFixture()
	due := f.clock.Now().Add(-time.Minute)
	alert.NextCheck = &due
	if mutate != nil {
		mutate(alert)
	}
	id, err := f.repo.Create(alert)
	require.NoError(t, err)
	return id
}

func TestTickTriggersDueAlert(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45100, f.clock.Now()))

	f.scheduler.Tick(context.Background())

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, id, calls[0].alertID)
	assert.Equal(t, 45100.0, calls[0].value)

	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
	assert.Equal(t, 0, got.FailedCount)
	require.NotNil(t, got.LastTriggered)
	assert.Equal(t, f.clock.Now(), *got.LastTriggered)
	require.NotNil(t, got.NextCheck)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *got.NextCheck, "rescheduled by the alert interval")
	require.Len(t, got.ExecutionHistory, 1)
	assert.True(t, got.ExecutionHistory[0].Triggered)
	assert.Empty(t, got.ExecutionHistory[0].Error)
	assert.Equal(t, int64(1), got.Performance.TotalEvaluations)
	assert.Equal(t, int64(1), got.Performance.TotalTriggers)
	assert.True(t, got.IsActive, "recurring alerts stay active")
}

func TestTickRecordsNonTrigger(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 44000, f.clock.Now()))

	f.scheduler.Tick(context.Background())

	assert.Empty(t, f.notifier.Calls())
	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TriggerCount)
	assert.Nil(t, got.LastTriggered)
	require.Len(t, got.ExecutionHistory, 1)
	assert.False(t, got.ExecutionHistory[0].Triggered)
	assert.Equal(t, 44000.0, got.ExecutionHistory[0].Value)
	assert.Equal(t, int64(1), got.Performance.TotalEvaluations)
}

func TestCooldownSkipsMarketFetch(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	stored, err := f.repo.GetByID(id)
	require.NoError(t, err)
	recent := f.clock.Now().Add(-10 * time.Second) // cooldown is 60s
	stored.LastTriggered = &recent
	stored.TriggerCount = 1
	require.NoError(t, f.repo.UpdateRuntime(stored))

	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45100, f.clock.Now()))
	f.scheduler.Tick(context.Background())

	assert.Zero(t, f.market.Calls(), "no quote fetched while cooling down")
	assert.Empty(t, f.notifier.Calls())

	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
	assert.Equal(t, int64(0), got.Performance.TotalEvaluations, "cooldown skips do not count as evaluations")
	require.NotNil(t, got.NextCheck)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *got.NextCheck)
}

func TestFailureBacksOffExponentially(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	f.market.SetError(errors.New("feed down"))

	f.scheduler.Tick(context.Background())

	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FailedCount)
	require.NotNil(t, got.NextCheck)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *got.NextCheck, "first failure backs off by the base")
	require.Len(t, got.ExecutionHistory, 1)
	assert.Contains(t, got.ExecutionHistory[0].Error, "feed down")
	assert.Equal(t, int64(1), got.Performance.FailedEvaluations)

	f.clock.Advance(31 * time.Second)
	f.scheduler.Tick(context.Background())

	got, err = f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FailedCount)
	assert.Equal(t, f.clock.Now().Add(time.Minute), *got.NextCheck, "second failure doubles the delay")

	// Recovery resets the failure streak.
	f.market.SetError(nil)
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 44000, f.clock.Now()))
	f.clock.Advance(2 * time.Minute)
	f.scheduler.Tick(context.Background())

	got, err = f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedCount)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), *got.NextCheck)
}

func TestDeliveryFailureDoesNotRearmTrigger(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45100, f.clock.Now()))
	f.notifier.err = errors.New("channel unreachable")

	f.scheduler.Tick(context.Background())

	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount, "trigger committed before delivery")
	require.NotNil(t, got.LastTriggered)
	require.Len(t, got.ExecutionHistory, 1)
	assert.True(t, got.ExecutionHistory[0].Triggered)
	assert.Contains(t, got.ExecutionHistory[0].Error, "delivery failed")
	assert.Equal(t, 0, got.FailedCount, "delivery failures are not evaluation failures")
}

func TestOnceAlertDeactivatesAfterTrigger(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, func(a *domain.UserAlert) {
		a.Frequency = domain.FrequencyOnce
		a.MaxTriggers = 1
	})
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45100, f.clock.Now()))

	f.scheduler.Tick(context.Background())

	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TriggerCount)
	assert.False(t, got.IsActive, "exhausted once-alerts leave the due pool")

	f.clock.Advance(10 * time.Minute)
	due, err := f.repo.LoadDue(f.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestHeldLeaseSkipsAlert(t *testing.T) {
	f := newSchedulerFixture(t)
	defer f.cleanup()

	id := f.createDueAlert(t, nil)
	f.market.SetSnapshot(htesting.NewSnapshotFixture("BTC", 45100, f.clock.Now()))

	ok, err := f.locks.TryAcquire(locks.LeaseKey(id), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	f.scheduler.Tick(context.Background())

	assert.Zero(t, f.market.Calls())
	assert.Empty(t, f.notifier.Calls())
	got, err := f.repo.GetByID(id)
	require.NoError(t, err)
	assert.Nil(t, got.LastChecked, "leased alerts are left untouched")

	// Lease released: the next tick picks it up.
	require.NoError(t, f.locks.Release(locks.LeaseKey(id)))
	f.scheduler.Tick(context.Background())
	assert.Len(t, f.notifier.Calls(), 1)
}
