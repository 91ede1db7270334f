package testing

import (
	"context"
	"sync"

	"github.com/heraldlabs/herald/internal/domain"
)

// MockMarketDataProvider is a mock implementation of domain.MarketDataProvider.
type MockMarketDataProvider struct {
	mu        sync.RWMutex
	snapshots map[string]*domain.MarketSnapshot
	history   map[string][]domain.OHLCV
	err       error
	calls     int
}

// NewMockMarketDataProvider creates an empty provider mock.
func NewMockMarketDataProvider() *MockMarketDataProvider {
	return &MockMarketDataProvider{
		snapshots: make(map[string]*domain.MarketSnapshot),
		history:   make(map[string][]domain.OHLCV),
	}
}

func providerKey(symbol, venue string) string { return symbol + "|" + venue }

// SetSnapshot sets the snapshot returned for (symbol, venue).
func (m *MockMarketDataProvider) SetSnapshot(s *domain.MarketSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[providerKey(s.Symbol, s.Venue)] = s
}

// SetHistory sets the history returned for (symbol, venue).
func (m *MockMarketDataProvider) SetHistory(symbol, venue string, bars []domain.OHLCV) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[providerKey(symbol, venue)] = bars
}

// SetError makes every call fail with err until reset with nil.
func (m *MockMarketDataProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many provider calls were made.
func (m *MockMarketDataProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetSnapshot returns the configured snapshot or a NotFound error.
func (m *MockMarketDataProvider) GetSnapshot(_ context.Context, symbol, venue string) (*domain.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.snapshots[providerKey(symbol, venue)]
	if !ok {
		return nil, domain.NewNotFound("snapshot", symbol)
	}
	return s, nil
}

// GetHistory returns up to limit configured bars, oldest first.
func (m *MockMarketDataProvider) GetHistory(_ context.Context, symbol, venue string, limit int) ([]domain.OHLCV, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	bars := m.history[providerKey(symbol, venue)]
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// MockNotificationBus is a mock implementation of domain.NotificationBus.
// FailFirst makes the first N sends fail, which exercises dispatcher retries.
type MockNotificationBus struct {
	mu        sync.RWMutex
	sent      []domain.Notification
	permErr   error
	failErr   error
	failFirst int
	attempts  int
}

// NewMockNotificationBus creates an empty bus mock.
func NewMockNotificationBus() *MockNotificationBus {
	return &MockNotificationBus{}
}

// SetError makes every send fail with err until reset with nil.
func (m *MockNotificationBus) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permErr = err
}

// FailFirst makes the first n sends fail with the given error; later sends
// succeed.
func (m *MockNotificationBus) FailFirst(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	m.failErr = err
}

// Send records the notification or fails per configuration.
func (m *MockNotificationBus) Send(_ context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.failFirst > 0 {
		m.failFirst--
		return m.failErr
	}
	if m.permErr != nil {
		return m.permErr
	}
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns a copy of successfully delivered notifications.
func (m *MockNotificationBus) Sent() []domain.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}

// Attempts returns the total number of Send calls, including failures.
func (m *MockNotificationBus) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}
