package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/locks"
	"github.com/heraldlabs/herald/internal/modules/configs"
	"github.com/heraldlabs/herald/internal/modules/intake"
	"github.com/heraldlabs/herald/internal/modules/principals"
	"github.com/heraldlabs/herald/internal/modules/settings"
	"github.com/heraldlabs/herald/internal/modules/trades"
	"github.com/heraldlabs/herald/internal/modules/useralerts"
)

// InitializeRepositories builds every repository over the open databases
// and verifies the trade counter before the pipeline hands out numbers.
func InitializeRepositories(c *Container, log zerolog.Logger) error {
	c.Settings = settings.NewRepository(c.RegistryDB.Conn(), log)
	c.Configs = configs.NewRepository(c.RegistryDB.Conn(), log)
	c.Principals = principals.NewRepository(c.RegistryDB.Conn(), log)
	c.UserAlerts = useralerts.NewRepository(c.RegistryDB.Conn(), log)
	c.Previous = useralerts.NewPreviousValues(c.RegistryDB.Conn(), log)

	c.Alerts = intake.NewRepository(c.IntakeDB.Conn(), log)

	c.Trades = trades.NewRepository(c.LedgerDB.Conn(), log)
	c.TradeCounter = trades.NewCounter(c.LedgerDB.Conn(), log)

	c.Locks = locks.NewRepository(c.CacheDB.Conn(), c.Clock, log)

	// Trade numbers must never repeat. Refuse to start on a counter that
	// cannot be read or that went backwards.
	value, err := c.TradeCounter.Current()
	if err != nil {
		return fmt.Errorf("failed to verify trade counter: %w", err)
	}
	if value < 0 {
		return fmt.Errorf("%w: value %d", trades.ErrCounterCorrupted, value)
	}

	log.Info().Int64("trade_counter", value).Msg("Repositories initialized")
	return nil
}
