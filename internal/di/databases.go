package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/database"
)

// InitializeDatabases opens the four stores and applies their schemas.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. registry.db - Configurations, principals, user alerts, settings
	registryDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/registry.db",
		Profile: database.ProfileStandard,
		Name:    "registry",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry database: %w", err)
	}
	container.RegistryDB = registryDB

	// 2. intake.db - Incoming alert records and processing outcomes
	intakeDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/intake.db",
		Profile: database.ProfileStandard,
		Name:    "intake",
	})
	if err != nil {
		registryDB.Close()
		return nil, fmt.Errorf("failed to initialize intake database: %w", err)
	}
	container.IntakeDB = intakeDB

	// 3. ledger.db - Append-only trade history and the trade counter
	ledgerDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/ledger.db",
		Profile: database.ProfileLedger, // Maximum safety for the audit trail
		Name:    "ledger",
	})
	if err != nil {
		registryDB.Close()
		intakeDB.Close()
		return nil, fmt.Errorf("failed to initialize ledger database: %w", err)
	}
	container.LedgerDB = ledgerDB

	// 4. cache.db - Dedup fingerprints, advisory locks, market data cache
	cacheDB, err := database.New(database.Config{
		Path:    cfg.DataDir + "/cache.db",
		Profile: database.ProfileCache, // Maximum speed for ephemeral data
		Name:    "cache",
	})
	if err != nil {
		registryDB.Close()
		intakeDB.Close()
		ledgerDB.Close()
		return nil, fmt.Errorf("failed to initialize cache database: %w", err)
	}
	container.CacheDB = cacheDB

	// Apply schemas to all databases (single source of truth)
	for _, db := range container.Databases() {
		if err := db.Migrate(); err != nil {
			container.CloseDatabases()
			return nil, fmt.Errorf("failed to apply schema to %s: %w", db.Name(), err)
		}
	}

	log.Info().Msg("All databases initialized and schemas applied")

	return container, nil
}
