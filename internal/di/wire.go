package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Initialize databases
// 2. Initialize repositories
// 3. Apply runtime setting overrides to the configuration
// 4. Initialize services
// 5. Register jobs
func Wire(cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*Container, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize databases: %w", err)
	}
	container.Clock = clk

	// Step 2: Initialize repositories
	if err := InitializeRepositories(container, log); err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	// Step 3: Settings stored in the registry override file and environment
	// values. Must happen before services capture the config.
	if err := cfg.UpdateFromSettings(container.Settings); err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to apply settings overrides: %w", err)
	}

	// Step 4: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 5: Register jobs
	if err := RegisterJobs(container, cfg, log); err != nil {
		container.CloseDatabases()
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, nil
}
