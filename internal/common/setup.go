package common

import (
	"context"
	"log"
	"strings"

	"kiota-savings-go/internal/api"
	"kiota-savings-go/internal/chain"
	"kiota-savings-go/internal/database"
	"kiota-savings-go/internal/deposit"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/pricing"
	"kiota-savings-go/internal/rebalance"
	"kiota-savings-go/internal/registry"
	"kiota-savings-go/internal/scheduler"
	"kiota-savings-go/internal/swap"
	"kiota-savings-go/internal/worker"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		// Only log if the file exists but couldn't be read
		// (godotenv returns an error if .env doesn't exist)
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the fully wired engine stack.
type Services struct {
	DbService *database.Service
	Observer  chain.Observer
	Assets    *registry.Registry
	Prices    *pricing.Static
	Jobs      *scheduler.Scheduler
	Swaps     *swap.Coordinator
	Planner   *rebalance.Service
	Deposits  *deposit.Service
	Api       *api.SavingsService
	Engine    *worker.Engine
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Loading asset registry", zap.String("file", cfg.Registry.File))
	assets, err := registry.Load(cfg.Registry.File)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	observer, err := chain.NewEthereumObserver(cfg.Chain)
	if err != nil {
		dbService.Close()
		return nil, err
	}

	provider, err := swap.NewAggregatorClient(cfg.Swap)
	if err != nil {
		observer.Close()
		dbService.Close()
		return nil, err
	}

	prices := pricing.NewStatic(assets.Prices())
	jobs := scheduler.New()

	coordinator := swap.NewCoordinator(dbService, provider, prices, jobs, cfg.Swap)
	planner := rebalance.NewService(dbService, coordinator, assets)
	deposits := deposit.NewService(deposit.ServiceParams{
		Ledger:    dbService,
		Observer:  observer,
		Allocator: planner,
		Jobs:      jobs,
		Assets:    assets,
		Config:    cfg.Deposit,
		Chain:     cfg.Chain,
	})

	return &Services{
		DbService: dbService,
		Observer:  observer,
		Assets:    assets,
		Prices:    prices,
		Jobs:      jobs,
		Swaps:     coordinator,
		Planner:   planner,
		Deposits:  deposits,
		Api:       api.NewSavingsService(dbService, deposits, planner),
		Engine: worker.NewEngine(worker.EngineConfig{
			DbService: dbService,
			Deposits:  deposits,
			Swaps:     coordinator,
			Planner:   planner,
			Prices:    prices,
			Config:    cfg.Worker,
		}),
	}, nil
}

// InitializeDatabaseOnly initializes just the database service.
// Useful for read-only operations like querying portfolios.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Jobs != nil {
		cs.Jobs.Stop()
	}
	if cs.Observer != nil {
		cs.Observer.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
