package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"kiota-savings-go/internal/common"
	"kiota-savings-go/internal/config"
	"kiota-savings-go/internal/database"
	"kiota-savings-go/internal/registry"
	"kiota-savings-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// defaultRegistryYAML is the starter asset universe written by --init when no
// registry file exists yet. Prices here are static bootstrap marks; operators
// are expected to edit the file before running against anything real.
const defaultRegistryYAML = `stable_class: stable_yield

classes:
  - key: stable_yield
    name: Stable Yield
    asset: USDC
    price_usd: "1"
  - key: gold
    name: Tokenized Gold
    asset: PAXG
    price_usd: "2400"
  - key: defi_yield
    name: DeFi Yield
    asset: SDAI
    price_usd: "1.12"
  - key: crypto
    name: Crypto
    asset: WETH
    price_usd: "2600"

models:
  - key: conservative
    name: Conservative
    targets:
      stable_yield: "70"
      gold: "20"
      defi_yield: "10"
  - key: balanced
    name: Balanced
    targets:
      stable_yield: "40"
      gold: "25"
      defi_yield: "20"
      crypto: "15"
  - key: growth
    name: Growth
    targets:
      stable_yield: "15"
      gold: "20"
      defi_yield: "25"
      crypto: "40"
`

// ensureRegistryFile writes the starter registry when the configured file is
// missing. Returns whether a new file was written.
func ensureRegistryFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("unable to stat %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(defaultRegistryYAML), 0o644); err != nil {
		return false, fmt.Errorf("unable to write %s: %w", path, err)
	}
	return true, nil
}

func checkExistingPortfolio(ctx context.Context, dbService *database.Service, userId string) (bool, error) {
	_, err := dbService.GetPortfolio(ctx, userId)
	if err != nil {
		if errors.Is(err, store.ErrPortfolioNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// provisionPortfolio creates the user's portfolio on the given model and
// pre-creates a zero holding per class so reports show the full universe.
func provisionPortfolio(ctx context.Context, dbService *database.Service, assets *registry.Registry, userId, modelKey string) error {
	portfolio, err := dbService.CreatePortfolio(ctx, userId, modelKey)
	if err != nil {
		return fmt.Errorf("error creating portfolio: %w", err)
	}

	deltas := make([]store.BalanceDelta, 0, len(assets.Classes()))
	for _, class := range assets.Classes() {
		deltas = append(deltas, store.BalanceDelta{
			ClassKey:    class.Key,
			AssetSymbol: class.Asset,
			Units:       decimal.Zero,
			UsdValue:    decimal.Zero,
		})
	}
	if err := dbService.IncrementBalances(ctx, userId, deltas); err != nil {
		return fmt.Errorf("error seeding holdings: %w", err)
	}

	zap.L().Info("Portfolio provisioned",
		zap.String("user_id", userId),
		zap.String("portfolio_id", portfolio.Id),
		zap.String("model_key", modelKey),
		zap.Int("classes", len(deltas)))
	return nil
}

// processUser provisions a portfolio for one user, skipping users that
// already have one.
func processUser(ctx context.Context, dbService *database.Service, assets *registry.Registry, userId, name, modelKey string) (bool, error) {
	exists, err := checkExistingPortfolio(ctx, dbService, userId)
	if err != nil {
		zap.L().Error("Error checking existing portfolio",
			zap.String("user_id", userId),
			zap.Error(err))
		return false, err
	}

	if exists {
		zap.L().Info("User already has a portfolio",
			zap.String("user_id", userId),
			zap.String("name", name))
		return false, nil
	}

	if err := provisionPortfolio(ctx, dbService, assets, userId, modelKey); err != nil {
		return false, err
	}
	return true, nil
}

func provisionPortfolios(ctx context.Context, dbService *database.Service, assets *registry.Registry, modelKey string) {
	users, err := dbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	var created, skipped, failed int
	var failedUsers []string

	for _, user := range users {
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.String("name", user.Name),
			zap.String("email", user.Email))

		wasCreated, err := processUser(ctx, dbService, assets, user.Id, user.Name, modelKey)
		if err != nil {
			failed++
			failedUsers = append(failedUsers, user.Name)
			continue
		}
		if wasCreated {
			created++
		} else {
			skipped++
		}
	}

	// Log summary
	if failed > 0 {
		zap.L().Warn("Portfolio provisioning completed with some failures",
			zap.Int("portfolios_created", created),
			zap.Int("already_provisioned", skipped),
			zap.Int("failed", failed),
			zap.Strings("failed_users", failedUsers))
	} else {
		zap.L().Info("Portfolio provisioning completed successfully",
			zap.Int("portfolios_created", created),
			zap.Int("already_provisioned", skipped))
	}
}

func printUniverse(assets *registry.Registry) {
	common.PrintHeader("ASSET UNIVERSE", common.DefaultWidth)
	fmt.Printf("Stable class: %s (%s)\n\n", assets.StableClass(), assets.StableAsset())
	classes := assets.Classes()
	for i, class := range classes {
		symbol := common.BoxPrefix(i == len(classes)-1)
		price := assets.Prices()[class.Asset]
		fmt.Printf("%s %-14s: %-20s %-6s @ $%s\n", symbol, class.Key, class.Name, class.Asset, price.String())
	}
	fmt.Printf("\nModels: %v\n", assets.ModelKeys())
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	initFlag := flag.Bool("init", false, "Write a starter registry.yaml when missing")
	modelFlag := flag.String("model", "balanced", "Model to assign to newly provisioned portfolios")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Schema creation and demo-user seeding happen inside NewService, driven
	// by CREATE_DEMO_USERS.
	zap.L().Info("Setting up SQLite database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if *initFlag {
		written, err := ensureRegistryFile(cfg.Registry.File)
		if err != nil {
			zap.L().Fatal("Failed to provision registry file", zap.Error(err))
		}
		if written {
			zap.L().Info("Wrote starter registry", zap.String("file", cfg.Registry.File))
		} else {
			zap.L().Info("Registry file already exists, leaving it untouched", zap.String("file", cfg.Registry.File))
		}
	}

	zap.L().Info("Loading asset registry", zap.String("file", cfg.Registry.File))
	assets, err := registry.Load(cfg.Registry.File)
	if err != nil {
		zap.L().Fatal("Failed to load registry (run with --init to write a starter file)", zap.Error(err))
	}

	if _, err := assets.Model(*modelFlag); err != nil {
		zap.L().Fatal("Unknown model",
			zap.String("model", *modelFlag),
			zap.Strings("available", assets.ModelKeys()),
			zap.Error(err))
	}

	printUniverse(assets)

	zap.L().Info("Provisioning portfolios", zap.String("model", *modelFlag))
	provisionPortfolios(ctx, dbService, assets, *modelFlag)

	zap.L().Info("Setup complete")
}
