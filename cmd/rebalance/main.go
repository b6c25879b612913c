/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"fmt"

	"kiota-savings-go/internal/common"
	"kiota-savings-go/internal/config"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/rebalance"
	"kiota-savings-go/internal/registry"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type rebalanceRequest struct {
	email  string
	force  bool
	dryRun bool
}

func parseAndValidateFlags() (*rebalanceRequest, error) {
	emailFlag := flag.String("email", "", "User email (required)")
	forceFlag := flag.Bool("force", false, "Rebalance even when drift is within the threshold")
	dryRunFlag := flag.Bool("dry-run", false, "Compute the swap plan without submitting anything")
	flag.Parse()

	if *emailFlag == "" {
		return nil, fmt.Errorf("--email is required")
	}

	return &rebalanceRequest{
		email:  *emailFlag,
		force:  *forceFlag,
		dryRun: *dryRunFlag,
	}, nil
}

func printPlanHeader(user *models.User, portfolio *models.Portfolio, drift decimal.Decimal, title string) {
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("User:        %s (%s)\n", user.Name, user.Email)
	fmt.Printf("Model:       %s\n", portfolio.ModelKey)
	fmt.Printf("Total Value: $%s\n", portfolio.TotalValue.String())
	fmt.Printf("Drift:       %s pts\n", drift.StringFixed(2))
	common.PrintSeparator("=", common.DefaultWidth)
}

func printInstructions(instructions []rebalance.SwapInstruction) {
	for i, instruction := range instructions {
		symbol := common.BoxPrefix(i == len(instructions)-1)
		fmt.Printf("%s %-12s -> %-12s: $%s (%s -> %s)\n",
			symbol,
			instruction.FromClass,
			instruction.ToClass,
			instruction.UsdAmount.String(),
			instruction.FromAsset,
			instruction.ToAsset)
	}
}

func printSubmittedSwaps(swaps []*models.SwapTransaction) {
	for i, swap := range swaps {
		symbol := common.BoxPrefix(i == len(swaps)-1)
		fmt.Printf("%s %-12s -> %-12s: $%s [%s] handle=%s\n",
			symbol,
			swap.FromClass,
			swap.ToClass,
			swap.UsdAmount.String(),
			swap.Status,
			swap.OrderHandle)
	}
}

// computePlan runs the pure calculator. Force previews the swap set even when
// drift is inside the threshold, mirroring what an executed --force would do.
func computePlan(calc *rebalance.Calculator, current, target map[string]decimal.Decimal, totalValue decimal.Decimal, balances map[string]decimal.Decimal, force bool) (*rebalance.Plan, error) {
	plan, err := calc.Calculate(current, target, totalValue, balances)
	if err != nil || !force || plan.NeedsRebalance {
		return plan, err
	}

	swaps, err := calc.RequiredSwaps(current, target, totalValue, balances)
	if err != nil {
		return nil, err
	}
	plan.Swaps = swaps
	plan.TotalSwapValue = decimal.Zero
	for _, swap := range swaps {
		plan.TotalSwapValue = plan.TotalSwapValue.Add(swap.UsdAmount)
	}
	return plan, nil
}

// runDryRun reads portfolio state and prints the swap plan without opening
// the chain observer or the swap provider.
func runDryRun(ctx context.Context, cfg *models.Config, req *rebalanceRequest) error {
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbService.Close()

	assets, err := registry.Load(cfg.Registry.File)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	user, err := dbService.GetUserByEmail(ctx, req.email)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}

	portfolio, err := dbService.GetPortfolio(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}

	holdings, err := dbService.GetHoldings(ctx, portfolio.Id)
	if err != nil {
		return fmt.Errorf("failed to load holdings: %w", err)
	}

	current := make(map[string]decimal.Decimal, len(holdings))
	balances := make(map[string]decimal.Decimal, len(holdings))
	for _, holding := range holdings {
		current[holding.ClassKey] = holding.Pct
		balances[holding.ClassKey] = holding.UsdValue
	}

	target, err := assets.Model(portfolio.ModelKey)
	if err != nil {
		return fmt.Errorf("failed to resolve model: %w", err)
	}

	plan, err := computePlan(rebalance.NewCalculator(assets), current, target, portfolio.TotalValue, balances, req.force)
	if err != nil {
		return fmt.Errorf("failed to compute plan: %w", err)
	}

	printPlanHeader(user, portfolio, plan.Drift, "REBALANCE PLAN (DRY RUN)")
	if len(plan.Swaps) == 0 {
		fmt.Println("\nPortfolio is within drift tolerance, nothing to do")
		fmt.Println()
		return nil
	}

	fmt.Println()
	printInstructions(plan.Swaps)
	fmt.Printf("\nTotal swap value: $%s across %d swaps\n", plan.TotalSwapValue.String(), len(plan.Swaps))
	fmt.Println("Re-run without --dry-run to submit")
	fmt.Println()
	return nil
}

func runRebalance(ctx context.Context, cfg *models.Config, req *rebalanceRequest) error {
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer services.Close()

	user, err := services.DbService.GetUserByEmail(ctx, req.email)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}

	portfolio, err := services.DbService.GetPortfolio(ctx, user.Id)
	if err != nil {
		return fmt.Errorf("failed to load portfolio: %w", err)
	}

	result, err := services.Api.RebalancePortfolio(ctx, user.Id, req.force)
	if err != nil {
		return fmt.Errorf("rebalance failed: %w", err)
	}

	printPlanHeader(user, portfolio, result.Drift, "REBALANCE SUBMITTED")
	if result.GroupId == "" {
		fmt.Println("\nPortfolio is within drift tolerance, nothing submitted")
		fmt.Println()
		return nil
	}

	fmt.Printf("\nGroup: %s\n\n", result.GroupId)
	printSubmittedSwaps(result.Swaps)
	fmt.Printf("\nTotal swap value: $%s across %d swaps\n", result.TotalSwapValue.String(), len(result.Swaps))
	fmt.Println("Swaps settle asynchronously; keep the engine running or check back later")
	fmt.Println()

	zap.L().Info("Rebalance submitted",
		zap.String("user_id", user.Id),
		zap.String("group_id", result.GroupId),
		zap.String("drift", result.Drift.String()),
		zap.Int("swaps", len(result.Swaps)))
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Starting rebalance",
		zap.String("email", req.email),
		zap.Bool("force", req.force),
		zap.Bool("dry_run", req.dryRun))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	if req.dryRun {
		if err := runDryRun(ctx, cfg, req); err != nil {
			zap.L().Fatal("Dry run failed", zap.Error(err))
		}
		return
	}

	if err := runRebalance(ctx, cfg, req); err != nil {
		zap.L().Fatal("Rebalance failed", zap.Error(err))
	}
}
