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
	"errors"
	"flag"
	"fmt"

	"kiota-savings-go/internal/common"
	"kiota-savings-go/internal/config"
	"kiota-savings-go/internal/database"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"go.uber.org/zap"
)

type portfolioStats struct {
	totalUsers          int
	totalHoldings       int
	usersWithPortfolios int
}

func formatReference(reference string) string {
	if reference == "" {
		return "none"
	}
	if len(reference) > 24 {
		return reference[:24] + "..."
	}
	return reference
}

func printHolding(holding models.Holding, isLast bool) {
	symbol := common.BoxPrefix(isLast)

	fmt.Printf("%s %-14s: %18s %-5s ($%s, %s%%)\n",
		symbol,
		holding.ClassKey,
		holding.Units.String(),
		holding.AssetSymbol,
		holding.UsdValue.StringFixed(2),
		holding.Pct.StringFixed(1))
}

func printHoldings(holdings []models.Holding) {
	for i, holding := range holdings {
		isLast := i == len(holdings)-1
		printHolding(holding, isLast)
	}
}

func printHistory(transactions []models.Transaction) {
	fmt.Println("│")
	fmt.Println("│  Recent transactions:")
	for i, transaction := range transactions {
		symbol := common.BoxPrefix(i == len(transactions)-1)
		fmt.Printf("%s %s %-18s %-14s $%12s (ref: %s)\n",
			symbol,
			transaction.ProcessedAt.Format("2006-01-02 15:04:05"),
			transaction.TransactionType,
			transaction.ClassKey,
			transaction.AmountUsd.StringFixed(2),
			formatReference(transaction.Reference))
	}
}

func printUserHeader(user common.UserInfo, portfolio *models.Portfolio, holdingCount int) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  Portfolio: %s (model: %s, v%d)\n", portfolio.Id, portfolio.ModelKey, portfolio.Version)
	fmt.Printf("│  Total: $%s across %d classes\n", portfolio.TotalValue.StringFixed(2), holdingCount)
	common.PrintBoxSeparator(78)
}

func processUser(ctx context.Context, user common.UserInfo, dbService *database.Service, historyLimit int, logger *zap.Logger) (int, error) {
	portfolio, err := dbService.GetPortfolio(ctx, user.Id)
	if err != nil {
		if errors.Is(err, store.ErrPortfolioNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get portfolio: %w", err)
	}

	holdings, err := dbService.GetHoldings(ctx, portfolio.Id)
	if err != nil {
		return 0, fmt.Errorf("failed to get holdings: %w", err)
	}

	printUserHeader(user, portfolio, len(holdings))
	printHoldings(holdings)

	if historyLimit > 0 {
		transactions, err := dbService.GetTransactionHistory(ctx, user.Id, historyLimit, 0)
		if err != nil {
			return len(holdings), fmt.Errorf("failed to get transaction history: %w", err)
		}
		if len(transactions) > 0 {
			printHistory(transactions)
		}
	}

	return len(holdings), nil
}

func processUsersAndGenerateReport(ctx context.Context, users []common.UserInfo, dbService *database.Service, historyLimit int, logger *zap.Logger) portfolioStats {
	stats := portfolioStats{}

	for _, user := range users {
		stats.totalUsers++

		holdingCount, err := processUser(ctx, user, dbService, historyLimit, logger)
		if err != nil {
			logger.Error("Failed to process user",
				zap.String("user_id", user.Id),
				zap.String("user_name", user.Name),
				zap.Error(err))
			continue
		}

		if holdingCount > 0 {
			stats.usersWithPortfolios++
			stats.totalHoldings += holdingCount
		}
	}

	return stats
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	historyFlag := flag.Int("history", 0, "Show the N most recent ledger transactions per user (0 = off)")
	flag.Parse()

	logger.Info("Starting portfolio report")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read path only, so skip the chain observer and swap provider
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	// Initialize users based on filter
	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	// Print header
	common.PrintHeader("PORTFOLIO REPORT", common.DefaultWidth)

	// Process users and generate report
	stats := processUsersAndGenerateReport(ctx, users, dbService, *historyFlag, logger)

	// Print footer summary
	summary := fmt.Sprintf("SUMMARY: %d users with portfolios (%d holdings across %d users queried)",
		stats.usersWithPortfolios, stats.totalHoldings, stats.totalUsers)
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Portfolio report completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("users_with_portfolios", stats.usersWithPortfolios),
		zap.Int("total_holdings", stats.totalHoldings))
}
