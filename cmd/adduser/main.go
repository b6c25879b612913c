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
	"regexp"
	"strings"

	"kiota-savings-go/internal/common"
	"kiota-savings-go/internal/config"
	"kiota-savings-go/internal/registry"
	"kiota-savings-go/internal/store"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("deposit address cannot be empty")
	}
	if !ethcommon.IsHexAddress(address) {
		return fmt.Errorf("invalid EVM address: %s", address)
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	// Parse command line flags
	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	addressFlag := flag.String("address", "", "User's deposit address on the monitored chain (required)")
	modelFlag := flag.String("model", "balanced", "Portfolio model to assign")
	flag.Parse()

	// Validate required flags
	if *nameFlag == "" || *emailFlag == "" || *addressFlag == "" {
		zap.L().Fatal("Required flags: --name, --email and --address")
	}

	// Validate name
	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}

	// Validate email
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}

	// Validate deposit address
	if err := validateAddress(*addressFlag); err != nil {
		zap.L().Fatal("Invalid deposit address", zap.Error(err))
	}

	zap.L().Info("Starting user creation process",
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag),
		zap.String("address", *addressFlag),
		zap.String("model", *modelFlag))

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	// Only the database and the registry are needed here; skip the chain
	// observer and swap provider.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	assets, err := registry.Load(cfg.Registry.File)
	if err != nil {
		zap.L().Fatal("Failed to load registry", zap.Error(err))
	}

	// Validate the model before creating anything
	if _, err := assets.Model(*modelFlag); err != nil {
		zap.L().Fatal("Unknown model",
			zap.String("model", *modelFlag),
			zap.Strings("available", assets.ModelKeys()),
			zap.Error(err))
	}

	// Generate UUID for the new user
	userId := uuid.New().String()

	// Create user in database
	zap.L().Info("Creating user in database",
		zap.String("id", userId),
		zap.String("name", *nameFlag),
		zap.String("email", *emailFlag))

	user, err := dbService.CreateUser(ctx, userId, *nameFlag, *emailFlag, *addressFlag)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			zap.L().Fatal("User already exists with this email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create user", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("USER CREATED", common.DefaultWidth)
	fmt.Printf("ID:              %s\n", user.Id)
	fmt.Printf("Name:            %s\n", user.Name)
	fmt.Printf("Email:           %s\n", user.Email)
	fmt.Printf("Deposit Address: %s\n", user.DepositAddress)
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User created successfully", zap.String("id", user.Id))

	// Provision the portfolio with a zero holding per class
	portfolio, err := dbService.CreatePortfolio(ctx, user.Id, *modelFlag)
	if err != nil {
		zap.L().Fatal("User created but portfolio provisioning failed", zap.Error(err))
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
	if err := dbService.IncrementBalances(ctx, user.Id, deltas); err != nil {
		zap.L().Fatal("Portfolio created but holding seed failed", zap.Error(err))
	}

	fmt.Println()
	common.PrintHeader("PORTFOLIO PROVISIONED", common.DefaultWidth)
	fmt.Printf("Portfolio: %s\n", portfolio.Id)
	fmt.Printf("Model:     %s\n", portfolio.ModelKey)
	fmt.Printf("Classes:   %d (all starting at zero)\n", len(deltas))
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()

	zap.L().Info("User and portfolio created successfully",
		zap.String("user_id", user.Id),
		zap.String("portfolio_id", portfolio.Id),
		zap.String("model", portfolio.ModelKey))

	fmt.Printf("Open a deposit session with: go run cmd/deposit/main.go --email %s --amount 100\n\n", user.Email)
}
