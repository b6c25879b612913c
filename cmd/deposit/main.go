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
	"time"

	"kiota-savings-go/internal/common"
	"kiota-savings-go/internal/config"
	"kiota-savings-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// watchGrace bounds how long --watch keeps polling after the session's own
// expiry: a RECEIVED session never expires, so the loop needs its own stop.
const watchGrace = 10 * time.Minute

type depositRequest struct {
	email  string
	token  string
	amount decimal.Decimal
	watch  bool
}

func parseAndValidateFlags() (*depositRequest, error) {
	emailFlag := flag.String("email", "", "User email (required)")
	tokenFlag := flag.String("token", "", "Deposit token symbol (default: TOKEN_SYMBOL from environment)")
	amountFlag := flag.String("amount", "", "Expected deposit amount (optional; omit for an open-ended session)")
	watchFlag := flag.Bool("watch", false, "Poll the session until it is credited or expired")
	flag.Parse()

	if *emailFlag == "" {
		return nil, fmt.Errorf("--email is required")
	}

	amount := decimal.Zero
	if *amountFlag != "" {
		parsed, err := decimal.NewFromString(*amountFlag)
		if err != nil {
			return nil, fmt.Errorf("invalid amount format: %w", err)
		}
		amount = parsed
	}

	return &depositRequest{
		email:  *emailFlag,
		token:  *tokenFlag,
		amount: amount,
		watch:  *watchFlag,
	}, nil
}

func formatMaxAmount(max decimal.Decimal) string {
	if max.IsZero() {
		return "open-ended"
	}
	return max.String()
}

func printSessionReceipt(user *models.User, receipt *models.DepositSessionReceipt) {
	common.PrintHeader("DEPOSIT SESSION OPENED", common.DefaultWidth)
	fmt.Printf("User:            %s (%s)\n", user.Name, user.Email)
	fmt.Printf("Session ID:      %s\n", receipt.SessionId)
	fmt.Printf("Deposit Address: %s\n", receipt.DepositAddress)
	fmt.Printf("Token:           %s\n", receipt.Token)
	fmt.Printf("Accepted Range:  %s - %s\n", receipt.MinAmount.String(), formatMaxAmount(receipt.MaxAmount))
	fmt.Printf("Expires At:      %s\n", receipt.ExpiresAt.Format("2006-01-02 15:04:05"))
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println()
}

func printConfirmation(confirmation *models.DepositConfirmation) {
	switch confirmation.Status {
	case models.SessionConfirmed:
		fmt.Println("\n✅ Deposit credited")
		fmt.Printf("   Amount:         %s\n", confirmation.MatchedAmount.String())
		fmt.Printf("   Tx Hash:        %s\n", confirmation.TxHash)
		fmt.Printf("   Confirmations:  %d\n", confirmation.Confirmations)
		fmt.Printf("   Transaction ID: %s\n\n", confirmation.TransactionId)
	case models.SessionReceived:
		fmt.Printf("⏳ Transfer seen (%s in %s), waiting for confirmations (%d so far)\n",
			confirmation.MatchedAmount.String(), confirmation.TxHash, confirmation.Confirmations)
	case models.SessionExpired:
		fmt.Println("\n❌ Session expired without a matching transfer")
	default:
		fmt.Println("⏳ No matching transfer yet")
	}
}

func watchSession(ctx context.Context, services *common.Services, sessionId string, interval time.Duration, deadline time.Time) (*models.DepositConfirmation, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus models.SessionStatus
	for {
		confirmation, err := services.Api.ConfirmDepositSession(ctx, sessionId)
		if err != nil {
			return nil, fmt.Errorf("confirmation attempt failed: %w", err)
		}

		if confirmation.Status != lastStatus {
			printConfirmation(confirmation)
			lastStatus = confirmation.Status
		}

		if confirmation.Status.Terminal() {
			return confirmation, nil
		}

		if time.Now().After(deadline) {
			return confirmation, fmt.Errorf("gave up waiting, session %s still %s", sessionId, confirmation.Status)
		}

		select {
		case <-ctx.Done():
			return confirmation, ctx.Err()
		case <-ticker.C:
		}
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		zap.L().Fatal("Invalid flags", zap.Error(err))
	}

	zap.L().Info("Opening deposit session",
		zap.String("email", req.email),
		zap.String("amount", req.amount.String()),
		zap.Bool("watch", req.watch))

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	token := req.token
	if token == "" {
		token = cfg.Chain.TokenSymbol
	}

	zap.L().Info("Initializing services")
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	targetUser, err := services.DbService.GetUserByEmail(ctx, req.email)
	if err != nil {
		common.PrintHeader("DEPOSIT FAILED", common.DefaultWidth)
		fmt.Printf("Error: User not found for email %s\n", req.email)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("User not found", zap.String("email", req.email), zap.Error(err))
	}

	receipt, err := services.Api.OpenDepositSession(ctx, targetUser.Id, token, req.amount)
	if err != nil {
		common.PrintHeader("DEPOSIT FAILED", common.DefaultWidth)
		fmt.Printf("Error: %v\n", err)
		common.PrintSeparator("=", common.DefaultWidth)
		zap.L().Fatal("Failed to open deposit session", zap.Error(err))
	}

	printSessionReceipt(targetUser, receipt)
	fmt.Printf("Send %s to %s before %s\n\n",
		receipt.Token, receipt.DepositAddress, receipt.ExpiresAt.Format("15:04:05"))

	if !req.watch {
		fmt.Println("Re-run with --watch, or keep the engine running, to confirm the transfer")
		return
	}

	deadline := receipt.ExpiresAt.Add(watchGrace)
	confirmation, err := watchSession(ctx, services, receipt.SessionId, cfg.Deposit.ConfirmInterval, deadline)
	if err != nil {
		zap.L().Fatal("Watch ended without a terminal session state", zap.Error(err))
	}

	if confirmation.Credited {
		zap.L().Info("Deposit session credited",
			zap.String("session_id", receipt.SessionId),
			zap.String("amount", confirmation.MatchedAmount.String()),
			zap.String("transaction_id", confirmation.TransactionId))
	} else {
		zap.L().Warn("Deposit session closed without credit",
			zap.String("session_id", receipt.SessionId),
			zap.String("status", string(confirmation.Status)))
	}
}
