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

package api

import (
	"context"
	"fmt"

	"kiota-savings-go/internal/models"

	"go.uber.org/zap"
)

// GetPortfolio returns a user's portfolio with its class holdings.
func (s *SavingsService) GetPortfolio(ctx context.Context, userId string) (*models.PortfolioView, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	portfolio, err := s.db.GetPortfolio(ctx, userId)
	if err != nil {
		return nil, err
	}

	holdings, err := s.db.GetHoldings(ctx, portfolio.Id)
	if err != nil {
		zap.L().Error("Failed to get holdings",
			zap.String("user_id", userId),
			zap.String("portfolio_id", portfolio.Id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve holdings")
	}

	return &models.PortfolioView{
		Portfolio: *portfolio,
		Holdings:  holdings,
	}, nil
}

// GetTransactionHistory returns paginated ledger history for a user.
func (s *SavingsService) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.TransactionRecord, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	transactions, err := s.db.GetTransactionHistory(ctx, userId, limit, offset)
	if err != nil {
		zap.L().Error("Failed to get transaction history",
			zap.String("user_id", userId),
			zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve transaction history")
	}

	result := make([]models.TransactionRecord, len(transactions))
	for i, tx := range transactions {
		result[i] = models.TransactionRecord{
			Id:          tx.Id,
			Type:        tx.TransactionType,
			ClassKey:    tx.ClassKey,
			Asset:       tx.Asset,
			AmountUsd:   tx.AmountUsd,
			Units:       tx.Units,
			Reference:   tx.Reference,
			Status:      tx.Status,
			ProcessedAt: tx.ProcessedAt,
		}
	}

	return result, nil
}
