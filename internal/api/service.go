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

	"kiota-savings-go/internal/deposit"
	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/rebalance"
	"kiota-savings-go/internal/store"

	"github.com/shopspring/decimal"
)

// Store is the ledger slice the facade reads directly.
type Store interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetPortfolio(ctx context.Context, userId string) (*models.Portfolio, error)
	GetHoldings(ctx context.Context, portfolioId string) ([]models.Holding, error)
	GetDepositSession(ctx context.Context, sessionId string) (*models.DepositSession, error)
	GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error)
}

var _ Store = store.LedgerStore(nil)

// Deposits is the deposit-session surface the facade fronts.
type Deposits interface {
	CreateSession(ctx context.Context, userId, token string, expectedAmount decimal.Decimal) (*models.DepositSession, error)
	ConfirmSession(ctx context.Context, sessionId string) (*deposit.Confirmation, error)
}

var _ Deposits = (*deposit.Service)(nil)

// Planner is the rebalance surface the facade fronts.
type Planner interface {
	CheckDrift(ctx context.Context, userId string) (decimal.Decimal, bool, error)
	RebalancePortfolio(ctx context.Context, userId string, force bool) (*rebalance.Result, error)
}

var _ Planner = (*rebalance.Service)(nil)

// SavingsService provides the transport-agnostic API surface. It returns
// plain records; routing and serialization live with the caller.
type SavingsService struct {
	db       Store
	deposits Deposits
	planner  Planner
}

func NewSavingsService(db Store, deposits Deposits, planner Planner) *SavingsService {
	return &SavingsService{
		db:       db,
		deposits: deposits,
		planner:  planner,
	}
}

func (s *SavingsService) HealthCheck(ctx context.Context) error {
	_, err := s.db.GetUsers(ctx)
	if err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}
