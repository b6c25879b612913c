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

package rebalance

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"
	"kiota-savings-go/internal/swap"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the slice of the ledger the rebalance service needs.
type Store interface {
	GetPortfolio(ctx context.Context, userId string) (*models.Portfolio, error)
	GetHoldings(ctx context.Context, portfolioId string) ([]models.Holding, error)
	CreateSwapGroup(ctx context.Context, params store.CreateSwapGroupParams) (*models.SwapGroup, bool, error)
}

var _ Store = store.LedgerStore(nil)

// Submitter turns one accepted instruction into a tracked swap transaction.
type Submitter interface {
	Submit(ctx context.Context, params swap.SubmitParams) (*models.SwapTransaction, error)
}

// Registry is the asset-class universe the service consults.
type Registry interface {
	AssetResolver
	Model(key string) (map[string]decimal.Decimal, error)
	StableClass() string
	StableAsset() string
}

// Result describes one rebalance decision. An empty GroupId with no swaps
// means the portfolio was within tolerance and nothing was submitted.
type Result struct {
	GroupId        string
	Drift          decimal.Decimal
	Swaps          []*models.SwapTransaction
	TotalSwapValue decimal.Decimal
}

// DriftReport is the read-only drift check result.
type DriftReport struct {
	Drift          decimal.Decimal
	NeedsRebalance bool
}

// Service decides when a portfolio needs rebalancing and hands the resulting
// instructions to the swap coordinator. Group idempotency keys make each
// trigger single-shot: re-running the same decision finds the existing group
// and the deterministic order handles dedupe its swaps.
type Service struct {
	ledger Store
	swaps  Submitter
	assets Registry
	calc   *Calculator
}

func NewService(ledger Store, swaps Submitter, assets Registry) *Service {
	return &Service{
		ledger: ledger,
		swaps:  swaps,
		assets: assets,
		calc:   NewCalculator(assets),
	}
}

// CheckDrift returns the portfolio's current drift against its model and
// whether that exceeds the rebalance threshold. Read-only.
func (s *Service) CheckDrift(ctx context.Context, userId string) (decimal.Decimal, bool, error) {
	portfolio, err := s.ledger.GetPortfolio(ctx, userId)
	if err != nil {
		return decimal.Zero, false, err
	}

	current, _, err := s.allocationState(ctx, portfolio)
	if err != nil {
		return decimal.Zero, false, err
	}

	target, err := s.assets.Model(portfolio.ModelKey)
	if err != nil {
		return decimal.Zero, false, err
	}

	drift := Drift(current, target)
	return drift, drift.GreaterThan(driftThreshold), nil
}

// RebalancePortfolio computes the swap set that moves the portfolio back to
// its model allocation and submits it. Unless force is set, drift at or below
// the threshold returns an empty result without touching the ledger.
func (s *Service) RebalancePortfolio(ctx context.Context, userId string, force bool) (*Result, error) {
	portfolio, err := s.ledger.GetPortfolio(ctx, userId)
	if err != nil {
		return nil, err
	}

	current, balances, err := s.allocationState(ctx, portfolio)
	if err != nil {
		return nil, err
	}

	target, err := s.assets.Model(portfolio.ModelKey)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Drift:          Drift(current, target),
		TotalSwapValue: decimal.Zero,
	}

	if !force && !result.Drift.GreaterThan(driftThreshold) {
		zap.L().Debug("Portfolio within drift tolerance",
			zap.String("user_id", userId),
			zap.String("drift", result.Drift.String()))
		return result, nil
	}

	instructions, err := s.calc.RequiredSwaps(current, target, portfolio.TotalValue, balances)
	if err != nil {
		return nil, err
	}
	if len(instructions) == 0 {
		zap.L().Debug("No actionable swaps for portfolio",
			zap.String("user_id", userId),
			zap.String("drift", result.Drift.String()))
		return result, nil
	}

	// One group per user per hour window. A scheduled scan and a manual
	// trigger racing on the same drift land on the same group.
	groupKey := fmt.Sprintf("rebalance:%s:%s", userId, time.Now().Format("2006-01-02T15"))
	group, existed, err := s.ledger.CreateSwapGroup(ctx, store.CreateSwapGroupParams{
		UserId:         userId,
		Kind:           models.GroupRebalance,
		IdempotencyKey: groupKey,
		Drift:          result.Drift,
		TotalValue:     portfolio.TotalValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rebalance group: %w", err)
	}
	if existed {
		zap.L().Info("Rebalance group already exists for this window",
			zap.String("group_id", group.Id),
			zap.String("user_id", userId))
	}

	result.GroupId = group.Id
	result.Swaps, err = s.submitInstructions(ctx, portfolio, group.Id, instructions)
	if err != nil {
		return nil, err
	}
	for _, transaction := range result.Swaps {
		result.TotalSwapValue = result.TotalSwapValue.Add(transaction.UsdAmount)
	}

	zap.L().Info("Rebalance submitted",
		zap.String("group_id", group.Id),
		zap.String("user_id", userId),
		zap.String("drift", result.Drift.String()),
		zap.Int("swaps", len(result.Swaps)),
		zap.String("total_value", result.TotalSwapValue.String()))

	return result, nil
}

// AllocateDeposit spreads a credited deposit from the stable class across the
// portfolio's model targets. The group key is derived from the deposit
// reference, so crediting paths can call this more than once safely.
func (s *Service) AllocateDeposit(ctx context.Context, userId string, amount decimal.Decimal, depositRef string) ([]*models.SwapTransaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("allocation amount must be positive, got %s", amount.String())
	}
	if depositRef == "" {
		return nil, fmt.Errorf("allocation requires a deposit reference")
	}

	portfolio, err := s.ledger.GetPortfolio(ctx, userId)
	if err != nil {
		return nil, err
	}

	target, err := s.assets.Model(portfolio.ModelKey)
	if err != nil {
		return nil, err
	}

	stableClass := s.assets.StableClass()
	instructions, err := s.conversionInstructions(amount, stableClass, target)
	if err != nil {
		return nil, err
	}
	if len(instructions) == 0 {
		zap.L().Debug("Deposit stays in the stable class",
			zap.String("user_id", userId),
			zap.String("amount", amount.String()))
		return nil, nil
	}

	group, existed, err := s.ledger.CreateSwapGroup(ctx, store.CreateSwapGroupParams{
		UserId:         userId,
		Kind:           models.GroupDepositConversion,
		IdempotencyKey: fmt.Sprintf("deposit-conversion:%s", depositRef),
		Drift:          decimal.Zero,
		TotalValue:     portfolio.TotalValue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversion group: %w", err)
	}
	if existed {
		zap.L().Info("Conversion group already exists for deposit",
			zap.String("group_id", group.Id),
			zap.String("deposit_ref", depositRef))
	}

	created, err := s.submitInstructions(ctx, portfolio, group.Id, instructions)
	if err != nil {
		return nil, err
	}

	zap.L().Info("Deposit allocation submitted",
		zap.String("group_id", group.Id),
		zap.String("user_id", userId),
		zap.String("deposit_ref", depositRef),
		zap.Int("swaps", len(created)))

	return created, nil
}

// conversionInstructions splits a deposited stable amount into one swap per
// non-stable target class, dropping dust.
func (s *Service) conversionInstructions(amount decimal.Decimal, stableClass string, target map[string]decimal.Decimal) ([]SwapInstruction, error) {
	classKeys := make([]string, 0, len(target))
	for classKey := range target {
		classKeys = append(classKeys, classKey)
	}
	sort.Strings(classKeys)

	var instructions []SwapInstruction
	for _, classKey := range classKeys {
		if classKey == stableClass {
			continue
		}
		usd := amount.Mul(target[classKey]).Div(hundred)
		if usd.LessThan(dustThreshold) {
			continue
		}

		instruction, err := s.calc.instruction(stableClass, classKey, usd)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, instruction)
	}
	return instructions, nil
}

// submitInstructions hands each instruction to the coordinator with a handle
// derived from the group and route, so resubmission returns existing swaps
// instead of creating doubles.
func (s *Service) submitInstructions(ctx context.Context, portfolio *models.Portfolio, groupId string, instructions []SwapInstruction) ([]*models.SwapTransaction, error) {
	created := make([]*models.SwapTransaction, 0, len(instructions))
	for _, instruction := range instructions {
		transaction, err := s.swaps.Submit(ctx, swap.SubmitParams{
			UserId:      portfolio.UserId,
			PortfolioId: portfolio.Id,
			GroupId:     groupId,
			FromClass:   instruction.FromClass,
			ToClass:     instruction.ToClass,
			FromAsset:   instruction.FromAsset,
			ToAsset:     instruction.ToAsset,
			UsdAmount:   instruction.UsdAmount,
			OrderHandle: fmt.Sprintf("%s:%s->%s", groupId, instruction.FromClass, instruction.ToClass),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to submit swap %s -> %s: %w", instruction.FromClass, instruction.ToClass, err)
		}
		created = append(created, transaction)
	}
	return created, nil
}

// allocationState derives the current percentage allocation and USD balance
// per class from stored holdings.
func (s *Service) allocationState(ctx context.Context, portfolio *models.Portfolio) (map[string]decimal.Decimal, map[string]decimal.Decimal, error) {
	holdings, err := s.ledger.GetHoldings(ctx, portfolio.Id)
	if err != nil {
		return nil, nil, err
	}

	current := make(map[string]decimal.Decimal, len(holdings))
	balances := make(map[string]decimal.Decimal, len(holdings))
	for _, holding := range holdings {
		current[holding.ClassKey] = holding.Pct
		balances[holding.ClassKey] = holding.UsdValue
	}
	return current, balances, nil
}
