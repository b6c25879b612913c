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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// pctPrecision is the decimal places kept for allocation percentages.
const pctPrecision = 4

func (s *Service) CreatePortfolio(ctx context.Context, userId, modelKey string) (*models.Portfolio, error) {
	zap.L().Info("Creating portfolio", zap.String("user_id", userId), zap.String("model_key", modelKey))

	portfolioId := uuid.New().String()
	_, err := s.db.ExecContext(ctx, queryInsertPortfolio, portfolioId, userId, modelKey, "0")
	if err != nil {
		if isUniqueConstraintError(err) {
			return s.GetPortfolio(ctx, userId)
		}
		return nil, fmt.Errorf("unable to insert portfolio: %w", err)
	}

	return s.GetPortfolio(ctx, userId)
}

func (s *Service) GetPortfolio(ctx context.Context, userId string) (*models.Portfolio, error) {
	row := s.db.QueryRowContext(ctx, queryGetPortfolioByUser, userId)
	portfolio, err := scanPortfolio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrPortfolioNotFound, userId)
		}
		return nil, fmt.Errorf("unable to query portfolio: %w", err)
	}
	return portfolio, nil
}

func (s *Service) GetPortfolios(ctx context.Context) ([]models.Portfolio, error) {
	rows, err := s.db.QueryContext(ctx, queryGetAllPortfolios)
	if err != nil {
		return nil, fmt.Errorf("unable to query portfolios: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var portfolios []models.Portfolio
	for rows.Next() {
		portfolio, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan portfolio row: %w", err)
		}
		portfolios = append(portfolios, *portfolio)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio rows: %w", err)
	}
	return portfolios, nil
}

func (s *Service) GetHoldings(ctx context.Context, portfolioId string) ([]models.Holding, error) {
	return queryHoldings(ctx, s.db, portfolioId)
}

func (s *Service) GetHolding(ctx context.Context, portfolioId, classKey string) (*models.Holding, error) {
	row := s.db.QueryRowContext(ctx, queryGetHolding, portfolioId, classKey)
	holding, err := scanHolding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s in portfolio %s", store.ErrHoldingNotFound, classKey, portfolioId)
		}
		return nil, fmt.Errorf("unable to query holding: %w", err)
	}
	return holding, nil
}

// IncrementBalances atomically applies the deltas to the user's holdings and
// portfolio total. Concurrent mutations are serialized by the portfolio
// version column; a lost version race surfaces as ErrConcurrentModification.
func (s *Service) IncrementBalances(ctx context.Context, userId string, deltas []store.BalanceDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	portfolio, err := getPortfolioTx(ctx, tx, userId)
	if err != nil {
		return err
	}

	if _, err := applyDeltasTx(ctx, tx, portfolio, deltas); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RevaluePortfolio recomputes each holding's USD value from units and the
// given per-asset prices, then the portfolio total and percentages. Holdings
// whose asset has no price keep their recorded value.
func (s *Service) RevaluePortfolio(ctx context.Context, userId string, prices map[string]decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	portfolio, err := getPortfolioTx(ctx, tx, userId)
	if err != nil {
		return err
	}

	holdings, err := queryHoldings(ctx, tx, portfolio.Id)
	if err != nil {
		return err
	}

	newTotal := decimal.Zero
	for _, h := range holdings {
		value := h.UsdValue
		if price, ok := prices[h.AssetSymbol]; ok {
			value = h.Units.Mul(price)
		}
		if _, err := tx.ExecContext(ctx, queryUpdateHolding, h.Units.String(), value.String(), portfolio.Id, h.ClassKey); err != nil {
			return fmt.Errorf("failed to update holding %s: %w", h.ClassKey, err)
		}
		newTotal = newTotal.Add(value)
	}

	if err := finishBalanceUpdate(ctx, tx, portfolio, newTotal); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Debug("Portfolio revalued",
		zap.String("user_id", userId),
		zap.String("old_total", portfolio.TotalValue.String()),
		zap.String("new_total", newTotal.String()))
	return nil
}

// --- shared transactional helpers ---

// querier covers *sql.DB and *sql.Tx for read helpers.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPortfolio(row rowScanner) (*models.Portfolio, error) {
	var p models.Portfolio
	var totalStr string
	if err := row.Scan(&p.Id, &p.UserId, &p.ModelKey, &totalStr, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	total, err := parseDecimal(totalStr, "total_value_usd")
	if err != nil {
		return nil, err
	}
	p.TotalValue = total
	return &p, nil
}

func scanHolding(row rowScanner) (*models.Holding, error) {
	var h models.Holding
	var unitsStr, usdStr, pctStr string
	if err := row.Scan(&h.Id, &h.PortfolioId, &h.ClassKey, &h.AssetSymbol, &unitsStr, &usdStr, &pctStr, &h.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if h.Units, err = parseDecimal(unitsStr, "units"); err != nil {
		return nil, err
	}
	if h.UsdValue, err = parseDecimal(usdStr, "usd_value"); err != nil {
		return nil, err
	}
	if h.Pct, err = parseDecimal(pctStr, "pct"); err != nil {
		return nil, err
	}
	return &h, nil
}

func queryHoldings(ctx context.Context, q querier, portfolioId string) ([]models.Holding, error) {
	rows, err := q.QueryContext(ctx, queryGetHoldings, portfolioId)
	if err != nil {
		return nil, fmt.Errorf("unable to query holdings: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var holdings []models.Holding
	for rows.Next() {
		holding, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan holding row: %w", err)
		}
		holdings = append(holdings, *holding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating holding rows: %w", err)
	}
	return holdings, nil
}

func getPortfolioTx(ctx context.Context, tx *sql.Tx, userId string) (*models.Portfolio, error) {
	row := tx.QueryRowContext(ctx, queryGetPortfolioByUser, userId)
	portfolio, err := scanPortfolio(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", store.ErrPortfolioNotFound, userId)
		}
		return nil, fmt.Errorf("unable to query portfolio: %w", err)
	}
	return portfolio, nil
}

// applyDeltasTx mutates holdings inside tx and finishes with the
// version-checked portfolio total update and percentage recompute.
// Returns the new portfolio total.
func applyDeltasTx(ctx context.Context, tx *sql.Tx, portfolio *models.Portfolio, deltas []store.BalanceDelta) (decimal.Decimal, error) {
	newTotal := portfolio.TotalValue
	for _, delta := range deltas {
		row := tx.QueryRowContext(ctx, queryGetHolding, portfolio.Id, delta.ClassKey)
		holding, err := scanHolding(row)
		if errors.Is(err, sql.ErrNoRows) {
			holding = &models.Holding{
				Id:          uuid.New().String(),
				PortfolioId: portfolio.Id,
				ClassKey:    delta.ClassKey,
				AssetSymbol: delta.AssetSymbol,
				Units:       decimal.Zero,
				UsdValue:    decimal.Zero,
			}
			if _, err := tx.ExecContext(ctx, queryInsertHolding,
				holding.Id, holding.PortfolioId, holding.ClassKey, holding.AssetSymbol, "0", "0", "0"); err != nil {
				return decimal.Zero, fmt.Errorf("failed to create holding %s: %w", delta.ClassKey, err)
			}
		} else if err != nil {
			return decimal.Zero, fmt.Errorf("failed to get holding %s: %w", delta.ClassKey, err)
		}

		newUnits := holding.Units.Add(delta.Units)
		newUsd := holding.UsdValue.Add(delta.UsdValue)
		if _, err := tx.ExecContext(ctx, queryUpdateHolding,
			newUnits.String(), newUsd.String(), portfolio.Id, delta.ClassKey); err != nil {
			return decimal.Zero, fmt.Errorf("failed to update holding %s: %w", delta.ClassKey, err)
		}
		newTotal = newTotal.Add(delta.UsdValue)
	}

	if err := finishBalanceUpdate(ctx, tx, portfolio, newTotal); err != nil {
		return decimal.Zero, err
	}
	return newTotal, nil
}

// finishBalanceUpdate writes the new total with optimistic locking and
// recomputes each holding's percentage of the new total.
func finishBalanceUpdate(ctx context.Context, tx *sql.Tx, portfolio *models.Portfolio, newTotal decimal.Decimal) error {
	result, err := tx.ExecContext(ctx, queryUpdatePortfolioTotal, newTotal.String(), portfolio.Id, portfolio.Version)
	if err != nil {
		return fmt.Errorf("failed to update portfolio total: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("portfolio update failed - %w", store.ErrConcurrentModification)
	}

	holdings, err := queryHoldings(ctx, tx, portfolio.Id)
	if err != nil {
		return err
	}
	hundred := decimal.NewFromInt(100)
	for _, h := range holdings {
		pct := decimal.Zero
		if newTotal.IsPositive() {
			pct = h.UsdValue.Div(newTotal).Mul(hundred).Round(pctPrecision)
		}
		if _, err := tx.ExecContext(ctx, queryUpdateHoldingPct, pct.String(), portfolio.Id, h.ClassKey); err != nil {
			return fmt.Errorf("failed to update holding pct %s: %w", h.ClassKey, err)
		}
	}
	return nil
}
