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
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateSwapGroup creates a swap group or returns the existing one for the
// same idempotency key. The second return value reports whether the group
// already existed.
func (s *Service) CreateSwapGroup(ctx context.Context, params store.CreateSwapGroupParams) (*models.SwapGroup, bool, error) {
	existing, err := s.getSwapGroupByKey(ctx, params.IdempotencyKey)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	groupId := uuid.New().String()
	_, err = s.db.ExecContext(ctx, queryInsertSwapGroup,
		groupId, params.UserId, string(params.Kind), params.IdempotencyKey,
		params.Drift.String(), params.TotalValue.String())
	if err != nil {
		if isUniqueConstraintError(err) {
			// Lost the insert race; the winner's group is the one to use.
			existing, err := s.getSwapGroupByKey(ctx, params.IdempotencyKey)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load winning swap group: %w", err)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("failed to insert swap group: %w", err)
	}

	group, err := s.getSwapGroupByKey(ctx, params.IdempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load swap group: %w", err)
	}

	zap.L().Info("Swap group created",
		zap.String("group_id", group.Id),
		zap.String("user_id", params.UserId),
		zap.String("kind", string(params.Kind)),
		zap.String("idempotency_key", params.IdempotencyKey))
	return group, false, nil
}

// CreateSwapTransaction creates a PENDING swap or returns the existing one
// for the same order handle.
func (s *Service) CreateSwapTransaction(ctx context.Context, params store.CreateSwapParams) (*models.SwapTransaction, bool, error) {
	existing, err := s.GetSwapTransactionByHandle(ctx, params.OrderHandle)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, store.ErrSwapNotFound) {
		return nil, false, err
	}

	swapId := uuid.New().String()
	_, err = s.db.ExecContext(ctx, queryInsertSwapTransaction,
		swapId, params.UserId, params.PortfolioId, params.GroupId,
		params.FromClass, params.ToClass, params.FromAsset, params.ToAsset,
		params.UsdAmount.String(), params.EstimatedOut.String(),
		params.OrderHandle, "created")
	if err != nil {
		if isUniqueConstraintError(err) {
			existing, err := s.GetSwapTransactionByHandle(ctx, params.OrderHandle)
			if err != nil {
				return nil, false, fmt.Errorf("failed to load winning swap: %w", err)
			}
			return existing, true, nil
		}
		return nil, false, fmt.Errorf("failed to insert swap transaction: %w", err)
	}

	swap, err := s.GetSwapTransaction(ctx, swapId)
	if err != nil {
		return nil, false, err
	}

	zap.L().Info("Swap transaction created",
		zap.String("swap_id", swap.Id),
		zap.String("user_id", params.UserId),
		zap.String("from_class", params.FromClass),
		zap.String("to_class", params.ToClass),
		zap.String("usd_amount", params.UsdAmount.String()),
		zap.String("order_handle", params.OrderHandle))
	return swap, false, nil
}

func (s *Service) GetSwapTransaction(ctx context.Context, swapId string) (*models.SwapTransaction, error) {
	row := s.db.QueryRowContext(ctx, queryGetSwapTransaction, swapId)
	swap, err := scanSwapTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrSwapNotFound, swapId)
		}
		return nil, fmt.Errorf("unable to query swap transaction: %w", err)
	}
	return swap, nil
}

func (s *Service) GetSwapTransactionByHandle(ctx context.Context, orderHandle string) (*models.SwapTransaction, error) {
	row := s.db.QueryRowContext(ctx, queryGetSwapTransactionByHandle, orderHandle)
	swap, err := scanSwapTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: handle %s", store.ErrSwapNotFound, orderHandle)
		}
		return nil, fmt.Errorf("unable to query swap transaction: %w", err)
	}
	return swap, nil
}

func (s *Service) ListSwapTransactionsByStatus(ctx context.Context, status models.SwapStatus) ([]models.SwapTransaction, error) {
	rows, err := s.db.QueryContext(ctx, queryListSwapsByStatus, string(status))
	if err != nil {
		return nil, fmt.Errorf("unable to query swaps by status: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var swaps []models.SwapTransaction
	for rows.Next() {
		swap, err := scanSwapTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan swap row: %w", err)
		}
		swaps = append(swaps, *swap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating swap rows: %w", err)
	}
	return swaps, nil
}

// UpdateSwapProviderStatus records provider-side progress (created,
// submitted, and the provider's own terminal states). It never changes the
// ledger status.
func (s *Service) UpdateSwapProviderStatus(ctx context.Context, swapId, providerStatus string) error {
	result, err := s.db.ExecContext(ctx, queryUpdateSwapProviderStatus, providerStatus, swapId)
	if err != nil {
		return fmt.Errorf("unable to update provider status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", store.ErrSwapNotFound, swapId)
	}
	return nil
}

// CompleteSwapSettlement settles a swap exactly once: the PENDING ->
// COMPLETED transition, the balance deltas, and the ledger entries are one
// transactional unit. Returns (false, nil) without touching balances when the
// swap is no longer PENDING.
func (s *Service) CompleteSwapSettlement(ctx context.Context, params store.SettleSwapParams) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, queryGetSwapTransaction, params.SwapId)
	swap, err := scanSwapTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("%w: %s", store.ErrSwapNotFound, params.SwapId)
		}
		return false, fmt.Errorf("unable to query swap transaction: %w", err)
	}

	// Exactly-once gate: only the call that flips PENDING applies balances.
	result, err := tx.ExecContext(ctx, queryCompleteSwapTransaction,
		params.ActualOut.String(), params.SettlementTxHash, time.Now(), params.SwapId)
	if err != nil {
		return false, fmt.Errorf("failed to complete swap: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		zap.L().Warn("Swap already settled, skipping",
			zap.String("swap_id", params.SwapId),
			zap.String("status", string(swap.Status)))
		return false, nil
	}

	portfolio, err := getPortfolioTx(ctx, tx, swap.UserId)
	if err != nil {
		return false, err
	}
	balanceBefore := portfolio.TotalValue

	if _, err := applyDeltasTx(ctx, tx, portfolio, params.Deltas); err != nil {
		return false, err
	}

	// One ledger entry per side, out before in.
	running := balanceBefore
	for _, delta := range params.Deltas {
		entryType := "swap-in"
		if delta.UsdValue.IsNegative() {
			entryType = "swap-out"
		}
		after := running.Add(delta.UsdValue)
		if _, err := insertTransactionTx(ctx, tx, store.RecordTransactionParams{
			UserId:          swap.UserId,
			TransactionType: entryType,
			ClassKey:        delta.ClassKey,
			Asset:           delta.AssetSymbol,
			AmountUsd:       delta.UsdValue,
			Units:           delta.Units,
			Reference:       swap.OrderHandle,
		}, running, after); err != nil {
			return false, err
		}
		running = after
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Swap settled",
		zap.String("swap_id", params.SwapId),
		zap.String("user_id", swap.UserId),
		zap.String("actual_out", params.ActualOut.String()),
		zap.String("settlement_tx_hash", params.SettlementTxHash))
	return true, nil
}

// FailSwapTransaction marks a PENDING swap FAILED. Already-terminal swaps are
// left untouched.
func (s *Service) FailSwapTransaction(ctx context.Context, swapId, reason string) error {
	result, err := s.db.ExecContext(ctx, queryFailSwapTransaction, reason, swapId)
	if err != nil {
		return fmt.Errorf("unable to fail swap: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		zap.L().Warn("Swap not PENDING, fail skipped", zap.String("swap_id", swapId))
		return nil
	}

	zap.L().Info("Swap failed",
		zap.String("swap_id", swapId),
		zap.String("reason", reason))
	return nil
}

func (s *Service) getSwapGroupByKey(ctx context.Context, idempotencyKey string) (*models.SwapGroup, error) {
	row := s.db.QueryRowContext(ctx, queryGetSwapGroupByKey, idempotencyKey)

	var group models.SwapGroup
	var kind, driftStr, totalStr string
	if err := row.Scan(&group.Id, &group.UserId, &kind, &group.IdempotencyKey,
		&driftStr, &totalStr, &group.CreatedAt); err != nil {
		return nil, err
	}
	group.Kind = models.GroupKind(kind)

	var err error
	if group.Drift, err = parseDecimal(driftStr, "drift"); err != nil {
		return nil, err
	}
	if group.TotalValue, err = parseDecimal(totalStr, "total_value"); err != nil {
		return nil, err
	}
	return &group, nil
}

func scanSwapTransaction(row rowScanner) (*models.SwapTransaction, error) {
	var swap models.SwapTransaction
	var usdStr, estimatedStr, actualStr, status string
	var completedAt sql.NullTime
	if err := row.Scan(
		&swap.Id,
		&swap.UserId,
		&swap.PortfolioId,
		&swap.GroupId,
		&swap.FromClass,
		&swap.ToClass,
		&swap.FromAsset,
		&swap.ToAsset,
		&usdStr,
		&estimatedStr,
		&actualStr,
		&status,
		&swap.OrderHandle,
		&swap.ProviderStatus,
		&swap.SettlementTxHash,
		&swap.FailureReason,
		&swap.CreatedAt,
		&swap.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	swap.Status = models.SwapStatus(status)
	if completedAt.Valid {
		swap.CompletedAt = completedAt.Time
	}

	var err error
	if swap.UsdAmount, err = parseDecimal(usdStr, "usd_amount"); err != nil {
		return nil, err
	}
	if swap.EstimatedOut, err = parseDecimal(estimatedStr, "estimated_out"); err != nil {
		return nil, err
	}
	if swap.ActualOut, err = parseDecimal(actualStr, "actual_out"); err != nil {
		return nil, err
	}
	return &swap, nil
}
