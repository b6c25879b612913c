package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RecordTransaction writes a standalone ledger entry. The balance snapshot is
// taken from the current portfolio total; entries that move balances are
// written by the mutating operation itself (CreditDeposit,
// CompleteSwapSettlement) inside its transaction.
func (s *Service) RecordTransaction(ctx context.Context, params store.RecordTransactionParams) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	portfolio, err := getPortfolioTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}

	transaction, err := insertTransactionTx(ctx, tx, params, portfolio.TotalValue, portfolio.TotalValue)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return transaction, nil
}

// GetTransactionHistory returns paginated ledger history for a user, newest
// first.
func (s *Service) GetTransactionHistory(ctx context.Context, userId string, limit, offset int) ([]models.Transaction, error) {
	zap.L().Debug("Getting transaction history",
		zap.String("user_id", userId),
		zap.Int("limit", limit),
		zap.Int("offset", offset))

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, queryGetTransactionHistory, userId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var transactions []models.Transaction
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *transaction)
	}
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during transaction row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}

	return transactions, nil
}

// insertTransactionTx writes a ledger entry inside an open database
// transaction and returns the stored row.
func insertTransactionTx(ctx context.Context, tx *sql.Tx, params store.RecordTransactionParams, balanceBefore, balanceAfter decimal.Decimal) (*models.Transaction, error) {
	transactionId := uuid.New().String()
	now := time.Now()

	row := tx.QueryRowContext(ctx, queryInsertTransaction,
		transactionId, params.UserId, params.TransactionType, params.ClassKey, params.Asset,
		params.AmountUsd.String(), params.Units.String(),
		balanceBefore.String(), balanceAfter.String(),
		params.Reference, "confirmed", now, now)
	transaction, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger transaction: %w", err)
	}

	zap.L().Info("Ledger entry recorded",
		zap.String("transaction_id", transaction.Id),
		zap.String("user_id", params.UserId),
		zap.String("type", params.TransactionType),
		zap.String("class_key", params.ClassKey),
		zap.String("amount_usd", params.AmountUsd.String()),
		zap.String("balance_before", balanceBefore.String()),
		zap.String("balance_after", balanceAfter.String()))

	return transaction, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var amountStr, unitsStr, beforeStr, afterStr string
	if err := row.Scan(
		&t.Id, &t.UserId, &t.TransactionType, &t.ClassKey, &t.Asset,
		&amountStr, &unitsStr, &beforeStr, &afterStr,
		&t.Reference, &t.Status, &t.CreatedAt, &t.ProcessedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if t.AmountUsd, err = parseDecimal(amountStr, "amount_usd"); err != nil {
		return nil, err
	}
	if t.Units, err = parseDecimal(unitsStr, "units"); err != nil {
		return nil, err
	}
	if t.BalanceBefore, err = parseDecimal(beforeStr, "balance_before"); err != nil {
		return nil, err
	}
	if t.BalanceAfter, err = parseDecimal(afterStr, "balance_after"); err != nil {
		return nil, err
	}
	return &t, nil
}
