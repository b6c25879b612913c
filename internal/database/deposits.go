package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kiota-savings-go/internal/models"
	"kiota-savings-go/internal/store"

	"go.uber.org/zap"
)

// IsEventProcessed reports whether the (chain, txHash, logIndex) marker exists.
func (s *Service) IsEventProcessed(ctx context.Context, chain, txHash string, logIndex uint) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, queryCheckEventProcessed, chain, txHash, logIndex).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check processed event: %w", err)
}

// MarkEventProcessed inserts the processed-event marker without crediting.
// Used when a session is abandoned but its matched event must never credit
// another session later.
func (s *Service) MarkEventProcessed(ctx context.Context, chain, txHash string, logIndex uint, sessionId string) error {
	_, err := s.db.ExecContext(ctx, queryInsertProcessedEvent, chain, txHash, logIndex, sessionId)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("event %s:%s:%d - %w", chain, txHash, logIndex, store.ErrEventAlreadyProcessed)
		}
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// CreditDeposit performs the one-time deposit credit as a single atomic unit:
// insert the processed-event marker, increase the stable-class holding,
// record the ledger entry, and move the session to CONFIRMED. The marker
// insert is the idempotency gate; a second call with the same event rolls
// back and returns ErrEventAlreadyProcessed.
func (s *Service) CreditDeposit(ctx context.Context, params store.CreditDepositParams) (*models.Transaction, error) {
	zap.L().Info("Crediting deposit",
		zap.String("session_id", params.SessionId),
		zap.String("user_id", params.UserId),
		zap.String("tx_hash", params.TxHash),
		zap.Uint("log_index", params.LogIndex),
		zap.String("amount", params.Amount.String()))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotency gate: claim the event marker first.
	var one int
	err = tx.QueryRowContext(ctx, queryCheckEventProcessed, params.Chain, params.TxHash, params.LogIndex).Scan(&one)
	if err == nil {
		zap.L().Warn("Deposit event already processed, skipping credit",
			zap.String("session_id", params.SessionId),
			zap.String("tx_hash", params.TxHash),
			zap.Uint("log_index", params.LogIndex))
		return nil, fmt.Errorf("event %s:%s:%d - %w", params.Chain, params.TxHash, params.LogIndex, store.ErrEventAlreadyProcessed)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check processed event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, queryInsertProcessedEvent,
		params.Chain, params.TxHash, params.LogIndex, params.SessionId); err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("event %s:%s:%d - %w", params.Chain, params.TxHash, params.LogIndex, store.ErrEventAlreadyProcessed)
		}
		return nil, fmt.Errorf("failed to insert processed event: %w", err)
	}

	portfolio, err := getPortfolioTx(ctx, tx, params.UserId)
	if err != nil {
		return nil, err
	}
	balanceBefore := portfolio.TotalValue

	// Stable-class units are 1:1 with USD.
	newTotal, err := applyDeltasTx(ctx, tx, portfolio, []store.BalanceDelta{{
		ClassKey:    params.ClassKey,
		AssetSymbol: params.AssetSymbol,
		Units:       params.Amount,
		UsdValue:    params.Amount,
	}})
	if err != nil {
		return nil, err
	}

	transaction, err := insertTransactionTx(ctx, tx, store.RecordTransactionParams{
		UserId:          params.UserId,
		TransactionType: "deposit",
		ClassKey:        params.ClassKey,
		Asset:           params.AssetSymbol,
		AmountUsd:       params.Amount,
		Units:           params.Amount,
		Reference:       params.TxHash,
	}, balanceBefore, newTotal)
	if err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx, queryConfirmSession, transaction.Id, time.Now(), params.SessionId)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// The session reached a terminal state concurrently. Roll everything
		// back so the event marker stays unclaimed.
		return nil, fmt.Errorf("session %s is not creditable - %w", params.SessionId, store.ErrEventAlreadyProcessed)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	zap.L().Info("Deposit credited",
		zap.String("session_id", params.SessionId),
		zap.String("user_id", params.UserId),
		zap.String("transaction_id", transaction.Id),
		zap.String("old_balance", balanceBefore.String()),
		zap.String("new_balance", newTotal.String()))

	return transaction, nil
}
