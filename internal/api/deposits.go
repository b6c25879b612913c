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
	"errors"
	"fmt"

	"kiota-savings-go/internal/deposit"
	"kiota-savings-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OpenDepositSession opens a deposit session and returns the receipt the
// caller needs to fund it: the address to pay, the acceptance band, and the
// deadline.
func (s *SavingsService) OpenDepositSession(ctx context.Context, userId, token string, expectedAmount decimal.Decimal) (*models.DepositSessionReceipt, error) {
	if userId == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	session, err := s.deposits.CreateSession(ctx, userId, token, expectedAmount)
	if err != nil {
		zap.L().Error("Failed to open deposit session",
			zap.String("user_id", userId),
			zap.String("token", token),
			zap.Error(err))
		return nil, err
	}

	return &models.DepositSessionReceipt{
		SessionId:      session.Id,
		DepositAddress: session.DepositAddress,
		Token:          session.Token,
		MinAmount:      session.MinAmount,
		MaxAmount:      session.MaxAmount,
		ExpiresAt:      session.ExpiresAt,
	}, nil
}

// ConfirmDepositSession runs one confirmation attempt and reports the session
// as a typed status. Waiting states (no transfer seen yet, confirmations
// still accruing) and expiry are statuses here, not errors; the recurring job
// keeps working regardless of how often callers poll this.
func (s *SavingsService) ConfirmDepositSession(ctx context.Context, sessionId string) (*models.DepositConfirmation, error) {
	if sessionId == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	confirmation, err := s.deposits.ConfirmSession(ctx, sessionId)
	if err == nil {
		return &models.DepositConfirmation{
			SessionId:     sessionId,
			Status:        confirmation.Status,
			MatchedAmount: confirmation.MatchedAmount,
			TxHash:        confirmation.TxHash,
			Confirmations: confirmation.Confirmations,
			Credited:      confirmation.Credited,
			TransactionId: confirmation.TransactionId,
		}, nil
	}

	switch {
	case errors.Is(err, deposit.ErrNoMatchYet),
		errors.Is(err, deposit.ErrAwaitingConfirmations),
		errors.Is(err, deposit.ErrSessionExpired):
		return s.depositStatusView(ctx, sessionId)
	default:
		zap.L().Error("Deposit confirmation failed",
			zap.String("session_id", sessionId),
			zap.Error(err))
		return nil, err
	}
}

// GetDepositSession returns the stored session state without running a
// confirmation attempt.
func (s *SavingsService) GetDepositSession(ctx context.Context, sessionId string) (*models.DepositSession, error) {
	if sessionId == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return s.db.GetDepositSession(ctx, sessionId)
}

// depositStatusView renders a waiting or expired session from stored state.
func (s *SavingsService) depositStatusView(ctx context.Context, sessionId string) (*models.DepositConfirmation, error) {
	session, err := s.db.GetDepositSession(ctx, sessionId)
	if err != nil {
		return nil, err
	}

	return &models.DepositConfirmation{
		SessionId:     sessionId,
		Status:        session.Status,
		MatchedAmount: session.MatchedAmount,
		TxHash:        session.MatchedTxHash,
		Credited:      session.Status == models.SessionConfirmed,
		TransactionId: session.LedgerTransactionId,
	}, nil
}
